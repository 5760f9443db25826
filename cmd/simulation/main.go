package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"econsim.com/pkg/company"
	"econsim.com/pkg/config"
	"econsim.com/pkg/deposit"
	"econsim.com/pkg/extraction"
	"econsim.com/pkg/idgen"
	"econsim.com/pkg/journal"
	"econsim.com/pkg/ledger"
	"econsim.com/pkg/market"
	"econsim.com/pkg/metrics"
	"econsim.com/pkg/nats"
	"econsim.com/pkg/production"
	"econsim.com/pkg/sim"
	"econsim.com/pkg/store"
)

func main() {
	demo := flag.Bool("demo", false, "seed two companies and trade between them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. 存储
	// -------------------------------------------------------------------------
	db, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close(db)

	if cfg.AutoMigrate {
		if err := store.Migrate(db); err != nil {
			log.Fatalf("Failed to migrate: %v", err)
		}
	}

	ids, err := idgen.NewSnowflake(cfg.SnowflakeNode)
	if err != nil {
		log.Fatalf("Failed to create id generator: %v", err)
	}

	l := ledger.New(db)
	companies := company.NewRepo(db)
	deposits := deposit.NewRepo(db)

	// 2. 流水 (Kafka)
	// -------------------------------------------------------------------------
	var journalPub journal.Publisher = journal.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := journal.NewKafkaPublisher(cfg.KafkaBrokers)
		if err != nil {
			log.Fatalf("Failed to create journal producer: %v", err)
		}
		defer kp.Close()
		journalPub = kp
		log.Printf("✅ Ledger journal -> kafka %v", cfg.KafkaBrokers)

		if cfg.JournalWriter {
			writerCfg := journal.DefaultDBWriterConfig(cfg.KafkaBrokers)
			writer, err := journal.NewDBWriter(writerCfg, journal.NewRepo(db))
			if err != nil {
				log.Fatalf("Failed to create journal writer: %v", err)
			}
			writer.Start(writerCfg.FlushInterval)
			defer writer.Stop()
			log.Println("✅ Journal DB writer started")
		}
	}

	// 3. 行情事件 (NATS + 进程内广播 + Redis 统计)
	// -------------------------------------------------------------------------
	broadcaster := market.NewBroadcaster()
	defer broadcaster.Close()
	events := market.MultiPublisher{broadcaster}

	var (
		tickPub  sim.TickPublisher
		natsConn *natsgo.Conn
	)
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, "econsim")
		if err != nil {
			log.Fatalf("Failed to connect NATS: %v", err)
		}
		np := nats.NewPublisherWithConn(natsConn)
		defer np.Close()
		events = append(events, market.NewNATSPublisher(np))
		tickPub = sim.NewNATSTickPublisher(np)
		log.Printf("✅ Events -> nats %s", cfg.NATSURL)
	}

	// 统计缓存: 有 NATS 时走队列订阅 (多实例只更新一次)，否则走进程内广播
	var lastPrices market.LastPriceSource
	if cfg.RedisAddr != "" {
		cache := market.NewRedisStatsCacheAddr(cfg.RedisAddr)
		defer cache.Close()
		lastPrices = cache
		updater := market.NewStatsUpdater(cache)

		if natsConn != nil {
			sub := nats.NewSubscriberWithConn(natsConn, updater.HandleNATS)
			if err := sub.SubscribeQueue(nats.SubjectTrades, "econsim-stats"); err != nil {
				log.Fatalf("Failed to subscribe trades: %v", err)
			}
			defer sub.Close()
		} else {
			go updater.Run(ctx, broadcaster.Subscribe())
		}
		log.Printf("✅ Market stats cache -> redis %s", cfg.RedisAddr)
	}

	engine := market.NewEngine(market.EngineConfig{
		DB:        db,
		Ledger:    l,
		Companies: companies,
		IDs:       ids,
		Events:    events,
		Journal:   journalPub,
	})
	query := market.NewQuery(db, lastPrices)

	// 4. 模拟时钟
	// -------------------------------------------------------------------------
	speed, err := sim.NewSpeed(cfg.InitialSpeed)
	if err != nil {
		log.Fatalf("Invalid initial speed: %v", err)
	}
	extTicker := extraction.NewTicker(db, l, deposits, journalPub)
	clock := sim.NewClock(sim.ClockConfig{
		Speed:      speed,
		Extraction: extTicker,
		Production: production.NewTicker(db, l, journalPub),
		Jobs:       production.NewJobs(db, l, journalPub),
		Events:     tickPub,
	})

	scheduler := sim.NewScheduler(clock, cfg.TickInterval)
	scheduler.Start(ctx)
	defer scheduler.Stop()
	log.Printf("✅ Simulation clock started (speed=%.2fx, interval=%s)", speed.Get(), cfg.TickInterval)

	// 5. 指标
	// -------------------------------------------------------------------------
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Metrics] server: %v", err)
		}
	}()
	log.Printf("✅ Metrics on %s/metrics", cfg.MetricsAddr)

	if *demo {
		if err := runDemo(ctx, companies, deposits, extTicker, engine, query); err != nil {
			log.Fatalf("Failed to seed demo: %v", err)
		}
	}

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("🛑 Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	srv.Shutdown(shutdownCtx)
	cancel()
}

// =============================================================================
// 演示数据
// =============================================================================

const (
	demoOre      int64 = 1
	demoLocation int64 = 1
)

// runDemo 一家矿业公司开采矿石并挂卖，另一家公司持续买入
func runDemo(ctx context.Context, companies *company.Repo, deposits *deposit.Repo,
	ext *extraction.Ticker, engine *market.Engine, query *market.Query) error {

	if err := companies.CreateGood(ctx, &company.Good{ID: demoOre, Name: "Iron Ore", Category: company.CategoryRaw}); err != nil {
		return err
	}
	home := demoLocation
	miner := &company.Company{Name: "Demo Mining", HomeLocationID: &home}
	buyer := &company.Company{Name: "Demo Foundry", Cash: 10_000_000, HomeLocationID: &home}
	if err := companies.Create(ctx, miner); err != nil {
		return err
	}
	if err := companies.Create(ctx, buyer); err != nil {
		return err
	}

	if _, err := deposits.Create(ctx, demoLocation, demoOre, ledger.Whole(100_000)); err != nil {
		return err
	}
	if _, err := ext.CreateSite(ctx, miner.ID, demoLocation, demoOre, decimal.NewFromInt(3600)); err != nil {
		return err
	}
	log.Printf("[Demo] miner=%d buyer=%d", miner.ID, buyer.ID)

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				price := int64(90 + rand.Intn(20))
				_, _, err := engine.PlaceOrder(ctx, market.PlaceOrderRequest{
					CompanyID: miner.ID, GoodID: demoOre, OrderType: market.SideSell,
					Quantity: 1, PricePerUnit: price,
				})
				if err != nil && !errors.Is(err, ledger.ErrInsufficientFreeInventory) {
					log.Printf("[Demo] sell: %v", err)
				}
				_, trades, err := engine.PlaceOrder(ctx, market.PlaceOrderRequest{
					CompanyID: buyer.ID, GoodID: demoOre, OrderType: market.SideBuy,
					Quantity: 1, PricePerUnit: 100,
				})
				if err != nil {
					log.Printf("[Demo] buy: %v", err)
					continue
				}
				if len(trades) > 0 {
					if st, err := query.Stats(ctx, demoOre); err == nil && st.LastPrice != nil {
						log.Printf("[Demo] traded, last price=%d", *st.LastPrice)
					}
				}
			}
		}
	}()
	return nil
}
