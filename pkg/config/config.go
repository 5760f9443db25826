// 文件: pkg/config/config.go
// 进程配置，从 ECONSIM_* 环境变量读取

package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	ErrInvalidDriver = errors.New("unsupported database driver")
	ErrInvalidSpeed  = errors.New("initial speed must be a positive finite number")
	ErrInvalidNode   = errors.New("snowflake node must be in [0, 1023]")
)

// Config 进程配置
// 外部连接 (Kafka/NATS/Redis) 地址为空时对应功能关闭
type Config struct {
	DBDriver string `env:"ECONSIM_DB_DRIVER" envDefault:"mysql"`
	DBDSN    string `env:"ECONSIM_DB_DSN"    envDefault:"root:root@tcp(127.0.0.1:3306)/econsim?charset=utf8mb4&parseTime=True&loc=UTC"`

	DBMaxOpenConns int  `env:"ECONSIM_DB_MAX_OPEN_CONNS" envDefault:"20"`
	DBMaxIdleConns int  `env:"ECONSIM_DB_MAX_IDLE_CONNS" envDefault:"10"`
	AutoMigrate    bool `env:"ECONSIM_AUTO_MIGRATE"      envDefault:"true"`

	NATSURL      string   `env:"ECONSIM_NATS_URL"`
	KafkaBrokers []string `env:"ECONSIM_KAFKA_BROKERS" envSeparator:","`
	RedisAddr    string   `env:"ECONSIM_REDIS_ADDR"`

	// JournalWriter 本进程同时消费流水并落库
	JournalWriter bool `env:"ECONSIM_JOURNAL_WRITER" envDefault:"false"`

	SnowflakeNode int64 `env:"ECONSIM_SNOWFLAKE_NODE" envDefault:"1"`

	TickInterval time.Duration `env:"ECONSIM_TICK_INTERVAL" envDefault:"1s"`
	InitialSpeed float64       `env:"ECONSIM_INITIAL_SPEED" envDefault:"1"`

	MetricsAddr string `env:"ECONSIM_METRICS_ADDR" envDefault:":9100"`
}

// Load 解析环境变量并校验
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 校验
func (c Config) Validate() error {
	switch c.DBDriver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.DBDriver)
	}
	if c.InitialSpeed <= 0 || math.IsNaN(c.InitialSpeed) || math.IsInf(c.InitialSpeed, 0) {
		return ErrInvalidSpeed
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		return ErrInvalidNode
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive: %s", c.TickInterval)
	}
	return nil
}
