// 文件: pkg/store/store.go
// 数据库连接与表结构迁移
// 生产环境使用 MySQL，本地/单机可用 SQLite

package store

import (
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"econsim.com/pkg/company"
	"econsim.com/pkg/config"
	"econsim.com/pkg/deposit"
	"econsim.com/pkg/extraction"
	"econsim.com/pkg/journal"
	"econsim.com/pkg/ledger"
	"econsim.com/pkg/market"
	"econsim.com/pkg/production"
)

// Open 按配置打开数据库
func Open(cfg config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "mysql":
		dialector = mysql.Open(cfg.DBDSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidDriver, cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DBDriver == "sqlite" {
		// SQLite 没有行锁，写事务只能串行
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}

	log.Printf("[Store] Opened %s database", cfg.DBDriver)
	return db, nil
}

// Models 全部持久化模型
func Models() []any {
	return []any{
		&company.Company{},
		&company.Good{},
		&ledger.Inventory{},
		&deposit.Deposit{},
		&extraction.Site{},
		&production.Building{},
		&production.Recipe{},
		&production.Job{},
		&market.Order{},
		&market.Trade{},
		&journal.JournalRecord{},
	}
}

// Migrate 自动迁移
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close 关闭连接池
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
