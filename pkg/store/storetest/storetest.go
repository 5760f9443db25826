// 文件: pkg/store/storetest/storetest.go
// 测试用 SQLite 数据库
//
// SQLite 不支持行锁，gorm 的 sqlite 方言会忽略 FOR UPDATE;
// 单连接 + 写事务串行化保证测试里的事务语义。

package storetest

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 在临时目录创建数据库并迁移给定模型
func Open(t testing.TB, models ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "econsim.db") + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	return db
}
