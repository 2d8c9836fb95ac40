package mysql

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var (
	dbInstance *gorm.DB
	once       sync.Once
	initErr    error
)

// GetDB 使用单例模式初始化并返回事实账本所在的 GORM 数据库实例。
// driver=sqlite 时使用本地文件, 用于单机模式。
func GetDB(cfg *config.MySQLConfig) (*gorm.DB, error) {
	once.Do(func() {
		db, err := Open(cfg)
		if err != nil {
			initErr = err
			return
		}
		log.Println("✅ 成功连接到账本数据库!")
		dbInstance = db
	})

	return dbInstance, initErr
}

// Open 按配置打开一个新的连接 (不经过单例)。
func Open(cfg *config.MySQLConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Warn), TranslateError: true}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		db, err = OpenSQLite(cfg.SQLitePath, gcfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.Username,
			cfg.Password,
			cfg.Address,
			cfg.Database,
		)
		// 账本的时间戳保留到微秒。
		precision := 6
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                      dsn,
			DefaultDatetimePrecision: &precision,
		}), gcfg)
		if err != nil {
			return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("无法获取底层 SQL DB 实例: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	return db, nil
}

// OpenSQLite 打开一个 sqlite 数据库。sqlite 只允许单写者, 因此连接池固定为 1。
func OpenSQLite(dsn string, gcfg *gorm.Config) (*gorm.DB, error) {
	if gcfg == nil {
		gcfg = &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent), TranslateError: true}
	}
	db, err := gorm.Open(sqlite.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("无法打开 sqlite '%s': %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("无法获取底层 SQL DB 实例: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// AutoMigrate 创建或更新所有账本相关的表。
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.AllTables()...); err != nil {
		return fmt.Errorf("账本表迁移失败: %w", err)
	}
	return nil
}

// Close 安全地关闭单例的数据库连接。
func Close() error {
	if dbInstance != nil {
		sqlDB, err := dbInstance.DB()
		if err != nil {
			return fmt.Errorf("❌ 获取底层 SQL DB 实例失败: %w", err)
		}
		return sqlDB.Close()
	}
	return nil
}

// HealthCheck 检查数据库连接的健康状况。
func HealthCheck(ctx context.Context) error {
	if dbInstance == nil {
		return fmt.Errorf("数据库连接未初始化")
	}
	sqlDB, err := dbInstance.DB()
	if err != nil {
		return fmt.Errorf("无法获取底层 SQL DB 实例进行健康检查: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
