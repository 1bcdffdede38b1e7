package db

import (
	"context"
	"fmt"
	"time"

	"brickshop/internal/config"
	"brickshop/internal/domain/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect はDBに接続して *gorm.DB を返す。
func Connect(cfg config.Config) (*gorm.DB, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresSSLMode,
		)
	}

	logLevel := logger.Warn
	if cfg.IsProduction() {
		logLevel = logger.Error
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		//一意制約違反を gorm.ErrDuplicatedKey に揃える
		TranslateError: true,
		Logger:         logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return gdb, nil
}

// Models はマイグレーション対象
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.Address{},
		&model.Product{},
		&model.InventoryAdjustment{},
		&model.Cart{},
		&model.CartItem{},
		&model.Coupon{},
		&model.Order{},
		&model.OrderItem{},
		&model.Shipment{},
		&model.TrackingEvent{},
		&model.WebhookEvent{},
		&model.AuditLog{},
	}
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(Models()...)
}
