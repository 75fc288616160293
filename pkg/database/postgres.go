package database

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"stockmaster/pkg/logger"
)

// InitDB 初始化数据库连接
// dsn: 数据库连接字符串
// models: 需要自动建表/迁移的结构体指针
func InitDB(dsn string, debug bool, models ...interface{}) *gorm.DB {
	logMode := gormlogger.Default.LogMode(gormlogger.Warn)
	if debug {
		logMode = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logMode,
	})
	if err != nil {
		logger.L().Fatalf("数据库连接失败: %v", err)
	}

	// 连接池参数
	sqlDB, err := db.DB()
	if err != nil {
		logger.L().Fatalf("获取底层 SQL DB 失败: %v", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			logger.L().Fatalf("自动建表出错: %v", err)
		}
	}

	logger.L().Info("数据库连接成功")
	return db
}
