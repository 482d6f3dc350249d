package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/customeros/mailreader/config"
)

var logLevels = map[string]logger.LogLevel{
	"SILENT": logger.Silent,
	"ERROR":  logger.Error,
	"WARN":   logger.Warn,
	"INFO":   logger.Info,
}

func NewConnection(dbConfig *config.DatabaseConfig) (*gorm.DB, error) {
	if err := validateConfig(dbConfig); err != nil {
		return nil, err
	}

	portInt, err := strconv.Atoi(dbConfig.Port)
	if err != nil {
		return nil, fmt.Errorf("invalid port number: %w", err)
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host, portInt, dbConfig.User, dbConfig.Password, dbConfig.DBName, sslMode(dbConfig),
	)

	level, ok := logLevels[strings.ToUpper(dbConfig.LogLevel)]
	if !ok {
		level = logger.Warn
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	ConfigurePool(dbConfig, db)
	if err := sqlDB.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to reach database")
	}

	return db, nil
}

// ConfigurePool applies the configured pool limits, falling back to sane defaults.
func ConfigurePool(dbConfig *config.DatabaseConfig, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}

	maxIdle, maxOpen, lifetime := 10, 100, time.Hour
	if dbConfig.MaxIdleConn > 0 {
		maxIdle = dbConfig.MaxIdleConn
	}
	if dbConfig.MaxConn > 0 {
		maxOpen = dbConfig.MaxConn
	}
	if dbConfig.ConnMaxLifetime > 0 {
		lifetime = time.Duration(dbConfig.ConnMaxLifetime) * time.Minute
	}

	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(lifetime)
}

func sslMode(dbConfig *config.DatabaseConfig) string {
	if dbConfig.SSLMode == "" {
		return "disable"
	}
	return dbConfig.SSLMode
}

func validateConfig(dbConfig *config.DatabaseConfig) error {
	switch {
	case dbConfig == nil:
		return errors.New("database config is nil")
	case dbConfig.Host == "":
		return errors.New("database host config is empty")
	case dbConfig.Port == "":
		return errors.New("database port config is empty")
	case dbConfig.User == "":
		return errors.New("database user config is empty")
	case dbConfig.Password == "":
		return errors.New("database password config is empty")
	case dbConfig.DBName == "":
		return errors.New("database name config is empty")
	}
	return nil
}
