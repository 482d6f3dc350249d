package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	cron_config "github.com/customeros/mailreader/internal/cron/config"
	"github.com/customeros/mailreader/internal/logger"
	"github.com/customeros/mailreader/internal/tracing"
)

type Config struct {
	AppConfig       *AppConfig
	ImapConfig      *ImapConfig
	GmailConfig     *GmailConfig
	Logger          *logger.Config
	Tracing         *tracing.JaegerConfig
	DatabaseConfig  *DatabaseConfig
	R2StorageConfig *R2StorageConfig
	Cron            *cron_config.Config
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:       &AppConfig{},
		ImapConfig:      &ImapConfig{},
		GmailConfig:     &GmailConfig{},
		Logger:          &logger.Config{},
		Tracing:         &tracing.JaegerConfig{},
		DatabaseConfig:  &DatabaseConfig{},
		R2StorageConfig: &R2StorageConfig{},
		Cron:            &cron_config.Config{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
