package repository

import (
	"gorm.io/gorm"

	"github.com/customeros/mailreader/config"
	"github.com/customeros/mailreader/interfaces"
	"github.com/customeros/mailreader/internal/database"
	"github.com/customeros/mailreader/internal/models"
)

type Repositories struct {
	AccountRepository interfaces.AccountRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository: NewAccountRepository(db),
	}
}

// Migrate runs AutoMigrate on a narrow pool, then restores the configured limits.
func Migrate(dbConfig *config.DatabaseConfig, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	err = db.AutoMigrate(
		&models.MailAccount{},
	)

	database.ConfigurePool(dbConfig, db)

	return err
}
