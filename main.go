package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/customeros/mailreader/config"
	"github.com/customeros/mailreader/internal/database"
	"github.com/customeros/mailreader/internal/logger"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/repository"
	"github.com/customeros/mailreader/internal/utils"
	"github.com/customeros/mailreader/server"
	"github.com/customeros/mailreader/services"
)

func main() {
	app := &cli.App{
		Name:  "mailreader",
		Usage: "read mail boxes over IMAP and the Gmail API",
		Commands: []*cli.Command{
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: runServer,
			},
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: runMigrate,
			},
			{
				Name:  "boxes",
				Usage: "List the boxes of one account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Usage: "account id", Required: true},
				},
				Action: listBoxes,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("config initialization failed: %w", err)
	}

	db, err := database.NewConnection(cfg.DatabaseConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("database initialization failed: %w", err)
	}
	return cfg, db, nil
}

func runServer(c *cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Mailreader starting up...")

	srv, err := server.NewServer(cfg, db)
	if err != nil {
		return fmt.Errorf("server setup failed: %w", err)
	}

	if err := srv.Run(); err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}

	log.Println("Shutdown complete")
	return nil
}

func runMigrate(c *cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}

	if err := repository.Migrate(cfg.DatabaseConfig, db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed successfully")
	return nil
}

func listBoxes(c *cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()
	defer appLogger.Sync()

	svcs, err := services.InitServices(cfg, appLogger, repository.InitRepositories(db))
	if err != nil {
		return err
	}
	defer svcs.Close()

	ctx := context.Background()
	account, err := svcs.AccountService.Get(ctx, c.String("account"))
	if err != nil {
		return err
	}
	ctx = utils.SetIdentityInContext(ctx, account.ID)
	provider, err := svcs.ProviderFactory.ForAccount(ctx, account)
	if err != nil {
		return err
	}
	boxes, err := provider.ListBoxes(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(c.App.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(struct {
		Account string           `json:"account"`
		Boxes   []models.MailBox `json:"boxes"`
	}{Account: account.ID, Boxes: boxes})
}
