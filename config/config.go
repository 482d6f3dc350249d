package config

import (
	"time"
)

type AppConfig struct {
	APIPort         string `env:"PORT,required" envDefault:"12222"`
	APIKey          string `env:"API_KEY,required"`
	RabbitMQURL     string `env:"RABBITMQ_URL"`
	CacheTTLSeconds int    `env:"CACHE_TTL_SECONDS" envDefault:"300"`
}

func (c *AppConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

type ImapConfig struct {
	DialTimeout    time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	CommandTimeout time.Duration `env:"IMAP_COMMAND_TIMEOUT" envDefault:"30s"`
	FetchTimeout   time.Duration `env:"IMAP_FETCH_TIMEOUT" envDefault:"2m"`
	IdleLogout     time.Duration `env:"IMAP_IDLE_LOGOUT" envDefault:"25m"`
	SkipTLSVerify  bool          `env:"IMAP_SKIP_TLS_VERIFY" envDefault:"false"`
}

type GmailConfig struct {
	BaseURL             string  `env:"GMAIL_API_BASE_URL" envDefault:"https://gmail.googleapis.com/"`
	RequestsPerSecond   float64 `env:"GMAIL_REQUESTS_PER_SECOND" envDefault:"10"`
	Burst               int     `env:"GMAIL_BURST" envDefault:"20"`
	MetadataConcurrency int     `env:"GMAIL_METADATA_CONCURRENCY" envDefault:"8"`
	IncludeSpamTrash    bool    `env:"GMAIL_INCLUDE_SPAM_TRASH" envDefault:"false"`
}

type DatabaseConfig struct {
	Host            string `env:"MAILREADER_POSTGRES_HOST,required"`
	Port            string `env:"MAILREADER_POSTGRES_PORT,required"`
	User            string `env:"MAILREADER_POSTGRES_USER,required"`
	DBName          string `env:"MAILREADER_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILREADER_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILREADER_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"MAILREADER_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"MAILREADER_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"MAILREADER_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILREADER_POSTGRES_SSL_MODE"`
}

// R2StorageConfig is optional; without an account id attachments are served
// straight from the mail store.
type R2StorageConfig struct {
	AccountID        string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID      string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret  string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	AttachmentBucket string `env:"BUCKET_NAME_EMAIL_ATTACHMENT" envDefault:"attachments"`
}

func (c *R2StorageConfig) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != ""
}
