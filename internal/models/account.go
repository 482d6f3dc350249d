package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/mailreader/internal/enum"
	"github.com/customeros/mailreader/internal/utils"
)

// MailAccount holds the transport credentials the retrieval core needs for one identity.
type MailAccount struct {
	ID       string            `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Provider enum.MailProvider `gorm:"column:provider;type:varchar(20);index;not null" json:"provider"`
	Email    string            `gorm:"column:email;type:varchar(255);index;not null" json:"email"`
	// IMAP Configuration
	ImapServer        string                 `gorm:"column:imap_server;type:varchar(255)" json:"imapServer,omitempty"`
	ImapPort          int                    `gorm:"column:imap_port" json:"imapPort,omitempty"`
	ImapSecurity      enum.EmailSecurity     `gorm:"column:imap_security;type:varchar(20);default:tls" json:"imapSecurity,omitempty"`
	ImapUsername      string                 `gorm:"column:imap_username;type:varchar(255)" json:"imapUsername,omitempty"`
	ImapPassword      string                 `gorm:"column:imap_password;type:varchar(255)" json:"-"`
	ImapAuthMechanism enum.ImapAuthMechanism `gorm:"column:imap_auth_mechanism;type:varchar(20);default:password" json:"imapAuthMechanism,omitempty"`
	// OAuth Configuration
	AccessToken string         `gorm:"column:access_token;type:text" json:"-"`
	Scopes      pq.StringArray `gorm:"column:scopes;type:text[]" json:"scopes,omitempty"`
	// Standard timestamps
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (MailAccount) TableName() string {
	return "mail_accounts"
}

func (a *MailAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	return nil
}

// Identity is the key under which sessions and cache entries are scoped.
func (a *MailAccount) Identity() string {
	return a.ID
}

// ImapLogin returns the username used for LOGIN / OAUTHBEARER, defaulting to the email.
func (a *MailAccount) ImapLogin() string {
	if a.ImapUsername != "" {
		return a.ImapUsername
	}
	return a.Email
}

// AccountInput is what a caller supplies to register an account.
type AccountInput struct {
	Provider          enum.MailProvider      `json:"provider"`
	Email             string                 `json:"email"`
	ImapServer        string                 `json:"imapServer"`
	ImapPort          int                    `json:"imapPort"`
	ImapSecurity      enum.EmailSecurity     `json:"imapSecurity"`
	ImapUsername      string                 `json:"imapUsername"`
	ImapPassword      string                 `json:"imapPassword"`
	ImapAuthMechanism enum.ImapAuthMechanism `json:"imapAuthMechanism"`
	AccessToken       string                 `json:"accessToken"`
	Scopes            []string               `json:"scopes"`
}
