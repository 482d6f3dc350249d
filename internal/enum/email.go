package enum

type MailProvider string

const (
	ProviderIMAP  MailProvider = "imap"
	ProviderGmail MailProvider = "gmail"
)

func (t MailProvider) String() string {
	return string(t)
}

func (t MailProvider) IsValid() bool {
	return t == ProviderIMAP || t == ProviderGmail
}

type EmailSecurity string

const (
	EmailSecurityNone     EmailSecurity = "none"
	EmailSecuritySSL      EmailSecurity = "ssl"
	EmailSecurityTLS      EmailSecurity = "tls"
	EmailSecurityStartTLS EmailSecurity = "startTLS"
)

func (t EmailSecurity) String() string {
	return string(t)
}

// ImplicitTLS reports whether the connection is wrapped in TLS from the first byte.
func (t EmailSecurity) ImplicitTLS() bool {
	return t == EmailSecurityTLS || t == EmailSecuritySSL
}

type ImapAuthMechanism string

const (
	ImapAuthPassword    ImapAuthMechanism = "password"
	ImapAuthOAuthBearer ImapAuthMechanism = "oauthbearer"
)

func (t ImapAuthMechanism) String() string {
	return string(t)
}

type ContentType string

const (
	ContentTypeText ContentType = "text"
	ContentTypeHTML ContentType = "html"
)

func (t ContentType) String() string {
	return string(t)
}
