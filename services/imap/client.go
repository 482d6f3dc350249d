package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailreader/config"
	"github.com/customeros/mailreader/internal/enum"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/tracing"
)

// imapClient is the subset of *client.Client a Session drives.
type imapClient interface {
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Create(name string) error
	Close() error
	Noop() error
	Logout() error
	Terminate() error
	State() imap.ConnState
	SetTimeout(d time.Duration)
}

type clientAdapter struct {
	*client.Client
}

func (a clientAdapter) SetTimeout(d time.Duration) {
	a.Timeout = d
}

type dialFunc func(ctx context.Context, account *models.MailAccount) (imapClient, error)

// newDialer returns the production dialer: TLS, STARTTLS or plain, then
// LOGIN or AUTHENTICATE OAUTHBEARER depending on the account.
func newDialer(cfg *config.ImapConfig) dialFunc {
	return func(ctx context.Context, account *models.MailAccount) (imapClient, error) {
		return connect(ctx, cfg, account)
	}
}

func connect(ctx context.Context, cfg *config.ImapConfig, account *models.MailAccount) (imapClient, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.connect")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("account.id", account.ID)
	span.SetTag("server", account.ImapServer)
	span.SetTag("port", account.ImapPort)
	span.SetTag("security", account.ImapSecurity)

	serverAddr := fmt.Sprintf("%s:%d", account.ImapServer, account.ImapPort)

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	tlsConfig := &tls.Config{
		ServerName:         account.ImapServer,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}

	var c *client.Client
	var err error

	if account.ImapSecurity.ImplicitTLS() {
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to connect to %s", serverAddr)
	}

	c.Timeout = timeoutFor(ctx, cfg.CommandTimeout)
	defer func() { c.Timeout = 0 }()

	if account.ImapSecurity == enum.EmailSecurityStartTLS {
		if err = c.StartTLS(tlsConfig); err != nil {
			c.Logout()
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "failed to start TLS")
		}
	}

	caps, err := c.Capability()
	if err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to get capabilities")
	}
	span.SetTag("server.capabilities", fmt.Sprintf("%v", caps))

	if err = login(c, account); err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return nil, err
	}

	log.Printf("[%s] Connected and logged in to %s", account.ID, serverAddr)
	span.SetTag("success", true)

	return clientAdapter{Client: c}, nil
}

func login(c *client.Client, account *models.MailAccount) error {
	username := account.ImapLogin()

	if account.ImapAuthMechanism != enum.ImapAuthOAuthBearer {
		if err := c.Login(username, account.ImapPassword); err != nil {
			return errors.Wrapf(err, "failed to login as %s", username)
		}
		return nil
	}

	supported, err := c.SupportAuth(sasl.OAuthBearer)
	if err != nil {
		return errors.Wrap(err, "failed to check auth mechanisms")
	}
	if !supported {
		return errors.Errorf("server does not support %s", sasl.OAuthBearer)
	}

	auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: username,
		Token:    account.AccessToken,
		Host:     account.ImapServer,
		Port:     account.ImapPort,
	})
	if err = c.Authenticate(auth); err != nil {
		return errors.Wrapf(err, "failed to authenticate as %s", username)
	}
	return nil
}

// timeoutFor converts the context deadline into a go-imap command timeout.
func timeoutFor(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining
		}
		return time.Millisecond
	}
	return fallback
}

// isTransportError checks whether err means the connection is gone.
func isTransportError(c imapClient, err error) bool {
	if err == nil {
		return false
	}
	if c != nil && c.State() == imap.LogoutState {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, client.ErrAlreadyLoggedOut) || errors.Is(err, net.ErrClosed) {
		return true
	}

	errorMsg := err.Error()
	return strings.Contains(errorMsg, "connection closed") ||
		strings.Contains(errorMsg, "i/o timeout") ||
		strings.Contains(errorMsg, "EOF") ||
		strings.Contains(errorMsg, "connection reset")
}
