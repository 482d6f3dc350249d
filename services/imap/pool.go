package imap

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailreader/config"
	"github.com/customeros/mailreader/interfaces"
	"github.com/customeros/mailreader/internal/logger"
	"github.com/customeros/mailreader/internal/models"
	"github.com/customeros/mailreader/internal/tracing"
	"github.com/customeros/mailreader/internal/utils"
)

type pooledSession struct {
	// sem is held by the goroutine currently driving session
	sem     chan struct{}
	session *Session
	// retired entries were dropped from the pool; holders must look up again
	retired bool
}

// SessionPool keeps one live Session per identity and runs at most one
// operation against it at a time.
type SessionPool struct {
	cfg      *config.ImapConfig
	log      logger.Logger
	dial     dialFunc
	mu       sync.Mutex
	sessions map[string]*pooledSession
}

func NewSessionPool(cfg *config.ImapConfig, log logger.Logger) *SessionPool {
	return newSessionPool(cfg, log, newDialer(cfg))
}

func newSessionPool(cfg *config.ImapConfig, log logger.Logger, dial dialFunc) *SessionPool {
	return &SessionPool{
		cfg:      cfg,
		log:      log,
		dial:     dial,
		sessions: make(map[string]*pooledSession),
	}
}

func (p *SessionPool) entry(identity string) *pooledSession {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.sessions[identity]
	if !exists {
		entry = &pooledSession{sem: make(chan struct{}, 1)}
		p.sessions[identity] = entry
	}
	return entry
}

// acquire takes the semaphore of the identity's live entry.
func (p *SessionPool) acquire(ctx context.Context, identity string) (*pooledSession, error) {
	for {
		entry := p.entry(identity)
		select {
		case entry.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if !entry.retired {
			return entry, nil
		}
		<-entry.sem
	}
}

// retire removes entry from the pool. Caller holds entry.sem.
func (p *SessionPool) retire(identity string, entry *pooledSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions[identity] == entry {
		delete(p.sessions, identity)
	}
	entry.retired = true
}

// WithSession waits for exclusive use of the account's session and runs fn on
// it. If ctx ends first the caller gets ctx.Err(); fn keeps the session until
// its in-flight command returns, so the connection stays usable.
func (p *SessionPool) WithSession(ctx context.Context, account *models.MailAccount, fn func(ctx context.Context, session interfaces.MailSession) error) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SessionPool.WithSession")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)
	span.SetTag("account.id", account.Identity())

	entry, err := p.acquire(ctx, account.Identity())
	if err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() {
		defer func() { <-entry.sem }()
		defer func() {
			if r := recover(); r != nil {
				p.log.Errorf("[%s] Recovered from panic in session operation: %v", account.Identity(), r)
				done <- fmt.Errorf("session operation panicked: %v", r)
			}
		}()

		session, err := p.ready(ctx, entry, account)
		if err != nil {
			done <- err
			return
		}
		done <- fn(ctx, session)
	}()

	select {
	case err := <-done:
		tracing.TraceErr(span, err)
		return err
	case <-ctx.Done():
		span.SetTag("cancelled", true)
		return ctx.Err()
	}
}

// ready returns a connected session, reconnecting when the existing
// connection fails a NOOP. Caller holds entry.sem.
func (p *SessionPool) ready(ctx context.Context, entry *pooledSession, account *models.MailAccount) (*Session, error) {
	if entry.session == nil {
		entry.session = newSession(account, p.cfg, p.log, p.dial)
	}
	session := entry.session

	if session.State() != StateDisconnected {
		err := session.Ping(ctx)
		if err == nil {
			return session, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.log.Infof("[%s] Existing connection is broken: %v", account.Identity(), err)
		_ = session.Logout(ctx)
	}

	// pick up credential changes on reconnect
	session.account = account

	if err := session.Connect(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// CloseIdle logs out sessions unused for longer than maxIdle and drops them
// from the pool. Busy sessions are skipped.
func (p *SessionPool) CloseIdle(ctx context.Context, maxIdle time.Duration) int {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SessionPool.CloseIdle")
	defer span.Finish()
	tracing.SetDefaultImapSpanTags(ctx, span)

	closed := 0
	for identity, entry := range p.snapshot() {
		select {
		case entry.sem <- struct{}{}:
		default:
			continue
		}

		session := entry.session
		if session == nil || utils.Now().Sub(session.LastUsed()) > maxIdle {
			if session != nil && session.State() != StateDisconnected {
				if err := session.Logout(ctx); err != nil {
					p.log.Warnf("[%s] Error logging out idle session: %v", identity, err)
				}
				closed++
			}
			p.retire(identity, entry)
		}
		<-entry.sem
	}

	span.SetTag("sessions.closed", closed)
	return closed
}

// Close logs out every session, waiting up to 5s for each in-flight operation.
func (p *SessionPool) Close() {
	for identity, entry := range p.snapshot() {
		select {
		case entry.sem <- struct{}{}:
		case <-time.After(5 * time.Second):
			p.log.Warnf("[%s] Session still busy at shutdown", identity)
			continue
		}
		if entry.session != nil {
			_ = entry.session.Logout(context.Background())
		}
		p.retire(identity, entry)
		<-entry.sem
	}
}

func (p *SessionPool) Status() []interfaces.SessionStatus {
	var statuses []interfaces.SessionStatus
	for identity, entry := range p.snapshot() {
		status := interfaces.SessionStatus{Identity: identity, State: "busy"}

		select {
		case entry.sem <- struct{}{}:
			if entry.session != nil {
				status.State = entry.session.State().String()
				status.SelectedBox = entry.session.SelectedBox()
				status.IdleSeconds = int64(utils.Now().Sub(entry.session.LastUsed()).Seconds())
			} else {
				status.State = StateDisconnected.String()
			}
			<-entry.sem
		default:
		}

		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Identity < statuses[j].Identity
	})
	return statuses
}

func (p *SessionPool) snapshot() map[string]*pooledSession {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := make(map[string]*pooledSession, len(p.sessions))
	for identity, entry := range p.sessions {
		copied[identity] = entry
	}
	return copied
}
