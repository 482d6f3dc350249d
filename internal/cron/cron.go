package cron

import (
	"context"
	"os"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/customeros/mailreader/config"
	"github.com/customeros/mailreader/internal/logger"
	"github.com/customeros/mailreader/internal/tracing"
)

const (
	// GroupSessions is the group for IMAP session housekeeping jobs
	GroupSessions = "sessions"
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupSessions: new(sync.Mutex),
	},
}

// IdleSessionCloser is implemented by the IMAP session pool.
type IdleSessionCloser interface {
	CloseIdle(ctx context.Context, maxIdle time.Duration) int
}

// CronManager runs housekeeping on every pod. Sessions are pod-local, so
// there is no leader election.
type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	stopCh   chan struct{}
	stopOnce sync.Once
	jobIDs   map[string]cronv3.EntryID
	sessions IdleSessionCloser
}

func NewCronManager(cfg *config.Config, log logger.Logger, sessions IdleSessionCloser) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		sessions: sessions,
	}
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	cm.stopOnce.Do(func() {
		if cm.cron != nil {
			cm.log.Info("Stopping cron manager")
			ctx := cm.cron.Stop()
			// Wait for jobs to finish
			<-ctx.Done()
		}
		close(cm.stopCh)
	})
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) error {
	cronConfig := cm.cfg.Cron

	if cronConfig.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			return err
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	if cronConfig.CronScheduleIdleSessions != "" && cm.sessions != nil {
		id, err := c.AddFunc(cronConfig.CronScheduleIdleSessions, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupSessions].Lock()
			defer jobLocks.locks[GroupSessions].Unlock()
			cm.closeIdleSessions()
		})
		if err != nil {
			return err
		}
		cm.jobIDs["idle_sessions"] = id
		cm.log.Infof("Registered idle sessions job with schedule: %s", cronConfig.CronScheduleIdleSessions)
	}
	return nil
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() error {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	if err := cm.registerJobs(c); err != nil {
		return err
	}
	c.Start()
	cm.cron = c
	return nil
}

func (cm *CronManager) closeIdleSessions() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.closeIdleSessions")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	closed := cm.sessions.CloseIdle(ctx, cm.cfg.ImapConfig.IdleLogout)
	if closed > 0 {
		cm.log.Infof("Logged out %d idle IMAP sessions", closed)
	}
}
