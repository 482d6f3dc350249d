package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailreader/config"
	cron_config "github.com/customeros/mailreader/internal/cron/config"
	"github.com/customeros/mailreader/internal/logger"
)

type fakeSessions struct {
	mu      sync.Mutex
	calls   int
	maxIdle time.Duration
}

func (f *fakeSessions) CloseIdle(ctx context.Context, maxIdle time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.maxIdle = maxIdle
	return 1
}

func testConfig(cronConfig *cron_config.Config) *config.Config {
	return &config.Config{
		ImapConfig: &config.ImapConfig{IdleLogout: 25 * time.Minute},
		Cron:       cronConfig,
	}
}

func TestNewCronManager(t *testing.T) {
	// Arrange
	cfg := testConfig(&cron_config.Config{})
	log := logger.NewNopLogger()

	// Act
	cm := NewCronManager(cfg, log, &fakeSessions{})

	// Assert
	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_RegisterJobs(t *testing.T) {
	// Arrange
	cm := NewCronManager(testConfig(&cron_config.Config{
		CronScheduleHeartbeat:    "0 * * * * *",
		CronScheduleIdleSessions: "0 */5 * * * *",
	}), logger.NewNopLogger(), &fakeSessions{})
	c := cronv3.New(cronv3.WithSeconds())

	// Act
	err := cm.registerJobs(c)

	// Assert
	require.NoError(t, err)
	assert.Len(t, cm.jobIDs, 2)
	assert.Contains(t, cm.jobIDs, "idle_sessions")
}

func TestCronManager_RegisterJobs_InvalidSchedule(t *testing.T) {
	// Arrange
	cm := NewCronManager(testConfig(&cron_config.Config{
		CronScheduleIdleSessions: "not a schedule",
	}), logger.NewNopLogger(), &fakeSessions{})

	// Act
	err := cm.registerJobs(cronv3.New(cronv3.WithSeconds()))

	// Assert
	assert.Error(t, err)
}

func TestCronManager_CloseIdleSessions(t *testing.T) {
	// Arrange
	sessions := &fakeSessions{}
	cm := NewCronManager(testConfig(&cron_config.Config{}), logger.NewNopLogger(), sessions)

	// Act
	cm.closeIdleSessions()

	// Assert
	assert.Equal(t, 1, sessions.calls)
	assert.Equal(t, 25*time.Minute, sessions.maxIdle)
}

func TestCronManager_Stop(t *testing.T) {
	// Arrange
	cm := NewCronManager(testConfig(&cron_config.Config{}), logger.NewNopLogger(), &fakeSessions{})
	require.NoError(t, cm.StartCron())

	// Act
	cm.Stop()
	cm.Stop()

	// Assert
	select {
	case <-cm.stopCh:
	default:
		t.Error("Stop channel was not closed")
	}
}
