package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Idle IMAP session logout, every five minutes
	CronScheduleIdleSessions string `env:"CRON_SCHEDULE_IDLE_SESSIONS" envDefault:"0 */5 * * * *"`
}
