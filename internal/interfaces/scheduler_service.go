package interfaces

// SchedulerService manages cron-based recurring ingestion runs
type SchedulerService interface {
	// Start registers the configured schedules and starts the cron runner
	Start() error

	// Stop halts the cron runner
	Stop() error

	// TriggerNow submits the named schedule's ingestion immediately.
	// Returns the submitted job ID.
	TriggerNow(name string) (string, error)

	// IsRunning returns true if the scheduler is active
	IsRunning() bool
}
