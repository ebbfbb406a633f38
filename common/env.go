// Package common provides the constants shared by the rustctl commands and
// the agent: environment variable names and connection defaults.
package common

// Environment variable names for configuration.
const (
	// RconHostEnv overrides the RCON host.
	RconHostEnv = "RUST_RCON_HOST"

	// RconPortEnv is the RCON port of the game server.
	RconPortEnv = "RUST_RCON_PORT"

	// RconPasswordEnv is the RCON password of the game server.
	RconPasswordEnv = "RUST_RCON_PASSWORD"

	// DebugEnv is the environment variable to enable debug mode.
	DebugEnv = "RUSTCTL_DEBUG"

	// LockFileEnv overrides the restart lock marker path.
	LockFileEnv = "RUSTCTL_LOCK_FILE"

	// SupervisorEnv overrides the process name signalled on escalation.
	SupervisorEnv = "RUSTCTL_SUPERVISOR"

	// StatusURLEnv overrides the update status endpoint.
	StatusURLEnv = "RUSTCTL_STATUS_URL"

	// ScheduleEnv is a cron expression replacing the fixed restart deadline.
	ScheduleEnv = "RUSTCTL_SCHEDULE"

	// LogFileEnv is a file the restart agent appends its log to.
	LogFileEnv = "RUSTCTL_LOG_FILE"
)
