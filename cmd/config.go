package cmd

import (
	"time"

	"github.com/rustdocker/rustctl/internal/restart"
)

// Relay and shutdown timings. Variables so tests can shorten them.
var (
	// relaySettleDelay is the pause between the session opening and the
	// command being sent.
	relaySettleDelay = 250 * time.Millisecond

	// relayListenWindow is how long replies are printed after sending.
	relayListenWindow = time.Second

	shutdownSettleDelay = time.Second
	shutdownCloseDelay  = time.Second

	// restartTuning overrides the restart sequence; nil keeps the defaults.
	restartTuning *restart.Config
)

const DESCRIPTION = `
rustctl keeps a dedicated game server current. It watches for client
updates, warns connected players with an in-game countdown, then kicks
everybody and shuts the server down so its supervisor can update and
start it again.
`

const (
	RestartDescription = `The restart command runs the restart agent. It polls the
update status service and, once an update is announced or the
restart deadline (or the next --schedule tick) passes, counts down
from 5 minutes in game, kicks all players and quits the server. If the server is still up well
after the countdown, its supervisor is terminated.

Example:
        rustctl restart --port 28016 --password secret
                    OR
        RUST_RCON_PORT=28016 RUST_RCON_PASSWORD=secret rustctl restart --progress
        rustctl restart --port 28016 --schedule "0 4 * * *" --log-file /var/log/rustctl.log

`
	RconDescription = `The rcon command relays a single console command to the
server and prints whatever it answers within a second.

Example:
        rustctl rcon say hello everybody
        rustctl rcon status

`
	ShutdownDescription = `The shutdown command asks the server to quit right away,
without any countdown.

Example:
        rustctl shutdown

`
)
