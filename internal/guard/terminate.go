package guard

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/mitchellh/go-ps"
	"github.com/rustdocker/rustctl/pkg/logger"
)

// DefaultSupervisor is the executable name of the process that supervises
// the game server inside its container.
const DefaultSupervisor = "bash"

// ErrNoSupervisor is returned when no process matches the supervisor name.
var ErrNoSupervisor = errors.New("no supervising process found")

// Terminator signals every process group led by a process with a given
// executable name, the way `kill -s 2 $(pidof bash)` would, but reaching
// the whole group. Group 1 and the agent's own group are signalled by PID
// only. It never retries and never verifies the outcome.
type Terminator struct {
	name   string
	signal syscall.Signal
	self   int
	log    logger.Logger

	list    func() ([]ps.Process, error)
	getpgid func(pid int) (int, error)
	kill    func(pid int, sig syscall.Signal) error
}

// NewTerminator returns a Terminator for processes named name. An empty
// name means DefaultSupervisor; a zero signal means SIGINT.
func NewTerminator(name string, sig syscall.Signal, log logger.Logger) *Terminator {
	if name == "" {
		name = DefaultSupervisor
	}
	if sig == 0 {
		sig = syscall.SIGINT
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Terminator{
		name:    name,
		signal:  sig,
		self:    os.Getpid(),
		log:     log,
		list:    ps.Processes,
		getpgid: getpgid,
		kill:    kill,
	}
}

// Terminate signals the supervisor's process groups once. Errors for
// individual processes are joined; the caller is expected to log them and
// carry on.
func (t *Terminator) Terminate() error {
	procs, err := t.list()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	// Our own group is never addressed as a whole.
	selfGroup, err := t.getpgid(t.self)
	if err != nil {
		selfGroup = 0
	}

	var (
		matched int
		errs    []error
		seen    = make(map[int]bool)
	)
	for _, p := range procs {
		if p.Executable() != t.name || p.Pid() == t.self {
			continue
		}
		matched++

		target := p.Pid()
		if pgid, err := t.getpgid(p.Pid()); err == nil && usableGroup(pgid, selfGroup) {
			target = -pgid
		}
		if seen[target] {
			continue
		}
		seen[target] = true

		t.log.Warning("sending %s to %s (pid %d, target %d)", t.signal, t.name, p.Pid(), target)
		if err := t.kill(target, t.signal); err != nil {
			errs = append(errs, fmt.Errorf("signal %d: %w", target, err))
		}
	}
	if matched == 0 {
		return fmt.Errorf("%w: %q", ErrNoSupervisor, t.name)
	}
	return errors.Join(errs...)
}

// usableGroup reports whether pgid can be signalled as a group. kill(2)
// treats -1 as "every process", so group 1 (init leading its own group, as
// bash does as a container entrypoint) is signalled by PID instead.
func usableGroup(pgid, selfGroup int) bool {
	return pgid > 1 && pgid != selfGroup
}
