// Package update polls the public "when is the next client update" service
// and fires a restart trigger once the announced update time has passed the
// moment this process started.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rustdocker/rustctl/pkg/logger"
)

const (
	DefaultURL      = "https://whenisupdate.com/api.json"
	DefaultReferer  = "rust-docker-server"
	DefaultTimeout  = 10 * time.Second
	DefaultInterval = 5 * time.Minute

	// TriggerSource is passed to the trigger callback.
	TriggerSource = "update"

	maxBodySize = 1 << 20
)

var (
	// ErrUnexpectedStatus is returned for any non-200 response.
	ErrUnexpectedStatus = errors.New("unexpected status code")

	// ErrMalformedStatus is returned when the body cannot be decoded.
	ErrMalformedStatus = errors.New("malformed update status")
)

// Config controls the polling loop. Zero fields take the package defaults.
type Config struct {
	URL      string
	Referer  string
	Timeout  time.Duration
	Interval time.Duration

	// StartEpoch is the Unix time the process started. An announced update
	// at or after it means the running server is out of date.
	StartEpoch int64
}

// Dependencies are the collaborators of a Watcher.
type Dependencies struct {
	// Trigger starts the restart. Required.
	Trigger func(source string) bool

	// IsRestarting reports whether a restart is already underway, in which
	// case polling stops without touching the network.
	IsRestarting func() bool

	Client *http.Client
	Clock  clockwork.Clock
	Logger logger.Logger
}

// Watcher polls the update status endpoint until it triggers a restart.
type Watcher struct {
	cfg          Config
	client       *http.Client
	clock        clockwork.Clock
	log          logger.Logger
	trigger      func(string) bool
	isRestarting func() bool
}

// New returns a Watcher. deps.Trigger must be set.
func New(config *Config, deps *Dependencies) *Watcher {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Referer == "" {
		cfg.Referer = DefaultReferer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	w := &Watcher{
		cfg:          cfg,
		client:       deps.Client,
		clock:        deps.Clock,
		log:          deps.Logger,
		trigger:      deps.Trigger,
		isRestarting: deps.IsRestarting,
	}
	if w.client == nil {
		w.client = http.DefaultClient
	}
	if w.clock == nil {
		w.clock = clockwork.NewRealClock()
	}
	if w.log == nil {
		w.log = logger.NewNopLogger()
	}
	if w.isRestarting == nil {
		w.isRestarting = func() bool { return false }
	}
	return w
}

// Run polls until an update is detected, a restart is already underway, or
// ctx ends. Failed polls are logged and retried after the interval; they
// never stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if w.isRestarting() {
			w.log.Debug("restart in progress, skipping client update check")
			return nil
		}

		w.log.Info("checking if a client update is available")
		updated, err := w.Check(ctx)
		switch {
		case err != nil:
			w.log.Warning("client update check failed: %v", err)
		case updated:
			w.log.Info("client update is out, forcing a restart")
			w.trigger(TriggerSource)
			return nil
		default:
			w.log.Debug("client update not out yet")
		}

		select {
		case <-w.clock.After(w.cfg.Interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Check performs a single poll and reports whether an update newer than
// the process start time has been announced.
func (w *Watcher) Check(ctx context.Context) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, w.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Referer", w.cfg.Referer)

	resp, err := w.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch update status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return false, fmt.Errorf("read update status: %w", err)
	}

	var status Status
	if err := json.Unmarshal(body, &status); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedStatus, err)
	}
	latest, ok, err := status.LatestEpoch()
	if err != nil || !ok {
		return false, err
	}
	w.log.Debug("latest client update at %d, process started at %d", latest, w.cfg.StartEpoch)
	return latest >= w.cfg.StartEpoch, nil
}
