package restart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rustdocker/rustctl/internal/guard"
	"github.com/rustdocker/rustctl/pkg/logger"
	"github.com/rustdocker/rustctl/pkg/rcon"
	"github.com/spf13/afero"
)

type sentCommand struct {
	at  time.Time
	msg string
}

type fakeConn struct {
	clock   clockwork.Clock
	sent    chan sentCommand
	closed  chan websocket.StatusCode
	sendErr error
}

func newFakeConn(clock clockwork.Clock) *fakeConn {
	return &fakeConn{
		clock:  clock,
		sent:   make(chan sentCommand, 32),
		closed: make(chan websocket.StatusCode, 4),
	}
}

func (c *fakeConn) Send(_ context.Context, cmd rcon.Command) error {
	c.sent <- sentCommand{at: c.clock.Now(), msg: cmd.Message}
	return c.sendErr
}

func (c *fakeConn) Close(code websocket.StatusCode) error {
	c.closed <- code
	return nil
}

type countingTerminator struct {
	calls atomic.Int32
}

func (c *countingTerminator) Terminate() error {
	c.calls.Add(1)
	return nil
}

type harness struct {
	ctx    context.Context
	cancel context.CancelFunc
	clock  *clockwork.FakeClock
	conn   *fakeConn
	marker *guard.Marker
	term   *countingTerminator
	log    *logger.MockLogger
	dials  atomic.Int32
	o      *Orchestrator
}

func newHarness(t *testing.T, dial func(h *harness, ctx context.Context) (Conn, error)) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 5, 19, 0, 0, 0, time.UTC))
	h := &harness{
		ctx:    ctx,
		cancel: cancel,
		clock:  clock,
		conn:   newFakeConn(clock),
		marker: guard.NewMarker(afero.NewMemMapFs(), guard.DefaultLockPath),
		term:   &countingTerminator{},
		log:    logger.NewMockLogger(),
	}
	if dial == nil {
		dial = func(h *harness, _ context.Context) (Conn, error) { return h.conn, nil }
	}
	o, err := New(ctx, nil, &Dependencies{
		Dial: func(ctx context.Context) (Conn, error) {
			h.dials.Add(1)
			return dial(h, ctx)
		},
		Marker:     h.marker,
		Terminator: h.term,
		Clock:      clock,
		Logger:     h.log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.o = o
	return h
}

// advanceWhen waits until waiters timers are pending, then moves the clock.
func (h *harness) advanceWhen(t *testing.T, waiters int, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, waiters); err != nil {
		t.Fatalf("waiting for %d timers: %v", waiters, err)
	}
	h.clock.Advance(d)
}

func (h *harness) nextSent(t *testing.T) sentCommand {
	t.Helper()
	select {
	case s := <-h.conn.sent:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a command")
		return sentCommand{}
	}
}

func (h *harness) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-h.o.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not terminate")
	}
}

// runCountdown drives the sequence from trigger through session close and
// returns every command sent.
func (h *harness) runCountdown(t *testing.T) []sentCommand {
	t.Helper()
	var sent []sentCommand
	h.advanceWhen(t, 2, DefaultSettleDelay)
	sent = append(sent, h.nextSent(t))
	for i := 0; i < 4; i++ {
		h.advanceWhen(t, 2, DefaultNoticeInterval)
		sent = append(sent, h.nextSent(t))
	}
	h.advanceWhen(t, 2, DefaultKickDelay)
	sent = append(sent, h.nextSent(t))
	h.advanceWhen(t, 2, DefaultQuitDelay)
	sent = append(sent, h.nextSent(t))
	h.advanceWhen(t, 2, DefaultCloseDelay)
	select {
	case code := <-h.conn.closed:
		if code != websocket.StatusNormalClosure {
			t.Errorf("close code = %d, want %d", code, websocket.StatusNormalClosure)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session was not closed")
	}
	return sent
}

func TestOrchestrator_FullSequence(t *testing.T) {
	h := newHarness(t, nil)
	start := h.clock.Now()

	if !h.o.Trigger("update") {
		t.Fatal("first Trigger returned false")
	}
	if ok, _ := h.marker.Exists(); !ok {
		t.Fatal("lock marker not created on trigger")
	}

	sent := h.runCountdown(t)
	want := []string{
		NoticeMessage(5), NoticeMessage(4), NoticeMessage(3), NoticeMessage(2), NoticeMessage(1),
		DefaultKickMessage, DefaultQuitMessage,
	}
	if len(sent) != len(want) {
		t.Fatalf("sent %d commands, want %d", len(sent), len(want))
	}
	for i, w := range want {
		if sent[i].msg != w {
			t.Errorf("command %d = %q, want %q", i, sent[i].msg, w)
		}
	}
	if got := sent[0].at.Sub(start); got != time.Second {
		t.Errorf("first notice after %s, want 1s", got)
	}
	for i := 1; i < 5; i++ {
		if gap := sent[i].at.Sub(sent[i-1].at); gap < time.Minute {
			t.Errorf("notice %d only %s after the previous one", i, gap)
		}
	}
	if gap := sent[5].at.Sub(sent[4].at); gap != time.Minute {
		t.Errorf("kick %s after last notice, want 1m", gap)
	}

	// The lock is still held, so the watchdog escalates at the budget.
	h.advanceWhen(t, 1, DefaultEscalationGrace)
	h.waitDone(t)

	if got := h.term.calls.Load(); got != 1 {
		t.Errorf("Terminate called %d times, want 1", got)
	}
	if ok, _ := h.marker.Exists(); ok {
		t.Error("lock marker not removed before escalation")
	}
	if h.o.State() != Terminated {
		t.Errorf("State() = %s, want terminated", h.o.State())
	}
	if got := h.clock.Now().Sub(start); got != h.o.Budget() {
		t.Errorf("escalated after %s, want %s", got, h.o.Budget())
	}
}

func TestOrchestrator_NoEscalationWhenMarkerReleased(t *testing.T) {
	h := newHarness(t, nil)
	h.o.Trigger("deadline")
	h.runCountdown(t)

	// The server's supervisor clears the marker once it has restarted.
	if err := h.marker.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	h.advanceWhen(t, 1, DefaultEscalationGrace)
	h.waitDone(t)

	if got := h.term.calls.Load(); got != 0 {
		t.Errorf("Terminate called %d times, want 0", got)
	}
}

func TestOrchestrator_ConcurrentTriggers(t *testing.T) {
	h := newHarness(t, nil)

	var (
		wins  atomic.Int32
		wg    sync.WaitGroup
		ready = make(chan struct{})
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-ready
			source := "update"
			if i%2 == 0 {
				source = "deadline"
			}
			if h.o.Trigger(source) {
				wins.Add(1)
			}
		}(i)
	}
	close(ready)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("%d triggers won, want exactly 1", got)
	}

	sent := h.runCountdown(t)
	if len(sent) != 7 {
		t.Errorf("sent %d commands, want 7", len(sent))
	}
	if got := h.dials.Load(); got != 1 {
		t.Errorf("dialled %d sessions, want 1", got)
	}
	select {
	case extra := <-h.conn.sent:
		t.Errorf("unexpected extra command %q", extra.msg)
	default:
	}
}

func TestOrchestrator_TriggerAfterTerminated(t *testing.T) {
	h := newHarness(t, nil)
	if h.o.State() != Idle || h.o.IsRestarting() {
		t.Fatalf("fresh orchestrator state = %s", h.o.State())
	}
	h.o.Trigger("update")
	if !h.o.IsRestarting() {
		t.Fatal("IsRestarting false after trigger")
	}
	h.runCountdown(t)
	h.advanceWhen(t, 1, DefaultEscalationGrace)
	h.waitDone(t)

	if h.o.Trigger("deadline") {
		t.Error("Trigger after termination started another sequence")
	}
	if h.o.State() != Terminated {
		t.Errorf("State() = %s, want terminated", h.o.State())
	}
}

func TestOrchestrator_TriggerAfterCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.cancel()

	if h.o.Trigger("deadline") {
		t.Fatal("Trigger won after the context ended")
	}
	if h.o.State() != Idle {
		t.Errorf("State() = %s, want idle", h.o.State())
	}
	if exists, _ := h.marker.Exists(); exists {
		t.Error("lock marker created without a watchdog to remove it")
	}
	if got := h.dials.Load(); got != 0 {
		t.Errorf("dialed %d times after cancel", got)
	}
}

func TestOrchestrator_DialFailureEscalates(t *testing.T) {
	h := newHarness(t, func(*harness, context.Context) (Conn, error) {
		return nil, errors.New("connection refused")
	})
	h.o.Trigger("update")

	h.advanceWhen(t, 1, h.o.Budget())
	h.waitDone(t)

	if got := h.term.calls.Load(); got != 1 {
		t.Errorf("Terminate called %d times, want 1", got)
	}
	if len(h.log.ErrorCalls()) == 0 {
		t.Error("dial failure was not logged")
	}
	select {
	case s := <-h.conn.sent:
		t.Errorf("command %q sent without a session", s.msg)
	default:
	}
}

func TestOrchestrator_StalledSessionEscalatesOnce(t *testing.T) {
	h := newHarness(t, func(_ *harness, ctx context.Context) (Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h.o.Trigger("update")

	h.advanceWhen(t, 1, h.o.Budget())

	deadline := time.After(5 * time.Second)
	for h.term.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("watchdog never escalated")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if ok, _ := h.marker.Exists(); ok {
		t.Error("lock marker still present after escalation")
	}

	select {
	case <-h.o.Done():
		t.Fatal("terminated while the session was still stalled")
	default:
	}
	h.cancel()
	h.waitDone(t)
	if got := h.term.calls.Load(); got != 1 {
		t.Errorf("Terminate called %d times, want 1", got)
	}
}

func TestOrchestrator_SendErrorsDoNotStopSequence(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.sendErr = errors.New("broken pipe")
	h.o.Trigger("update")

	sent := h.runCountdown(t)
	if len(sent) != 7 {
		t.Fatalf("attempted %d sends, want 7", len(sent))
	}
	if got := len(h.log.WarningCalls()); got != 7 {
		t.Errorf("logged %d send warnings, want 7", got)
	}
}

func TestOrchestrator_OnStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(clock)

	var (
		mu     sync.Mutex
		states []string
	)
	o, err := New(ctx, &Config{Countdown: []CountdownStep{{RemainingMinutes: 1, Message: NoticeMessage(1)}}}, &Dependencies{
		Dial:  func(context.Context) (Conn, error) { return conn, nil },
		Clock: clock,
		OnStep: func(s Step) {
			mu.Lock()
			states = append(states, s.State)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.Trigger("test")

	// Without a marker there is no watchdog, only the sequence timer.
	for _, d := range []time.Duration{DefaultSettleDelay, DefaultKickDelay, DefaultQuitDelay, DefaultCloseDelay} {
		bctx, bcancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := clock.BlockUntilContext(bctx, 1); err != nil {
			bcancel()
			t.Fatalf("BlockUntilContext: %v", err)
		}
		bcancel()
		clock.Advance(d)
	}
	select {
	case <-o.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not terminate")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{StateConnect, "notice-1", StateKick, StateQuit, StateClose}
	if len(states) != len(want) {
		t.Fatalf("OnStep states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("OnStep[%d] = %q, want %q", i, states[i], want[i])
		}
	}
}

func TestNew_Validation(t *testing.T) {
	dial := func(context.Context) (Conn, error) { return nil, nil }
	if _, err := New(context.Background(), nil, nil); !errors.Is(err, ErrNoDialer) {
		t.Errorf("nil deps: got %v, want ErrNoDialer", err)
	}
	bad := &Config{Countdown: []CountdownStep{{RemainingMinutes: 2}, {RemainingMinutes: 3}}}
	if _, err := New(context.Background(), bad, &Dependencies{Dial: dial}); !errors.Is(err, ErrInvalidCountdown) {
		t.Errorf("bad countdown: got %v, want ErrInvalidCountdown", err)
	}
	o, err := New(context.Background(), nil, &Dependencies{Dial: dial})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if o.Budget() != 303*time.Second+DefaultEscalationGrace {
		t.Errorf("Budget() = %s", o.Budget())
	}
}

func TestOrchestrator_Wait(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := h.o.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() on idle orchestrator = %v, want DeadlineExceeded", err)
	}

	h.o.Trigger("update")
	h.cancel()
	if err := h.o.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if h.o.State() != Terminated {
		t.Errorf("State() = %s, want %s", h.o.State(), Terminated)
	}
	if got := h.term.calls.Load(); got != 0 {
		t.Errorf("terminator called %d times after cancel", got)
	}
}

// watchedMarker reports its removal through Released, as an OS file marker
// does.
type watchedMarker struct {
	*guard.Marker
	released chan struct{}
}

func (m *watchedMarker) Released(context.Context) (<-chan struct{}, error) {
	return m.released, nil
}

func TestOrchestrator_ReleaseEndsWatchdogEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClock()
	conn := newFakeConn(clock)
	marker := &watchedMarker{
		Marker:   guard.NewMarker(afero.NewMemMapFs(), guard.DefaultLockPath),
		released: make(chan struct{}),
	}
	term := &countingTerminator{}
	o, err := New(ctx, &Config{Countdown: []CountdownStep{}}, &Dependencies{
		Dial:       func(context.Context) (Conn, error) { return conn, nil },
		Marker:     marker,
		Terminator: term,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.Trigger("update")

	// Kick, quit and close run on the sequence timer next to the watchdog.
	for _, d := range []time.Duration{DefaultSettleDelay, DefaultQuitDelay, DefaultCloseDelay} {
		bctx, bcancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := clock.BlockUntilContext(bctx, 2); err != nil {
			bcancel()
			t.Fatalf("BlockUntilContext: %v", err)
		}
		bcancel()
		clock.Advance(d)
	}
	select {
	case <-conn.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("session was not closed")
	}

	close(marker.released)
	select {
	case <-o.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog kept waiting after the marker was released")
	}
	if got := term.calls.Load(); got != 0 {
		t.Errorf("Terminate called %d times, want 0", got)
	}
}
