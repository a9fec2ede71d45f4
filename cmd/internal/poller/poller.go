package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the poller lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateChecking
	StateRefreshing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateChecking:
		return "checking"
	case StateRefreshing:
		return "refreshing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// API is the server surface the poller drives. *Client implements it.
type API interface {
	CheckUpdates(ctx context.Context, cursor time.Time) (CheckResult, error)
	ListMessages(ctx context.Context) ([]Message, error)
	SearchMessages(ctx context.Context, query string) ([]Message, error)
	SendMessage(ctx context.Context, text string) (Message, error)
	EditMessage(ctx context.Context, id, text string) (Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

const defaultInterval = 10 * time.Second

// Config tunes a Poller.
type Config struct {
	// Interval between freshness checks. Defaults to 10s.
	Interval time.Duration

	// OnView receives the full replacement message list after every
	// refresh. Called from the poller goroutine.
	OnView func([]Message)

	// OnAuthLost is called once when the server rejects the session.
	// The poller stops afterwards.
	OnAuthLost func(error)
}

// Poller drives the client half of the freshness protocol: check on a timer,
// refetch the whole list when the server signals updates, and stamp the
// cursor at local refresh-completion time.
//
// The cursor is deliberately set to local "now" rather than the server's
// reported check time. A write landing during the refetch window may already
// be covered by the fetched list or not; either way the next check catches it
// because the server watermark will exceed the cursor. Eventually consistent,
// not linearizable.
type Poller struct {
	log      *slog.Logger
	api      API
	interval time.Duration

	onView     func([]Message)
	onAuthLost func(error)

	mu       sync.Mutex
	state    State
	inFlight bool
	cursor   time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Poller in StateIdle. Start begins polling.
func New(log *slog.Logger, api API, cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	onView := cfg.OnView
	if onView == nil {
		onView = func([]Message) {}
	}
	onAuthLost := cfg.OnAuthLost
	if onAuthLost == nil {
		onAuthLost = func(error) {}
	}
	return &Poller{
		log:        log,
		api:        api,
		interval:   interval,
		onView:     onView,
		onAuthLost: onAuthLost,
		state:      StateIdle,
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Cursor returns the current cursor value. Zero until the first refresh.
func (p *Poller) Cursor() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Start arms the polling loop: one immediate check, then one per interval.
// Starting a stopped or already-started poller is an error; there is no
// resume, build a fresh Poller instead.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		st := p.state
		p.mu.Unlock()
		return errors.New("poller already " + st.String())
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.state = StatePolling
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.loop(ctx)
	return nil
}

// Stop tears the poller down. It cancels the timer, waits for any in-flight
// cycle, and leaves the poller in StateStopped for good.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.state == StateIdle || p.state == StateStopped {
		if p.state == StateIdle {
			p.state = StateStopped
		}
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.state = StateStopped
		close(p.done)
		p.mu.Unlock()
	}()

	// First check fires immediately.
	if !p.cycle(ctx) {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.cycle(ctx) {
				return
			}
		}
	}
}

// cycle runs one check-then-maybe-refresh pass. It returns false when the
// poller must stop.
func (p *Poller) cycle(ctx context.Context) bool {
	if !p.begin(StateChecking) {
		// Previous cycle still running; skip this tick.
		return true
	}
	defer p.end()

	res, err := p.api.CheckUpdates(ctx, p.Cursor())
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			p.log.Info("poller.auth_lost")
			p.onAuthLost(err)
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		p.log.Warn("poller.check.fail", "error", err)
		return true
	}
	if !res.HasUpdates {
		p.setState(StatePolling)
		return true
	}

	p.setState(StateRefreshing)
	if err := p.refresh(ctx); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			p.log.Info("poller.auth_lost")
			p.onAuthLost(err)
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		// Retried implicitly on the next tick.
		p.log.Warn("poller.refresh.fail", "error", err)
	}
	p.setState(StatePolling)
	return true
}

// refresh refetches the full list, swaps the view, then advances the cursor.
// Cursor last: it must only move once the view reflects the fetch.
func (p *Poller) refresh(ctx context.Context) error {
	msgs, err := p.api.ListMessages(ctx)
	if err != nil {
		return err
	}
	p.onView(msgs)

	p.mu.Lock()
	p.cursor = time.Now().UTC()
	p.mu.Unlock()
	return nil
}

// Refresh forces an immediate refetch and cursor advance outside the timer.
// Mutation helpers call it so the local view shows the caller's own writes
// right away.
func (p *Poller) Refresh(ctx context.Context) error {
	if !p.begin(StateRefreshing) {
		return errors.New("cycle already in flight")
	}
	defer func() {
		p.setState(StatePolling)
		p.end()
	}()
	return p.refresh(ctx)
}

// Send creates a message and immediately refreshes the local view.
func (p *Poller) Send(ctx context.Context, text string) (Message, error) {
	msg, err := p.api.SendMessage(ctx, text)
	if err != nil {
		return Message{}, err
	}
	if err := p.Refresh(ctx); err != nil {
		p.log.Warn("poller.send.refresh.fail", "error", err)
	}
	return msg, nil
}

// Edit updates a message and immediately refreshes the local view.
func (p *Poller) Edit(ctx context.Context, id, text string) (Message, error) {
	msg, err := p.api.EditMessage(ctx, id, text)
	if err != nil {
		return Message{}, err
	}
	if err := p.Refresh(ctx); err != nil {
		p.log.Warn("poller.edit.refresh.fail", "error", err)
	}
	return msg, nil
}

// Delete removes a message and immediately refreshes the local view.
func (p *Poller) Delete(ctx context.Context, id string) error {
	if err := p.api.DeleteMessage(ctx, id); err != nil {
		return err
	}
	if err := p.Refresh(ctx); err != nil {
		p.log.Warn("poller.delete.refresh.fail", "error", err)
	}
	return nil
}

// Search runs a one-shot substring query. It never touches the cursor or the
// polling view; on failure it falls back to a full refresh so the caller is
// not left with a broken view.
func (p *Poller) Search(ctx context.Context, query string) ([]Message, error) {
	msgs, err := p.api.SearchMessages(ctx, query)
	if err != nil {
		if rerr := p.Refresh(ctx); rerr != nil {
			p.log.Warn("poller.search.fallback.fail", "error", rerr)
		}
		return nil, err
	}
	return msgs, nil
}

func (p *Poller) begin(st State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight || p.state == StateStopped {
		return false
	}
	p.inFlight = true
	p.state = st
	return true
}

func (p *Poller) end() {
	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()
}

func (p *Poller) setState(st State) {
	p.mu.Lock()
	if p.state != StateStopped {
		p.state = st
	}
	p.mu.Unlock()
}
