// Package engine is the detection-aware polling orchestrator. It owns
// the per-target state table, the cooldown/backoff counters, and the
// identity-rotation policy, and drives the page driver, classifier,
// notification sinks, and history log through a single sequential loop.
//
// Control flow is one logical thread: targets are visited strictly in
// order, and the next cycle starts only after the current one completes
// or aborts into cooldown. Only the daily digest runs concurrently, and
// it shares exactly one mutex domain with the poll loop (state table,
// cooldown counters, daily counters).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/restockd/restockd/detect"
	"github.com/restockd/restockd/history"
	"github.com/restockd/restockd/notify"
	"github.com/restockd/restockd/stock"
)

// Driver is the page-driver capability set the engine needs. Navigation
// timeouts and driver errors are treated identically to a detected
// signal, never as fatal errors.
type Driver interface {
	// Navigate loads url and returns the main-document HTTP status
	// (0 when unknown).
	Navigate(ctx context.Context, url string) (status int, err error)
	CurrentURL() (string, error)
	Content(ctx context.Context) (string, error)
	// Discard tears down the current browsing context without opening a
	// new one.
	Discard()
	// Rotate discards the current browsing context/identity (if any
	// remains) and opens a fresh one.
	Rotate(ctx context.Context) error
	Close() error
}

// HistorySink records availability transitions. Append-only.
type HistorySink interface {
	Append(ctx context.Context, e history.Entry) error
}

// minDelay is the floor for the jittered pre-fetch delay.
const minDelay = 5 * time.Second

// Config tunes the engine. Zero values get defaults().
type Config struct {
	// Targets are polled in this order within each cycle.
	Targets []string

	// PollInterval ± PollJitter spaces fetches to resemble human
	// browsing cadence.
	PollInterval time.Duration
	PollJitter   time.Duration

	// RotateEvery is the cycle period for proactive identity rotation,
	// a precaution against long-lived-session fingerprinting even
	// absent any detection.
	RotateEvery int

	// CooldownBase/Max bound the backoff; the cooldown doubles once
	// consecutive failures exceed RetryThreshold.
	CooldownBase   time.Duration
	RetryThreshold int
	CooldownMax    time.Duration

	// NotifyCooldown is the per-URL minimum gap between restock
	// notifications, independent of the detection cooldown.
	NotifyCooldown time.Duration

	// DigestHour/DigestLocation schedule the daily summary.
	DigestHour     int
	DigestLocation *time.Location

	// Keywords drive availability extraction.
	Keywords stock.Keywords

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 45 * time.Second
	}
	if c.PollJitter < 0 {
		c.PollJitter = 0
	}
	if c.RotateEvery <= 0 {
		c.RotateEvery = 10
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = time.Minute
	}
	if c.RetryThreshold <= 0 {
		c.RetryThreshold = 3
	}
	if c.CooldownMax <= 0 || c.CooldownMax > 30*time.Minute {
		c.CooldownMax = 30 * time.Minute
	}
	if c.NotifyCooldown <= 0 {
		c.NotifyCooldown = 30 * time.Minute
	}
	if c.DigestLocation == nil {
		c.DigestLocation = time.UTC
	}
	if len(c.Keywords.Positive) == 0 && len(c.Keywords.Negative) == 0 {
		c.Keywords = stock.DefaultKeywords()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// DailyCounters accumulate between digests.
type DailyCounters struct {
	Restocks int `json:"restocks"`
	SoldOuts int `json:"sold_outs"`
	Errors   int `json:"errors"`
}

// Engine is one monitoring run. Construct with New, drive with Run.
type Engine struct {
	cfg      Config
	driver   Driver
	notifier notify.Sink
	hist     HistorySink
	logger   *slog.Logger

	// mu is the single mutex domain for everything the digest goroutine
	// or the status endpoint can observe.
	mu           sync.Mutex
	states       map[string]*stock.State
	failures     int
	cooldown     time.Duration
	lastNotified map[string]time.Time
	daily        DailyCounters
	cycle        int

	// cursor is the index of the next target to poll. Cooldown
	// resumption continues here, at the target after the one that
	// tripped detection, rather than restarting the cycle.
	cursor int

	// Injection points for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	randF func() float64 // uniform [0,1)
}

// New creates an Engine. driver must be started by the caller.
func New(cfg Config, driver Driver, notifier notify.Sink, hist HistorySink) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:          cfg,
		driver:       driver,
		notifier:     notifier,
		hist:         hist,
		logger:       cfg.Logger,
		states:       make(map[string]*stock.State, len(cfg.Targets)),
		cooldown:     cfg.CooldownBase,
		lastNotified: make(map[string]time.Time, len(cfg.Targets)),
		sleep:        sleepCtx,
		now:          time.Now,
		randF:        rand.Float64,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes the state machine until ctx is cancelled. Detection is
// never fatal: the engine backs off, rotates identity, and resumes. The
// returned error is ctx.Err() on shutdown.
func (e *Engine) Run(ctx context.Context) error {
	if len(e.cfg.Targets) == 0 {
		return fmt.Errorf("engine: no watch targets configured")
	}
	defer e.driver.Close()

	digestDone := make(chan struct{})
	go func() {
		defer close(digestDone)
		e.runDigest(ctx)
	}()
	defer func() { <-digestDone }()

	e.seed(ctx)

	for ctx.Err() == nil {
		if e.cursor == 0 {
			e.startCycle(ctx)
		}

		url := e.cfg.Targets[e.cursor]
		ev := e.pollOne(ctx, url)
		if ctx.Err() != nil {
			break
		}

		// Advance first: cooldown resumption continues at the next
		// target in cycle order.
		e.cursor = (e.cursor + 1) % len(e.cfg.Targets)

		if ev.Detected {
			e.coolDown(ctx, url, ev)
		}
	}
	return ctx.Err()
}

// startCycle bumps the cycle counter and performs the proactive
// rotation when the period is due.
func (e *Engine) startCycle(ctx context.Context) {
	e.mu.Lock()
	e.cycle++
	cycle := e.cycle
	e.mu.Unlock()

	if cycle > 1 && (cycle-1)%e.cfg.RotateEvery == 0 {
		e.logger.Info("engine: proactive identity rotation", "cycle", cycle)
		if err := e.driver.Rotate(ctx); err != nil {
			e.logger.Warn("engine: rotation failed", "error", err)
		}
	}
}

// seed performs the INITIALIZING pass: one observation per target to
// populate the state table. Failures are logged, never fatal: an
// unreadable target simply starts as unknown. First observations run
// the full transition pipeline, so a target that is already buyable
// produces its restock event here.
func (e *Engine) seed(ctx context.Context) {
	for _, url := range e.cfg.Targets {
		if ctx.Err() != nil {
			return
		}
		ev := e.pollOne(ctx, url)
		if !ev.Detected {
			continue
		}
		e.logger.Warn("engine: seed observation failed",
			"url", url, "signal", ev.Signal, "details", ev.Details)
		e.mu.Lock()
		if _, ok := e.states[url]; !ok {
			e.states[url] = &stock.State{Status: stock.Unknown, LastCheckedAt: e.now()}
		}
		e.daily.Errors++
		e.mu.Unlock()
	}
}

// pollOne fetches and processes a single target. A detected event is
// returned for the caller to fold into cooldown state; a clean pass
// resets the backoff and runs extraction, transition detection, history,
// and notification.
func (e *Engine) pollOne(ctx context.Context, url string) detect.Event {
	if err := e.sleep(ctx, e.jitteredDelay()); err != nil {
		return detect.Event{}
	}

	status, err := e.driver.Navigate(ctx, url)
	if err != nil {
		// Navigation errors are a detection signal of unspecified kind.
		return detect.Event{Detected: true, Signal: detect.SignalNone,
			Details: fmt.Sprintf("navigation: %v", err)}
	}

	currentURL, err := e.driver.CurrentURL()
	if err != nil {
		return detect.Event{Detected: true, Signal: detect.SignalNone,
			Details: fmt.Sprintf("current url: %v", err)}
	}

	content, err := e.driver.Content(ctx)
	if err != nil {
		return detect.Event{Detected: true, Signal: detect.SignalNone,
			Details: fmt.Sprintf("read content: %v", err)}
	}

	ev := detect.Classify(content, status, currentURL)
	if ev.Detected {
		return ev
	}

	e.processClean(ctx, url, content)
	return ev
}

// processClean resets the backoff and advances the state table for one
// cleanly fetched target.
func (e *Engine) processClean(ctx context.Context, url, content string) {
	page := stock.Extract(content, e.cfg.Keywords)
	now := e.now()

	cur := stock.State{
		Status:        page.Status,
		Price:         page.Price,
		Title:         page.Title,
		LastCheckedAt: now,
	}

	e.mu.Lock()
	e.failures = 0
	e.cooldown = e.cfg.CooldownBase

	prev := e.states[url]
	kind := stock.Detect(prev, cur)

	var prevStatus stock.Status = stock.Unknown
	if prev != nil {
		prevStatus = prev.Status
		cur.LastTransitionAt = prev.LastTransitionAt
	}
	if kind != stock.TransitionNone {
		cur.LastTransitionAt = &now
		switch kind {
		case stock.TransitionRestock:
			e.daily.Restocks++
		case stock.TransitionSoldOut:
			e.daily.SoldOuts++
		}
	}
	e.states[url] = &cur

	shouldNotify := false
	if kind == stock.TransitionRestock {
		if last, ok := e.lastNotified[url]; !ok || now.Sub(last) > e.cfg.NotifyCooldown {
			e.lastNotified[url] = now
			shouldNotify = true
		}
	}
	e.mu.Unlock()

	e.logger.Debug("engine: observed", "url", url, "status", cur.Status,
		"price", cur.Price, "transition", kind)

	if kind == stock.TransitionNone {
		return
	}

	entry := history.Entry{
		At:         now,
		URL:        url,
		Title:      cur.Title,
		PrevStatus: prevStatus,
		NewStatus:  cur.Status,
		Price:      cur.Price,
		Kind:       kind,
	}
	if err := e.hist.Append(ctx, entry); err != nil {
		e.logger.Error("engine: history append failed", "url", url, "error", err)
	}

	if shouldNotify {
		e.send(ctx, notify.Message{
			Kind: "restock",
			Text: fmt.Sprintf("Back in stock: %s %s (%s)", cur.Title, cur.Price, url),
			Rich: map[string]any{
				"url":    url,
				"title":  cur.Title,
				"price":  cur.Price,
				"status": cur.Status,
			},
			At: now,
		})
	}
}

// coolDown handles the COOLING_DOWN state: grow the backoff, tear down
// the browsing context, announce the pause, sleep, rotate identity, and
// hand control back to the poll loop.
func (e *Engine) coolDown(ctx context.Context, url string, ev detect.Event) {
	e.mu.Lock()
	e.failures++
	e.daily.Errors++
	if e.failures > e.cfg.RetryThreshold {
		e.cooldown = min(e.cooldown*2, e.cfg.CooldownMax)
	}
	failures := e.failures
	cooldown := e.cooldown
	e.mu.Unlock()

	e.logger.Warn("engine: detection, cooling down", "url", url,
		"signal", ev.Signal, "details", ev.Details,
		"failures", failures, "cooldown", cooldown)

	e.driver.Discard()

	e.send(ctx, notify.Message{
		Kind: "pause",
		Text: fmt.Sprintf("Detection (%s) on %s: pausing %s, resuming around %s",
			ev.Signal, url, cooldown, e.now().Add(cooldown).Format(time.Kitchen)),
		Rich: map[string]any{
			"url":      url,
			"signal":   ev.Signal,
			"failures": failures,
			"cooldown": cooldown.String(),
		},
		At: e.now(),
	})

	if err := e.sleep(ctx, cooldown); err != nil {
		return
	}
	if err := e.driver.Rotate(ctx); err != nil {
		e.logger.Error("engine: rotation after cooldown failed", "error", err)
	}
}

// send delivers a notification; sink failures are logged, never fatal.
func (e *Engine) send(ctx context.Context, msg notify.Message) {
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.logger.Warn("engine: notification failed", "kind", msg.Kind, "error", err)
	}
}

// jitteredDelay draws base ± jitter uniformly, floored at minDelay.
func (e *Engine) jitteredDelay() time.Duration {
	d := e.cfg.PollInterval
	if j := e.cfg.PollJitter; j > 0 {
		d += time.Duration((e.randF()*2 - 1) * float64(j))
	}
	if d < minDelay {
		d = minDelay
	}
	return d
}

// TargetState is one row of a snapshot.
type TargetState struct {
	URL   string      `json:"url"`
	State stock.State `json:"state"`
}

// Snapshot is a point-in-time copy of the engine's observable state,
// for the status endpoint.
type Snapshot struct {
	Targets  []TargetState `json:"targets"`
	Failures int           `json:"consecutive_failures"`
	Cooldown string        `json:"current_cooldown"`
	Cycle    int           `json:"cycle"`
	Daily    DailyCounters `json:"daily"`
}

// Snapshot returns a copy of the live state, in target order.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Failures: e.failures,
		Cooldown: e.cooldown.String(),
		Cycle:    e.cycle,
		Daily:    e.daily,
	}
	for _, url := range e.cfg.Targets {
		ts := TargetState{URL: url}
		if st := e.states[url]; st != nil {
			ts.State = *st
		} else {
			ts.State = stock.State{Status: stock.Unknown}
		}
		snap.Targets = append(snap.Targets, ts)
	}
	return snap
}
