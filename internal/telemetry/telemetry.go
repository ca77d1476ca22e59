// Package telemetry owns run health: the progress state machine, the
// bounded event log, subscriber fan-out and the pause/resume/stop control
// surface with its hard latency target on stop.
package telemetry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scourhq/scour/internal/research"
)

// Status is the run state machine's current state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusPaused    Status = "paused"
	StatusStopping  Status = "stopping"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) terminal() bool { return s == StatusCompleted || s == StatusFailed }

// StopLatencyTarget is the budget for the whole stop sequence: transition,
// command enqueue, StopCondition emission, COMPLETED. Overruns are logged
// and recorded in the stop latency histogram either way.
const StopLatencyTarget = 200 * time.Millisecond

// EventType tags entries in the event log.
type EventType string

const (
	EventPageLoad       EventType = "page_load"
	EventExtraction     EventType = "extraction"
	EventClaimFound     EventType = "claim_found"
	EventVerification   EventType = "verification"
	EventStrategyShift  EventType = "strategy_shift"
	EventPathTerminated EventType = "path_terminated"
	EventError          EventType = "error"
	EventBlocked        EventType = "blocked"
	EventStopCondition  EventType = "stop_condition"
)

// Event is one timestamped, typed, session-scoped occurrence.
type Event struct {
	ID      string            `json:"id"`
	Session string            `json:"session"`
	Type    EventType         `json:"type"`
	At      time.Time         `json:"at"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ProgressState is the single mutable snapshot of run health. Consumers
// always receive copies, never references into the engine.
type ProgressState struct {
	Session       string        `json:"session"`
	Status        Status        `json:"status"`
	Phase         string        `json:"phase,omitempty"`
	PagesVisited  int           `json:"pages_visited"`
	ClaimsFound   int           `json:"claims_found"`
	Verifications int           `json:"verifications"`
	Confidence    float64       `json:"confidence"`
	ActivePaths   []string      `json:"active_paths,omitempty"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
	Remaining     time.Duration `json:"remaining"`
}

// CommandType is a control signal for the execution driver.
type CommandType string

const (
	CommandPause  CommandType = "pause"
	CommandResume CommandType = "resume"
	CommandStop   CommandType = "stop"
)

// Command is one queued control signal, observed by the driver between
// path steps. The engine never suspends work itself.
type Command struct {
	Type   CommandType         `json:"type"`
	Reason research.StopReason `json:"reason,omitempty"`
	Detail string              `json:"detail,omitempty"`
	At     time.Time           `json:"at"`
}

// Options tunes an Engine. Zero values take the documented defaults.
type Options struct {
	// EventCapacity bounds the ring log (default 10000 entries).
	EventCapacity int
	// EventMaxAge bounds event retention (default 1 hour).
	EventMaxAge time.Duration
	// Metrics receives counter updates when set.
	Metrics *Metrics
	Logger  *log.Logger
}

// Engine is the telemetry and control engine for one research session.
type Engine struct {
	mu sync.Mutex

	session  string
	status   Status
	phase    string
	progress ProgressState
	budgets  research.Budgets

	events   []Event
	eventCap int
	maxAge   time.Duration

	commands []Command
	stopCh   chan struct{}
	stopped  bool
	stopCond research.StopCondition

	subs *hub

	metrics *Metrics
	logger  *log.Logger
	now     func() time.Time
}

// NewEngine builds an idle engine for one session.
func NewEngine(session string, opts Options) *Engine {
	if opts.EventCapacity <= 0 {
		opts.EventCapacity = 10000
	}
	if opts.EventMaxAge <= 0 {
		opts.EventMaxAge = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[CONTROL] ", log.LstdFlags)
	}
	e := &Engine{
		session:  session,
		status:   StatusIdle,
		eventCap: opts.EventCapacity,
		maxAge:   opts.EventMaxAge,
		stopCh:   make(chan struct{}),
		subs:     newHub(),
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      time.Now,
	}
	e.progress = ProgressState{Session: session, Status: StatusIdle}
	return e
}

// Session returns the session id this engine reports under.
func (e *Engine) Session() string { return e.session }

// Status returns the current state machine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetBudgets informs remaining-time estimation. Safe to call once after
// planning.
func (e *Engine) SetBudgets(b research.Budgets) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.budgets = b
}

// StartPlanning moves IDLE → PLANNING.
func (e *Engine) StartPlanning() error {
	return e.transition(StatusIdle, StatusPlanning, "planning")
}

// StartExecuting moves PLANNING → EXECUTING.
func (e *Engine) StartExecuting() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPlanning {
		return fmt.Errorf("cannot start executing from %s", e.status)
	}
	e.status = StatusExecuting
	if e.progress.StartedAt.IsZero() {
		e.progress.StartedAt = e.now()
	}
	e.phase = "executing"
	e.broadcastLocked()
	return nil
}

// Pause moves EXECUTING → PAUSED and queues a pause command for the driver.
// It is a signal: the driver finishes its current step before idling.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusExecuting {
		return fmt.Errorf("cannot pause from %s", e.status)
	}
	e.status = StatusPaused
	e.phase = "paused"
	e.commands = append(e.commands, Command{Type: CommandPause, At: e.now()})
	e.broadcastLocked()
	return nil
}

// Resume moves PAUSED → EXECUTING and queues a resume command.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPaused {
		return fmt.Errorf("cannot resume from %s", e.status)
	}
	e.status = StatusExecuting
	e.phase = "executing"
	e.commands = append(e.commands, Command{Type: CommandResume, At: e.now()})
	e.broadcastLocked()
	return nil
}

// Stop executes the hard-stop sequence: STOPPING, stop command enqueued,
// one StopCondition emitted with the current confidence, COMPLETED. The
// sequence is measured against StopLatencyTarget. Stop never waits for
// in-flight page work; drivers observe HasPendingStop between steps.
// Calling Stop again returns the original StopCondition.
func (e *Engine) Stop(reason research.StopReason, detail string) research.StopCondition {
	started := time.Now()

	e.mu.Lock()
	if e.stopped || e.status.terminal() {
		cond := e.stopCond
		e.mu.Unlock()
		return cond
	}
	e.stopped = true
	e.status = StatusStopping
	e.phase = "stopping"
	e.commands = append(e.commands, Command{Type: CommandStop, Reason: reason, Detail: detail, At: e.now()})
	close(e.stopCh)
	e.broadcastLocked()

	cond := research.StopCondition{
		Reason:     reason,
		Detail:     detail,
		Confidence: e.progress.Confidence,
		At:         e.now(),
	}
	e.stopCond = cond
	e.appendEventLocked(EventStopCondition, string(reason), map[string]string{
		"detail":     detail,
		"confidence": fmt.Sprintf("%.3f", cond.Confidence),
	})

	e.status = StatusCompleted
	e.phase = "completed"
	e.broadcastLocked()
	e.mu.Unlock()

	elapsed := time.Since(started)
	if e.metrics != nil {
		e.metrics.StopLatency.Observe(elapsed.Seconds())
	}
	if elapsed > StopLatencyTarget {
		e.logger.Printf("stop sequence took %s, over the %s target", elapsed, StopLatencyTarget)
	} else {
		e.logger.Printf("stop sequence completed in %s (reason %s)", elapsed, reason)
	}
	return cond
}

// Fail moves PLANNING/EXECUTING → FAILED on an unrecoverable error. This is
// the one terminal state hosts must treat as fatal rather than advisory.
func (e *Engine) Fail(context string, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPlanning && e.status != StatusExecuting {
		return fmt.Errorf("cannot fail from %s", e.status)
	}
	e.status = StatusFailed
	e.phase = "failed"
	msg := context
	if err != nil {
		msg = fmt.Sprintf("%s: %v", context, err)
	}
	e.appendEventLocked(EventError, msg, map[string]string{"terminal": "true"})
	if e.metrics != nil {
		e.metrics.Errors.Inc()
	}
	e.broadcastLocked()
	return nil
}

// HasPendingStop reports whether a stop has been requested. Drivers poll
// this between steps for cooperative cancellation.
func (e *Engine) HasPendingStop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// StopSignal returns a channel closed when stop is requested, for
// select-based cancellation.
func (e *Engine) StopSignal() <-chan struct{} {
	return e.stopCh
}

// StopConditionRecord returns the emitted StopCondition, if any.
func (e *Engine) StopConditionRecord() (research.StopCondition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCond, e.stopped
}

// PollCommand pops the oldest unconsumed control command.
func (e *Engine) PollCommand() (Command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.commands) == 0 {
		return Command{}, false
	}
	cmd := e.commands[0]
	e.commands = e.commands[1:]
	return cmd, true
}

// SetPhase updates the human-readable activity description.
func (e *Engine) SetPhase(phase string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = phase
	e.broadcastLocked()
}

// SetConfidence records the latest aggregate confidence without emitting an
// event; the next broadcast carries it.
func (e *Engine) SetConfidence(confidence float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress.Confidence = confidence
}

// PathStarted adds a path to the active set and rebroadcasts progress.
func (e *Engine) PathStarted(pathID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.progress.ActivePaths {
		if id == pathID {
			return
		}
	}
	e.progress.ActivePaths = append(e.progress.ActivePaths, pathID)
	e.broadcastLocked()
}

// RecordPageLoad logs one page visit and rebroadcasts progress.
func (e *Engine) RecordPageLoad(url, domain string, loadTime time.Duration, statusCode int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress.PagesVisited++
	e.appendEventLocked(EventPageLoad, url, map[string]string{
		"domain":    domain,
		"load_time": loadTime.String(),
		"status":    fmt.Sprintf("%d", statusCode),
	})
	if e.metrics != nil {
		e.metrics.PagesVisited.Inc()
	}
	e.broadcastLocked()
}

// RecordExtraction logs one schema extraction from a page.
func (e *Engine) RecordExtraction(url, schema string, fields int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendEventLocked(EventExtraction, url, map[string]string{
		"schema": schema,
		"fields": fmt.Sprintf("%d", fields),
	})
	if e.metrics != nil {
		e.metrics.Extractions.Inc()
	}
}

// RecordClaimFound logs a new or updated claim and rebroadcasts progress.
func (e *Engine) RecordClaimFound(claimID, text string, score float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress.ClaimsFound++
	e.appendEventLocked(EventClaimFound, text, map[string]string{
		"claim_id": claimID,
		"score":    fmt.Sprintf("%.3f", score),
	})
	if e.metrics != nil {
		e.metrics.ClaimsFound.Inc()
	}
	e.broadcastLocked()
}

// RecordVerification logs a corroboration or contradiction outcome.
func (e *Engine) RecordVerification(claimID, kind string, before, after float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress.Verifications++
	e.appendEventLocked(EventVerification, kind, map[string]string{
		"claim_id": claimID,
		"before":   fmt.Sprintf("%.3f", before),
		"after":    fmt.Sprintf("%.3f", after),
	})
	if e.metrics != nil {
		e.metrics.Verifications.Inc()
		if kind == "contradicted" {
			e.metrics.Contradictions.Inc()
		}
	}
}

// RecordStrategyShift logs a mid-run plan adjustment.
func (e *Engine) RecordStrategyShift(detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendEventLocked(EventStrategyShift, detail, nil)
}

// RecordPathTerminated logs a path ending and removes it from the active
// set.
func (e *Engine) RecordPathTerminated(pathID, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	active := e.progress.ActivePaths[:0]
	for _, id := range e.progress.ActivePaths {
		if id != pathID {
			active = append(active, id)
		}
	}
	e.progress.ActivePaths = active
	e.appendEventLocked(EventPathTerminated, pathID, map[string]string{"reason": reason})
	e.broadcastLocked()
}

// RecordError logs a recoverable failure. The run continues; use Fail for
// unrecoverable conditions.
func (e *Engine) RecordError(context string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	msg := context
	if err != nil {
		msg = fmt.Sprintf("%s: %v", context, err)
	}
	e.appendEventLocked(EventError, msg, nil)
	if e.metrics != nil {
		e.metrics.Errors.Inc()
	}
}

// RecordBlocked logs a navigation blocked by the target site or policy.
func (e *Engine) RecordBlocked(url, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendEventLocked(EventBlocked, url, map[string]string{"reason": reason})
	if e.metrics != nil {
		e.metrics.Blocked.Inc()
	}
}

// Progress returns a copy of the current progress snapshot with elapsed and
// remaining-time estimates computed.
func (e *Engine) Progress() ProgressState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Events returns a copy of the retained event log, oldest first.
func (e *Engine) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// RecentEvents returns up to n of the newest retained events, oldest first.
func (e *Engine) RecentEvents(n int) []Event {
	all := e.Events()
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Close tears down all subscriptions. The engine remains readable.
func (e *Engine) Close() {
	e.subs.closeAll()
}

func (e *Engine) transition(from, to Status, phase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != from {
		return fmt.Errorf("cannot move to %s from %s", to, e.status)
	}
	e.status = to
	e.phase = phase
	if e.progress.StartedAt.IsZero() && to != StatusIdle {
		e.progress.StartedAt = e.now()
	}
	e.broadcastLocked()
	return nil
}

// appendEventLocked adds one event to the ring log, enforcing capacity and
// age bounds, and fans it out to subscribers.
func (e *Engine) appendEventLocked(typ EventType, message string, fields map[string]string) {
	ev := Event{
		ID:      uuid.NewString(),
		Session: e.session,
		Type:    typ,
		At:      e.now(),
		Message: message,
		Fields:  fields,
	}
	e.events = append(e.events, ev)
	e.pruneLocked()
	e.subs.publishEvent(ev)
}

// pruneLocked drops events beyond capacity or older than the age bound.
func (e *Engine) pruneLocked() {
	if over := len(e.events) - e.eventCap; over > 0 {
		e.events = append(e.events[:0], e.events[over:]...)
	}
	cutoff := e.now().Add(-e.maxAge)
	firstLive := 0
	for firstLive < len(e.events) && e.events[firstLive].At.Before(cutoff) {
		firstLive++
	}
	if firstLive > 0 {
		e.events = append(e.events[:0], e.events[firstLive:]...)
	}
}

func (e *Engine) snapshotLocked() ProgressState {
	snap := e.progress
	snap.Status = e.status
	snap.Phase = e.phase
	snap.ActivePaths = append([]string(nil), e.progress.ActivePaths...)
	if !snap.StartedAt.IsZero() {
		snap.Elapsed = e.now().Sub(snap.StartedAt)
	}
	snap.Remaining = e.estimateRemainingLocked(snap)
	return snap
}

// estimateRemainingLocked projects remaining time from budget consumption:
// the page-pace projection and the wall-clock budget, whichever is sooner.
func (e *Engine) estimateRemainingLocked(snap ProgressState) time.Duration {
	var candidates []time.Duration
	if e.budgets.MaxTime > 0 && !snap.StartedAt.IsZero() {
		if left := e.budgets.MaxTime - snap.Elapsed; left > 0 {
			candidates = append(candidates, left)
		} else {
			candidates = append(candidates, 0)
		}
	}
	if e.budgets.MaxPages > 0 && snap.PagesVisited > 0 && snap.Elapsed > 0 {
		pagesLeft := e.budgets.MaxPages - snap.PagesVisited
		if pagesLeft <= 0 {
			candidates = append(candidates, 0)
		} else {
			perPage := snap.Elapsed / time.Duration(snap.PagesVisited)
			candidates = append(candidates, perPage*time.Duration(pagesLeft))
		}
	}
	if len(candidates) == 0 {
		return 0
	}
	min := candidates[0]
	for _, c := range candidates[1:] {
		if c < min {
			min = c
		}
	}
	return min
}

func (e *Engine) broadcastLocked() {
	e.subs.publishProgress(e.snapshotLocked())
}
