package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"event-payments/internal/payload"
	"event-payments/internal/status"
	"event-payments/monitoring"
)

type PollState string

const (
	PollChecking  PollState = "checking"
	PollConfirmed PollState = "confirmed"
	PollDeclined  PollState = "declined"
	PollTimedOut  PollState = "timed_out"
	// PollErrored is an explicit error answer from the status endpoint.
	PollErrored PollState = "errored"
	// PollCancelled means the poll was stopped before a terminal answer.
	PollCancelled PollState = "cancelled"
)

const timedOutMessage = "Payment not confirmed, it may have expired"

// StatusChecker performs one status check. A well-formed error answer is
// returned as *CheckRejectedError; any other error is treated as transient.
type StatusChecker interface {
	CheckStatus(ctx context.Context, registrationID, transactionReference string) (payload.Document, error)
}

// CheckRejectedError is an explicit error answer from the status endpoint.
type CheckRejectedError struct {
	StatusCode int
	Message    string
}

func (e *CheckRejectedError) Error() string {
	return "status check rejected: " + e.Message
}

type PollResult struct {
	State    PollState
	Attempts int
	Message  string
	// Document is the last successful answer.
	Document payload.Document
	Err      error
}

// Poll is one polling session. It owns its own target, start time, attempt
// count and cancellation.
type Poll struct {
	RegistrationID       string
	TransactionReference string
	StartedAt            time.Time

	mu       sync.Mutex
	attempts int
	state    PollState
	result   PollResult

	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops future checks. A check already in flight completes but its
// answer is discarded.
func (p *Poll) Cancel() {
	p.cancel()
}

func (p *Poll) Done() <-chan struct{} {
	return p.done
}

// State is the current state, PollChecking until the poll ends.
func (p *Poll) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poll) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *Poll) nextAttempt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	return p.attempts
}

// Wait blocks until the poll ends and returns its result.
func (p *Poll) Wait() PollResult {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Poller checks a payment immediately and then every Interval until a
// terminal answer or until ceil(Budget/Interval) checks have been made.
type Poller struct {
	checker  StatusChecker
	interval time.Duration
	budget   time.Duration
	logger   *slog.Logger
}

func NewPoller(checker StatusChecker, interval, budget time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if budget <= 0 {
		budget = 2 * time.Minute
	}
	return &Poller{checker: checker, interval: interval, budget: budget, logger: logger}
}

// MaxAttempts is the number of checks made before giving up.
func (p *Poller) MaxAttempts() int {
	n := int(p.budget / p.interval)
	if p.budget%p.interval != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Start begins polling in the background.
func (p *Poller) Start(ctx context.Context, registrationID, transactionReference string) *Poll {
	ctx, cancel := context.WithCancel(ctx)
	poll := &Poll{
		RegistrationID:       registrationID,
		TransactionReference: transactionReference,
		StartedAt:            time.Now(),
		state:                PollChecking,
		cancel:               cancel,
		done:                 make(chan struct{}),
	}

	go p.run(ctx, poll)

	return poll
}

// Run polls until the poll ends.
func (p *Poller) Run(ctx context.Context, registrationID, transactionReference string) PollResult {
	return p.Start(ctx, registrationID, transactionReference).Wait()
}

func (p *Poller) run(ctx context.Context, poll *Poll) {
	defer poll.cancel()

	maxAttempts := p.MaxAttempts()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.finish(poll, PollResult{State: PollCancelled, Err: ctx.Err()})
			return
		case <-timer.C:
		}

		attempt := poll.nextAttempt()
		doc, err := p.checker.CheckStatus(ctx, poll.RegistrationID, poll.TransactionReference)

		if ctx.Err() != nil {
			p.finish(poll, PollResult{State: PollCancelled, Err: ctx.Err()})
			return
		}

		if err != nil {
			var rejected *CheckRejectedError
			if errors.As(err, &rejected) {
				p.finish(poll, PollResult{State: PollErrored, Message: rejected.Message, Err: err})
				return
			}
			p.logger.Warn("Status check failed",
				"registration_id", poll.RegistrationID,
				"attempt", attempt,
				"error", err,
			)
		} else {
			switch status.Classify(doc.String(payload.Status), doc.String(payload.Description)) {
			case status.OutcomeSuccess:
				p.finish(poll, PollResult{State: PollConfirmed, Message: "Payment confirmed", Document: doc})
				return
			case status.OutcomeFailed:
				p.finish(poll, PollResult{State: PollDeclined, Message: declineMessage(doc), Document: doc})
				return
			}
		}

		if attempt >= maxAttempts {
			p.finish(poll, PollResult{State: PollTimedOut, Message: timedOutMessage, Document: doc, Err: status.ErrTimeoutExceeded})
			return
		}

		timer.Reset(p.interval)
	}
}

func (p *Poller) finish(poll *Poll, res PollResult) {
	poll.mu.Lock()
	res.Attempts = poll.attempts
	poll.state = res.State
	poll.result = res
	poll.mu.Unlock()
	close(poll.done)

	monitoring.TrackPoll(string(res.State))
	p.logger.Info("Status poll finished",
		"registration_id", poll.RegistrationID,
		"state", res.State,
		"attempts", res.Attempts,
		"elapsed", time.Since(poll.StartedAt).String(),
	)
}

func declineMessage(doc payload.Document) string {
	if m := doc.String(payload.Message); m != "" {
		return m
	}
	return "Payment was declined"
}

// PollTracker keeps at most one poll per registration. Starting a new poll
// for a registration cancels the previous one.
type PollTracker struct {
	poller *Poller

	mu     sync.Mutex
	active map[string]*Poll
}

func NewPollTracker(poller *Poller) *PollTracker {
	return &PollTracker{poller: poller, active: make(map[string]*Poll)}
}

func (t *PollTracker) Start(ctx context.Context, registrationID, transactionReference string) *Poll {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.active[registrationID]; ok {
		prev.Cancel()
	}

	poll := t.poller.Start(ctx, registrationID, transactionReference)
	t.active[registrationID] = poll

	go func() {
		<-poll.Done()
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.active[registrationID] == poll {
			delete(t.active, registrationID)
		}
	}()

	return poll
}

// Stop cancels the poll of a registration, reporting whether one was running.
func (t *PollTracker) Stop(registrationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	poll, ok := t.active[registrationID]
	if ok {
		poll.Cancel()
		delete(t.active, registrationID)
	}
	return ok
}

// MaxAttempts is the number of checks each poll makes before giving up.
func (t *PollTracker) MaxAttempts() int {
	return t.poller.MaxAttempts()
}

func (t *PollTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
