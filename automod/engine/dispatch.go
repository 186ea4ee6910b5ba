package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	quarantineReason = "User was quarantined for sending too many messages in a short time in different channels"

	DefaultDispatchWorkers = 4
	DefaultDispatchQueue   = 1000
	DefaultActionTimeout   = 10 * time.Second
)

type DispatcherConfig struct {
	Logger        *slog.Logger
	Platform      Platform
	Notifiers     []Notifier
	Policy        Policy
	ActionTimeout time.Duration
	Workers       int
	QueueSize     int
	// log actions instead of calling out
	DryRun bool
}

// Executes decided actions against the platform API and notification sinks, on a fixed pool of background workers.
//
// Every external call is independent: a failure is logged and counted, and the remaining actions are still attempted. Nothing is retried.
type Dispatcher struct {
	logger        *slog.Logger
	platform      Platform
	notifiers     []Notifier
	policy        Policy
	actionTimeout time.Duration
	dryRun        bool

	queue   chan *Decision
	workers sync.WaitGroup
	pending sync.WaitGroup

	lk     sync.Mutex
	closed bool
}

// Result of a single external call.
type ActionResult struct {
	Action ActionKind
	// message or notification sink the call targeted, empty for account-level calls
	Target string
	Err    error
}

func NewDispatcher(config DispatcherConfig) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Workers <= 0 {
		config.Workers = DefaultDispatchWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultDispatchQueue
	}
	if config.ActionTimeout <= 0 {
		config.ActionTimeout = DefaultActionTimeout
	}

	d := &Dispatcher{
		logger:        logger.With("system", "dispatcher"),
		platform:      config.Platform,
		notifiers:     config.Notifiers,
		policy:        config.Policy,
		actionTimeout: config.ActionTimeout,
		dryRun:        config.DryRun,
		queue:         make(chan *Decision, config.QueueSize),
	}
	for i := 0; i < config.Workers; i++ {
		d.workers.Add(1)
		go d.worker()
	}
	return d
}

// Enqueues the decision without blocking. Returns false (and drops the decision) if the queue is full or the dispatcher is shut down.
func (d *Dispatcher) Dispatch(dec *Decision) bool {
	d.lk.Lock()
	defer d.lk.Unlock()
	if d.closed {
		d.logger.Error("dispatcher shut down, dropping decision", "record", dec.Record.String())
		dispatchDropCount.Inc()
		return false
	}

	d.pending.Add(1)
	select {
	case d.queue <- dec:
		dispatchQueueDepth.Inc()
		return true
	default:
		d.pending.Done()
		d.logger.Error("dispatch queue full, dropping decision", "record", dec.Record.String(), "author", dec.Record.AuthorID)
		dispatchDropCount.Inc()
		return false
	}
}

// Blocks until every enqueued decision has been executed.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Stops accepting decisions, drains the queue, and waits for workers to exit.
func (d *Dispatcher) Shutdown() {
	d.lk.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.lk.Unlock()
	d.workers.Wait()
}

func (d *Dispatcher) worker() {
	defer d.workers.Done()
	for dec := range d.queue {
		dispatchQueueDepth.Dec()
		// dispatch is detached from the ingestion context; each call gets its own timeout
		d.Execute(context.Background(), dec)
		d.pending.Done()
	}
}

// Synchronously runs every action of the decision, in order, and returns one result per external call made.
func (d *Dispatcher) Execute(ctx context.Context, dec *Decision) []ActionResult {
	rec := dec.Record
	logger := d.logger.With("guild", rec.GuildID, "author", rec.AuthorID, "message", rec.MessageID)
	results := []ActionResult{}

	call := func(action ActionKind, target string, fn func(ctx context.Context) error) {
		res := ActionResult{Action: action, Target: target}
		if d.dryRun {
			logger.Info("dry-run: skipping action", "action", action, "target", target)
			actionDispatchCount.WithLabelValues(string(action), "dry-run").Inc()
			results = append(results, res)
			return
		}
		cctx, cancel := context.WithTimeout(ctx, d.actionTimeout)
		defer cancel()
		res.Err = fn(cctx)
		if res.Err != nil {
			logger.Error("moderation action failed", "action", action, "target", target, "err", res.Err)
			actionDispatchCount.WithLabelValues(string(action), "error").Inc()
		} else {
			logger.Info("moderation action applied", "action", action, "target", target)
			actionDispatchCount.WithLabelValues(string(action), "ok").Inc()
		}
		results = append(results, res)
	}

	for _, action := range dec.Actions {
		switch action {
		case ActionQuarantine:
			call(action, d.policy.QuarantineRoleID, func(ctx context.Context) error {
				return d.platform.GrantRole(ctx, rec.GuildID, rec.AuthorID, d.policy.QuarantineRoleID, quarantineReason)
			})
		case ActionDeleteMessages:
			for _, m := range dec.Matches {
				call(action, m.String(), func(ctx context.Context) error {
					return d.platform.DeleteMessage(ctx, m.ChannelID, m.MessageID, quarantineReason)
				})
			}
		case ActionBan:
			reason := fmt.Sprintf("Auto-ban: posted too many duplicate messages in a short time: %d identical messages in %s", dec.Count, d.policy.Retention)
			call(action, "", func(ctx context.Context) error {
				return d.platform.BanUser(ctx, rec.GuildID, rec.AuthorID, d.policy.BanDeleteMessageDays, reason)
			})
		case ActionNotifyAdmin:
			text := notificationText(dec, &d.policy)
			if d.policy.AdminUserID != "" {
				call(action, d.policy.AdminUserID, func(ctx context.Context) error {
					return d.platform.SendDirectNotification(ctx, d.policy.AdminUserID, text)
				})
			}
			for _, n := range d.notifiers {
				call(action, n.Name(), func(ctx context.Context) error {
					return n.Notify(ctx, dec, text)
				})
			}
		default:
			logger.Warn("unhandled moderation action", "action", action)
		}
	}
	return results
}

const excerptLength = 200

func notificationText(dec *Decision, p *Policy) string {
	rec := dec.Record
	name := rec.AuthorName
	if name == "" {
		name = rec.AuthorID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "User %s (%s) posted the same message in %d channels within %s.\n", name, rec.AuthorID, dec.Count, p.Retention)
	fmt.Fprintf(&b, "Policy `%s`: %s\n", p.Name, strings.Join(dec.Actions.Strings(), ", "))
	excerpt := rec.Content
	if r := []rune(excerpt); len(r) > excerptLength {
		excerpt = string(r[:excerptLength]) + "…"
	}
	fmt.Fprintf(&b, "> %s", excerpt)
	return b.String()
}
