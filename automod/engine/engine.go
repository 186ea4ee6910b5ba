package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ro-community/robot/automod/actionstore"
	"github.com/ro-community/robot/automod/event"
	"github.com/ro-community/robot/automod/window"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("robot-engine")

const DefaultLockTimeout = 2 * time.Second

var ErrNilEvent = errors.New("nil message event")

// runtime for ingesting messages into the window, deciding on duplicates, and handing triggered decisions to the dispatcher.
//
// NOTE: careful when initializing: Window, Dispatcher and Clock must not be nil.
type Engine struct {
	Logger     *slog.Logger
	Window     window.Store
	Policy     Policy
	Dispatcher *Dispatcher
	// remembers actioned authors; only consulted when Cooldown is positive
	Actioned actionstore.Store
	Cooldown time.Duration
	// bound on waiting for the window lock; zero means wait on the caller's context only
	LockTimeout time.Duration
	Clock       func() time.Time
}

// Ingests a single message. Returns a nil decision (and nil error) for messages which are dropped before entering the window: bot authors and empty content. Malformed events return an error and are not stored.
//
// Triggered decisions are enqueued for dispatch; this method never waits on external calls.
func (eng *Engine) ProcessMessage(ctx context.Context, evt *event.MessageEvent) (dec *Decision, err error) {
	baseLogger := eng.Logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}
	if evt == nil {
		messageProcessCount.WithLabelValues("rejected").Inc()
		return nil, ErrNilEvent
	}

	// similar to an HTTP server, we want to recover any panics from processing
	defer func() {
		if r := recover(); r != nil {
			baseLogger.Error("automod message processing exception", "err", r, "message", evt.MessageID, "author", evt.AuthorID)
			messageProcessCount.WithLabelValues("panic").Inc()
			dec = nil
			err = fmt.Errorf("message processing panic: %v", r)
		}
	}()

	ctx, span := tracer.Start(ctx, "ProcessMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("guild", evt.GuildID),
		attribute.String("channel", evt.ChannelID),
		attribute.String("author", evt.AuthorID),
	)

	logger := baseLogger.With("guild", evt.GuildID, "channel", evt.ChannelID, "author", evt.AuthorID, "message", evt.MessageID)

	if evt.Ignorable() {
		logger.Debug("skipping bot or empty message")
		messageProcessCount.WithLabelValues("skipped").Inc()
		return nil, nil
	}
	if err := evt.Validate(); err != nil {
		messageProcessCount.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("rejecting message event: %w", err)
	}

	start := time.Now()
	defer func() {
		messageProcessDuration.Observe(time.Since(start).Seconds())
	}()

	now := eng.Clock()
	rec := evt.Record(now)

	lctx := ctx
	if eng.LockTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, eng.LockTimeout)
		defer cancel()
	}
	if err := eng.Window.Insert(lctx, rec); err != nil {
		messageProcessCount.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("inserting into message window: %w", err)
	}
	snap, err := eng.Window.Snapshot(lctx, now)
	if err != nil {
		messageProcessCount.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reading message window: %w", err)
	}
	windowSize.Set(float64(len(snap)))

	// counting and evaluation run outside of any window lock
	d := Decide(rec, snap, &eng.Policy)
	duplicateCountHist.Observe(float64(d.Count))

	if d.Triggered() {
		suppressed, err := eng.checkCooldown(ctx, &d)
		if err != nil {
			// fail open: a broken cooldown store should not stop moderation
			logger.Error("checking action cooldown", "err", err)
		}
		d.Suppressed = suppressed
		decisionCount.WithLabelValues(eng.Policy.Name, fmt.Sprint(suppressed)).Inc()
		if !suppressed {
			eng.Dispatcher.Dispatch(&d)
		}
	}

	eng.CanonicalLogLine(logger, &d)
	messageProcessCount.WithLabelValues("ok").Inc()
	return &d, nil
}

// returns true if the author was actioned within the cooldown period; otherwise marks them as actioned now
func (eng *Engine) checkCooldown(ctx context.Context, d *Decision) (bool, error) {
	if eng.Cooldown <= 0 || eng.Actioned == nil {
		return false, nil
	}
	rec := d.Record
	last, err := eng.Actioned.LastActioned(ctx, rec.GuildID, rec.AuthorID)
	if err != nil {
		return false, err
	}
	if last != nil && rec.ArrivedAt.Sub(*last) < eng.Cooldown {
		return true, nil
	}
	return false, eng.Actioned.Mark(ctx, rec.GuildID, rec.AuthorID, rec.ArrivedAt)
}

func (eng *Engine) CanonicalLogLine(logger *slog.Logger, d *Decision) {
	logger.Info("canonical-message-line",
		"count", d.Count,
		"matches", len(d.Matches),
		"threshold", eng.Policy.Threshold,
		"comparison", eng.Policy.Comparison,
		"policy", eng.Policy.Name,
		"actions", d.Actions.Strings(),
		"suppressed", d.Suppressed,
	)
}
