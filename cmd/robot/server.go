package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ro-community/robot/automod/actionstore"
	"github.com/ro-community/robot/automod/consumer"
	"github.com/ro-community/robot/automod/engine"
	"github.com/ro-community/robot/automod/window"
	"github.com/ro-community/robot/discord"
	"github.com/ro-community/robot/pkg/robusthttp"

	cli "github.com/urfave/cli/v2"
	"golang.org/x/time/rate"
)

var _ engine.Platform = (*discord.Moderator)(nil)

type Server struct {
	logger   *slog.Logger
	engine   *engine.Engine
	consumer *consumer.GatewayConsumer
	// REST client used for moderation actions
	api *discord.Client
}

type Config struct {
	Logger            *slog.Logger
	Policy            engine.Policy
	DiscordToken      string
	DiscordHost       string
	APIRateLimit      int
	RedisURL          string
	SlackWebhookURL   string
	ActionCooldown    time.Duration
	ActionTimeout     time.Duration
	WindowLockTimeout time.Duration
	DispatchWorkers   int
	DispatchQueue     int
	IngestParallelism int
	DryRun            bool
}

// Builds and validates the moderation policy from CLI flags.
func policyFromFlags(cctx *cli.Context) (engine.Policy, error) {
	name := cctx.String("policy")
	acts, err := engine.StrategyActions(name)
	if err != nil {
		return engine.Policy{}, err
	}
	policy := engine.Policy{
		Name:                 name,
		Retention:            time.Duration(cctx.Int("retention-seconds")) * time.Second,
		Threshold:            cctx.Int("repeat-threshold"),
		Comparison:           engine.Comparison(cctx.String("threshold-comparison")),
		Actions:              acts,
		QuarantineRoleID:     cctx.String("quarantine-role-id"),
		AdminUserID:          cctx.String("admin-user-id"),
		BanDeleteMessageDays: cctx.Int("ban-delete-message-days"),
	}
	if err := policy.Validate(); err != nil {
		return engine.Policy{}, fmt.Errorf("invalid moderation policy: %w", err)
	}
	return policy, nil
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, err
	}

	var win window.Store
	var actioned actionstore.Store
	if config.RedisURL != "" {
		ws, err := window.NewRedisStore(config.RedisURL, config.Policy.Retention)
		if err != nil {
			return nil, fmt.Errorf("initializing redis window: %v", err)
		}
		win = ws
		if config.ActionCooldown > 0 {
			as, err := actionstore.NewRedisStore(config.RedisURL, config.ActionCooldown)
			if err != nil {
				return nil, fmt.Errorf("initializing redis actionstore: %v", err)
			}
			actioned = as
		}
	} else {
		win = window.NewMemStore(config.Policy.Retention)
		if config.ActionCooldown > 0 {
			actioned = actionstore.NewMemStore(50_000, config.ActionCooldown)
		}
	}

	var limiter *rate.Limiter
	if config.APIRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.APIRateLimit), 1)
	}
	// moderation calls and notifications are never retried; one pooled client serves all of them
	actionHTTP := robusthttp.NewClient(
		robusthttp.WithMaxRetries(0),
		robusthttp.WithLogger(logger),
	)
	client := &discord.Client{
		Client:  actionHTTP,
		Host:    config.DiscordHost,
		Token:   config.DiscordToken,
		Limiter: limiter,
	}
	// gateway discovery is a read, and safe to retry
	discovery := &discord.Client{
		Client:  robusthttp.NewClient(robusthttp.WithLogger(logger)),
		Host:    config.DiscordHost,
		Token:   config.DiscordToken,
		Limiter: limiter,
	}

	var notifiers []engine.Notifier
	if config.SlackWebhookURL != "" {
		logger.Info("configuring slack notifier")
		notifiers = append(notifiers, &engine.SlackNotifier{
			SlackWebhookURL: config.SlackWebhookURL,
			Client:          actionHTTP,
		})
	}

	if config.DryRun {
		logger.Warn("dry-run mode: moderation actions will be logged, not executed")
	}
	disp := engine.NewDispatcher(engine.DispatcherConfig{
		Logger:        logger,
		Platform:      discord.NewModerator(client),
		Notifiers:     notifiers,
		Policy:        config.Policy,
		ActionTimeout: config.ActionTimeout,
		Workers:       config.DispatchWorkers,
		QueueSize:     config.DispatchQueue,
		DryRun:        config.DryRun,
	})

	eng := &engine.Engine{
		Logger:      logger,
		Window:      win,
		Policy:      config.Policy,
		Dispatcher:  disp,
		Actioned:    actioned,
		Cooldown:    config.ActionCooldown,
		LockTimeout: config.WindowLockTimeout,
		Clock:       time.Now,
	}

	gc := &consumer.GatewayConsumer{
		Parallelism: config.IngestParallelism,
		Logger:      logger.With("system", "gateway"),
		Engine:      eng,
		Client:      discovery,
		Token:       config.DiscordToken,
		Intents:     discord.DefaultIntents,
	}

	return &Server{
		logger:   logger,
		engine:   eng,
		consumer: gc,
		api:      client,
	}, nil
}

// Consumes the gateway until the context is cancelled, then drains pending moderation actions.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting automod",
		"policy", s.engine.Policy.Name,
		"threshold", s.engine.Policy.Threshold,
		"comparison", s.engine.Policy.Comparison,
		"retention", s.engine.Policy.Retention,
	)

	go s.evictLoop(ctx)

	err := s.consumer.Run(ctx)
	s.logger.Info("gateway consumer stopped, draining dispatcher")
	s.engine.Dispatcher.Shutdown()
	return err
}

// Expired records are dropped on every insert; this covers idle periods, so memory and the window gauge track reality.
func (s *Server) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(s.engine.Policy.Retention)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := s.engine.Window.EvictExpired(ctx, time.Now())
			if err != nil {
				s.logger.Warn("periodic window eviction failed", "err", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("evicted expired window records", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
