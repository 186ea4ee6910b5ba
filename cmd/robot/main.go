package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ro-community/robot/automod/engine"
	"github.com/ro-community/robot/discord"
	"github.com/ro-community/robot/pkg/metrics"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "robot",
		Usage:   "chat moderation daemon (catches cross-channel spam)",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "discord-token",
			Usage:   "bot token for gateway and REST API auth",
			EnvVars: []string{"DISCORD_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "discord-api-host",
			Usage:   "method, hostname, and version path of the REST API",
			Value:   discord.DefaultHost,
			EnvVars: []string{"ROBOT_DISCORD_API_HOST"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"ROBOT_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer *os.File) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "retention-seconds",
			Usage:   "how long messages stay in the duplicate detection window",
			Value:   60,
			EnvVars: []string{"ROBOT_RETENTION_SECONDS"},
		},
		&cli.IntFlag{
			Name:    "repeat-threshold",
			Usage:   "number of distinct channels a message must be repeated in to trigger moderation",
			Value:   3,
			EnvVars: []string{"ROBOT_REPEAT_THRESHOLD"},
		},
		&cli.StringFlag{
			Name:    "threshold-comparison",
			Usage:   "'gte' triggers when the channel count reaches the threshold, 'gt' when it exceeds it",
			Value:   string(engine.CompareAtLeast),
			EnvVars: []string{"ROBOT_THRESHOLD_COMPARISON"},
		},
		&cli.StringFlag{
			Name:    "policy",
			Usage:   "moderation strategy: quarantine, ban, or notify",
			Value:   engine.StrategyQuarantine,
			EnvVars: []string{"ROBOT_POLICY"},
		},
		&cli.StringFlag{
			Name:    "quarantine-role-id",
			Usage:   "role granted to quarantined users",
			EnvVars: []string{"ROBOT_QUARANTINE_ROLE_ID"},
		},
		&cli.StringFlag{
			Name:    "admin-user-id",
			Usage:   "user who receives a direct message for every moderation decision",
			EnvVars: []string{"ROBOT_ADMIN_USER_ID"},
		},
		&cli.IntFlag{
			Name:    "ban-delete-message-days",
			Usage:   "days of message history removed when banning (0-7)",
			Value:   1,
			EnvVars: []string{"ROBOT_BAN_DELETE_MESSAGE_DAYS"},
		},
		&cli.DurationFlag{
			Name:    "action-cooldown",
			Usage:   "suppress repeat moderation of the same user for this long (0 disables)",
			EnvVars: []string{"ROBOT_ACTION_COOLDOWN"},
		},
		&cli.DurationFlag{
			Name:    "action-timeout",
			Usage:   "deadline for each moderation API call",
			Value:   engine.DefaultActionTimeout,
			EnvVars: []string{"ROBOT_ACTION_TIMEOUT"},
		},
		&cli.DurationFlag{
			Name:    "window-lock-timeout",
			Usage:   "how long message ingestion waits on the window lock before failing the event",
			Value:   engine.DefaultLockTimeout,
			EnvVars: []string{"ROBOT_WINDOW_LOCK_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "dispatch-workers",
			Usage:   "number of concurrent moderation action workers",
			Value:   engine.DefaultDispatchWorkers,
			EnvVars: []string{"ROBOT_DISPATCH_WORKERS"},
		},
		&cli.IntFlag{
			Name:    "dispatch-queue",
			Usage:   "pending moderation decisions buffered before new ones are dropped",
			Value:   engine.DefaultDispatchQueue,
			EnvVars: []string{"ROBOT_DISPATCH_QUEUE"},
		},
		&cli.IntFlag{
			Name:    "api-rate-limit",
			Usage:   "max number of REST API requests per second",
			Value:   20,
			EnvVars: []string{"ROBOT_API_RATE_LIMIT"},
		},
		&cli.IntFlag{
			Name:    "ingest-parallelism",
			Usage:   "number of concurrent message ingestion workers",
			Value:   8,
			EnvVars: []string{"ROBOT_INGEST_PARALLELISM"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL, for a window and cooldown state shared between instances",
			EnvVars: []string{"ROBOT_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "also post moderation notifications to this slack webhook",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Usage:   "decide and log moderation actions, but never call the API",
			EnvVars: []string{"ROBOT_DRY_RUN"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"ROBOT_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := configLogger(cctx, os.Stdout)

		shutdownOTEL, err := configOTEL(ctx, "robot")
		if err != nil {
			return err
		}
		defer shutdownOTEL()

		if cctx.String("discord-token") == "" {
			return fmt.Errorf("discord token is required (DISCORD_TOKEN)")
		}

		policy, err := policyFromFlags(cctx)
		if err != nil {
			return err
		}

		srv, err := NewServer(Config{
			Logger:            logger,
			Policy:            policy,
			DiscordToken:      cctx.String("discord-token"),
			DiscordHost:       cctx.String("discord-api-host"),
			APIRateLimit:      cctx.Int("api-rate-limit"),
			RedisURL:          cctx.String("redis-url"),
			SlackWebhookURL:   cctx.String("slack-webhook-url"),
			ActionCooldown:    cctx.Duration("action-cooldown"),
			ActionTimeout:     cctx.Duration("action-timeout"),
			WindowLockTimeout: cctx.Duration("window-lock-timeout"),
			DispatchWorkers:   cctx.Int("dispatch-workers"),
			DispatchQueue:     cctx.Int("dispatch-queue"),
			IngestParallelism: cctx.Int("ingest-parallelism"),
			DryRun:            cctx.Bool("dry-run"),
		})
		if err != nil {
			return err
		}

		go func() {
			if err := metrics.RunServer(ctx, cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run automod service: %w", err)
		}
		return nil
	},
}
