package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/Tyrowin/rably/internal/server"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}
	return fmt.Sprintf("%s (%s)", version, short)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: error loading .env file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(serve).Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func serve(ctx context.Context, cfg server.Config) error {
	app, err := server.NewApp(cfg, log.Logger)
	if err != nil {
		return err
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("keep_stale_presence", cfg.KeepStalePresence).
		Msg("starting rably relay")

	return app.Run(ctx)
}

type runFunc func(ctx context.Context, cfg server.Config) error

func newCommand(run runFunc) *cli.Command {
	defaults := server.DefaultConfig()

	return &cli.Command{
		Name:    "rably",
		Usage:   "Real-time channel relay with presence tracking",
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file (optional)",
				Sources: cli.EnvVars("RABLY_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "port",
				Usage:   "listen port or host:port",
				Sources: cli.EnvVars("PORT"),
				Value:   defaults.Port,
			},
			&cli.StringSliceFlag{
				Name:    "allowed-origins",
				Usage:   "origins allowed to open WebSockets; * allows any",
				Sources: cli.EnvVars("ALLOWED_ORIGINS"),
				Value:   defaults.AllowedOrigins,
			},
			&cli.Int64Flag{
				Name:    "max-message-size",
				Usage:   "maximum inbound frame size in bytes",
				Sources: cli.EnvVars("MAX_MESSAGE_SIZE"),
				Value:   defaults.MaxMessageSize,
			},
			&cli.IntFlag{
				Name:    "send-buffer-size",
				Usage:   "outgoing queue capacity per connection",
				Sources: cli.EnvVars("SEND_BUFFER_SIZE"),
				Value:   defaults.SendBufferSize,
			},
			&cli.IntFlag{
				Name:    "topic-capacity",
				Usage:   "pending messages kept per subscriber before dropping",
				Sources: cli.EnvVars("TOPIC_CAPACITY"),
				Value:   defaults.TopicCapacity,
			},
			&cli.IntFlag{
				Name:    "rate-limit-burst",
				Usage:   "frames a connection may send per refill interval (0 disables)",
				Sources: cli.EnvVars("RATE_LIMIT_BURST"),
				Value:   defaults.RateLimit.Burst,
			},
			&cli.DurationFlag{
				Name:    "rate-limit-refill-interval",
				Usage:   "interval over which the rate limit burst refills",
				Sources: cli.EnvVars("RATE_LIMIT_REFILL_INTERVAL"),
				Value:   defaults.RateLimit.RefillInterval,
			},
			&cli.BoolFlag{
				Name:    "keep-stale-presence",
				Usage:   "keep presence entries after a client disconnects",
				Sources: cli.EnvVars("KEEP_STALE_PRESENCE"),
			},
			&cli.DurationFlag{
				Name:    "shutdown-timeout",
				Usage:   "time allowed for graceful shutdown",
				Sources: cli.EnvVars("SHUTDOWN_TIMEOUT"),
				Value:   defaults.ShutdownTimeout,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error, fatal, panic)",
				Sources: cli.EnvVars("LOG_LEVEL"),
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "log output format (console, json)",
				Sources: cli.EnvVars("LOG_FORMAT"),
				Value:   "console",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, setupLogger(cmd.String("log-level"), cmd.String("log-format"), os.Stderr)
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			return run(ctx, cfg)
		},
	}
}

// configFromCommand layers explicitly set flags and environment variables
// over the config file, which is itself layered over the defaults.
func configFromCommand(cmd *cli.Command) (server.Config, error) {
	cfg, err := server.LoadConfig(cmd.String("config"))
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}

	if cmd.IsSet("port") {
		cfg.Port = cmd.String("port")
	}
	if cmd.IsSet("allowed-origins") {
		cfg.AllowedOrigins = server.ParseOrigins(strings.Join(cmd.StringSlice("allowed-origins"), ","))
	}
	if cmd.IsSet("max-message-size") {
		cfg.MaxMessageSize = cmd.Int64("max-message-size")
	}
	if cmd.IsSet("send-buffer-size") {
		cfg.SendBufferSize = cmd.Int("send-buffer-size")
	}
	if cmd.IsSet("topic-capacity") {
		cfg.TopicCapacity = cmd.Int("topic-capacity")
	}
	if cmd.IsSet("rate-limit-burst") {
		cfg.RateLimit.Burst = cmd.Int("rate-limit-burst")
	}
	if cmd.IsSet("rate-limit-refill-interval") {
		cfg.RateLimit.RefillInterval = cmd.Duration("rate-limit-refill-interval")
	}
	if cmd.IsSet("keep-stale-presence") {
		cfg.KeepStalePresence = cmd.Bool("keep-stale-presence")
	}
	if cmd.IsSet("shutdown-timeout") {
		cfg.ShutdownTimeout = cmd.Duration("shutdown-timeout")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setupLogger(level, format string, out io.Writer) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer
	switch format {
	case "json":
		output = out
	case "console", "":
		output = zerolog.ConsoleWriter{Out: out}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger().Level(parsedLevel)
	return nil
}
