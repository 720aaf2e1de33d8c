package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/rably/internal/server"
)

func runWith(t *testing.T, args ...string) (server.Config, error) {
	t.Helper()

	var got server.Config
	capture := func(_ context.Context, cfg server.Config) error {
		got = cfg
		return nil
	}

	err := newCommand(capture).Run(context.Background(), append([]string{"rably"}, args...))
	return got, err
}

func TestCommand_Defaults(t *testing.T) {
	cfg, err := runWith(t)
	require.NoError(t, err)
	assert.Equal(t, server.DefaultConfig(), cfg)
}

func TestCommand_Flags(t *testing.T) {
	cfg, err := runWith(t,
		"--port", "9001",
		"--allowed-origins", "https://a.example,https://b.example",
		"--max-message-size", "4096",
		"--topic-capacity", "10",
		"--rate-limit-burst", "5",
		"--rate-limit-refill-interval", "500ms",
		"--keep-stale-presence",
		"--shutdown-timeout", "3s",
	)
	require.NoError(t, err)

	assert.Equal(t, ":9001", cfg.Addr())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 10, cfg.TopicCapacity)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.RefillInterval)
	assert.True(t, cfg.KeepStalePresence)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestCommand_Environment(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("KEEP_STALE_PRESENCE", "true")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000")

	cfg, err := runWith(t)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Addr())
	assert.True(t, cfg.KeepStalePresence)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestCommand_ConfigFileUnderFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rably.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"6000\"\ntopic_capacity: 42\n"), 0o644))

	cfg, err := runWith(t, "--config", path, "--port", "6001")
	require.NoError(t, err)

	assert.Equal(t, ":6001", cfg.Addr())
	assert.Equal(t, 42, cfg.TopicCapacity)
}

func TestCommand_InvalidConfig(t *testing.T) {
	_, err := runWith(t, "--topic-capacity", "0")
	require.ErrorIs(t, err, server.ErrInvalidConfig)
}

func TestSetupLogger(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	require.NoError(t, setupLogger("warn", "json", &buf))
	assert.Equal(t, zerolog.WarnLevel, log.Logger.GetLevel())

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	require.NoError(t, setupLogger("debug", "console", &buf))
	assert.Error(t, setupLogger("loud", "json", &buf))
	assert.Error(t, setupLogger("info", "xml", &buf))
}

func TestBuild(t *testing.T) {
	prevVersion, prevCommit := version, commit
	t.Cleanup(func() { version, commit = prevVersion, prevCommit })

	version, commit = "1.2.3", "0123456789abcdef"
	assert.Equal(t, "1.2.3 (0123456)", build())
}
