package config

import (
	"bytes"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	Logging `embed:""`
	Store   `embed:""`
	Redis   `embed:""`
}

func parse(t *testing.T, args ...string) cli {
	t.Helper()
	var c cli
	parser, err := kong.New(&c)
	require.NoError(t, err)
	_, err = parser.Parse(args)
	require.NoError(t, err)
	return c
}

func TestDefaults(t *testing.T) {
	c := parse(t)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, StorePostgres, c.Backend)
	assert.Equal(t, "localhost:6379", c.RedisAddr)
	assert.Equal(t, 10, c.RetryPolicy(nil).MaxAttempts)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("TASKGRAPH_STORE", "memory")
	t.Setenv("TASKGRAPH_MODIFY_ATTEMPTS", "3")

	c := parse(t)
	assert.Equal(t, StoreMemory, c.Backend)
	assert.Equal(t, 3, c.RetryPolicy(nil).MaxAttempts)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Logging{LogLevel: "warn", LogFormat: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
