package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionFlag(t *testing.T) {
	cmd := newCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "gamesync v"+releaseVersion+"\n", out.String())
}

func TestInvalidConfigRejected(t *testing.T) {
	t.Setenv("GAMESYNC_STORE", "redis")
	cmd := newCmd()
	cmd.SetArgs([]string{"--env-file", ""})
	assert.ErrorContains(t, cmd.Execute(), "unknown store")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Setenv("GAMESYNC_PREFS_PATH", t.TempDir()+"/prefs.db")
	ctx, cancel := context.WithCancel(context.Background())

	cmd := newCmd()
	cmd.SetArgs([]string{"--env-file", "", "--addr", "127.0.0.1:0", "--log-level", "warn"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
