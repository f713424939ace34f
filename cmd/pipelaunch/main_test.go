package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/pipelaunch/internal/config"
	"github.com/loykin/pipelaunch/internal/orchestrator"
	"github.com/loykin/pipelaunch/internal/process"
)

// syncBuffer collects child output written from several copy goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func shellConfig(procs ...config.ProcConfig) *config.Config {
	c := config.Default()
	c.Processes = procs
	c.Shutdown.GracePeriod = time.Second
	return c
}

func sh(name, script string, delayMS int) config.ProcConfig {
	return config.ProcConfig{Name: name, Command: "sh", Args: []string{"-c", script}, ReadinessDelayMS: delayMS}
}

func TestRunPipelineCompletes(t *testing.T) {
	requireUnix(t)
	cfg := shellConfig(
		sh("broker", "echo broker up", 50),
		sh("receiver", "echo receiver up", 50),
		sh("sender", "echo sent $GREETING", 0),
	)
	cfg.Env = []string{"GREETING=hello"}
	var out, errOut syncBuffer

	err := runPipeline(context.Background(), cfg, &out, &errOut)
	require.NoError(t, err)
	got := out.String()
	assert.Contains(t, got, "[broker] broker up")
	assert.Contains(t, got, "[receiver] receiver up")
	assert.Contains(t, got, "[sender] sent hello")
	assert.Contains(t, errOut.String(), "all processes exited")
}

func TestRunPipelineSpawnFailure(t *testing.T) {
	requireUnix(t)
	marker := filepath.Join(t.TempDir(), "receiver-ran")
	cfg := shellConfig(
		config.ProcConfig{Name: "badcmd", Command: "/nonexistent/pipelaunch-broker"},
		sh("receiver", "touch "+marker, 0),
	)
	var out, errOut syncBuffer

	err := runPipeline(context.Background(), cfg, &out, &errOut)
	require.Error(t, err)
	var le *orchestrator.LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 0, le.Index)
	assert.Equal(t, "badcmd", le.Name)
	var se *orchestrator.SpawnError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, process.ReasonNotFound, se.Reason)
	assert.Contains(t, errOut.String(), "launch failed")

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "receiver must never be spawned")
}

func TestRunPipelineExitOnAnyStopsOthers(t *testing.T) {
	requireUnix(t)
	cfg := shellConfig(
		sh("broker", "sleep 30", 0),
		sh("sender", "exit 0", 0),
	)
	cfg.Shutdown.ExitOn = config.ExitOnAny
	var out, errOut syncBuffer

	start := time.Now()
	require.NoError(t, runPipeline(context.Background(), cfg, &out, &errOut))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Contains(t, errOut.String(), "terminating process")
}

func TestRunPipelineCancelled(t *testing.T) {
	requireUnix(t)
	cfg := shellConfig(sh("broker", "sleep 30", 0))
	ctx, cancel := context.WithCancel(context.Background())
	var out, errOut syncBuffer

	done := make(chan error, 1)
	go func() { done <- runPipeline(ctx, cfg, &out, &errOut) }()
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}
	assert.Contains(t, errOut.String(), "interrupted")
}

func TestRunPipelineWithServerAndHistory(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	cfg := shellConfig(sh("broker", "exit 0", 0))
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Metrics.Enabled = true
	cfg.History.Enabled = true
	cfg.History.Sinks = []string{"sqlite://" + filepath.Join(dir, "history.db")}
	var out, errOut syncBuffer

	require.NoError(t, runPipeline(context.Background(), cfg, &out, &errOut))
	assert.Contains(t, errOut.String(), "status api listening")
	_, err := os.Stat(filepath.Join(dir, "history.db"))
	assert.NoError(t, err)
}

func TestRunPipelineInvalidSpecLaunchesNothing(t *testing.T) {
	requireUnix(t)
	marker := filepath.Join(t.TempDir(), "broker-ran")
	cfg := shellConfig(
		sh("broker", "touch "+marker, 0),
		config.ProcConfig{Name: "sender", Command: "   "},
	)
	var out, errOut syncBuffer

	err := runPipeline(context.Background(), cfg, &out, &errOut)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
	assert.Contains(t, err.Error(), "processes[1]")
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "no process may start when the config is invalid")
}

func TestRunPipelineInvalidConfig(t *testing.T) {
	cfg := shellConfig()
	err := runPipeline(context.Background(), cfg, &syncBuffer{}, &syncBuffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestConfigCommandPrintsDefault(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	t.Chdir(t.TempDir())
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config"})
	require.NoError(t, root.Execute())

	s := out.String()
	assert.True(t, strings.HasPrefix(s, "# source: built-in default"))
	assert.Contains(t, s, "name: broker")
	assert.Contains(t, s, "main_receiver.py")
}

func TestConfigCommandFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "pipe.yaml")
	require.NoError(t, os.WriteFile(p, []byte("processes:\n  - name: only\n    command: /bin/true\n"), 0o644))
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", p, "config"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "# source: "+p)
	assert.Contains(t, out.String(), "name: only")
}

func TestRootRejectsBadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "pipe.toml")
	require.NoError(t, os.WriteFile(p, []byte("[[processes]]\nname = \"dup\"\ncommand = \"true\"\n[[processes]]\nname = \"dup\"\ncommand = \"true\"\n"), 0o644))
	root := buildRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", p})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
