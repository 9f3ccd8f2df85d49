package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestConfig(t *testing.T, args []string, configFile string) *Config {
	t.Helper()
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, bindFlags(fs, v))
	require.NoError(t, fs.Parse(args))
	cfg, err := loadConfig(v, configFile)
	require.NoError(t, err)
	return cfg
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := newTestConfig(t, nil, "")

	assert.NotEmpty(t, cfg.NodeID)
	assert.Equal(t, ":5800", cfg.Listen)
	assert.Equal(t, "rmt", cfg.Format)
	assert.Equal(t, 1000, cfg.LogRetention)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "robomesh.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
node_id: from-file
listen: 127.0.0.1:5900
format: legacy
peers:
  - arm=10.0.0.2:5800
link:
  dial_timeout: 3s
http:
  address: ""
log:
  level: debug
`), 0o600))

	t.Setenv("ROBOMESH_LISTEN", "127.0.0.1:6000")
	t.Setenv("ROBOMESH_LINK_HANDSHAKE_TIMEOUT", "750ms")

	cfg := newTestConfig(t, []string{"--node-id", "from-flag"}, file)

	assert.Equal(t, "from-flag", cfg.NodeID, "flags beat the file")
	assert.Equal(t, "127.0.0.1:6000", cfg.Listen, "environment beats the file")
	assert.Equal(t, "legacy", cfg.Format)
	assert.Equal(t, []string{"arm=10.0.0.2:5800"}, cfg.Peers)
	assert.Equal(t, 3*time.Second, cfg.Link.DialTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.Link.HandshakeTimeout)
	assert.Empty(t, cfg.HTTP.Address)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	v := viper.New()
	require.NoError(t, bindFlags(pflag.NewFlagSet("test", pflag.ContinueOnError), v))
	_, err := loadConfig(v, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfig_NodeConfig(t *testing.T) {
	cfg := newTestConfig(t, []string{
		"--node-id", "robot",
		"--peer", "driver=127.0.0.1:5801",
		"--disable-nacks",
		"--dial-timeout", "2s",
	}, "")

	nc := cfg.nodeConfig()
	require.NoError(t, nc.Validate())
	assert.Equal(t, "robot", nc.NodeID)
	assert.True(t, nc.DisableNacks)
	assert.False(t, nc.DetachFaultyListeners)
	assert.Equal(t, []string{"driver=127.0.0.1:5801"}, nc.Peers)
	assert.Equal(t, 2*time.Second, nc.PeerLinkConfig.DialTimeout)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestConfigCommand_HidesSecrets(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "--node-id", "robot", "--http-secret-key", "hunter2"})
	require.NoError(t, cmd.Execute())

	var printed map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, "robot", printed["node_id"])
	assert.NotContains(t, out.String(), "hunter2")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "robomesh v")
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := newTestConfig(t, []string{
		"--node-id", "robot",
		"--listen", "127.0.0.1:0",
		"--http-address", "127.0.0.1:0",
		"--log-target", "arm",
		"--shutdown-timeout", "2s",
	}, "")

	var logs syncBuffer
	logger, err := newLogger(&logs, "info", "text")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logger) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Contains(t, logs.String(), "Node started")
	assert.Contains(t, logs.String(), "Node stopped")
}

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
