// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firmnav/pkg/secrets"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "navigator.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
session:
  socket_dir: "/run/nav"
  recv_timeout: "5s"
wire:
  schemas: ["heap", "crc"]
env:
  max_steps: 32
log:
  level: "debug"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Session.SocketDir != "/run/nav" {
		t.Errorf("Session.SocketDir: got %q", cfg.Session.SocketDir)
	}
	if cfg.Env.MaxSteps != 32 {
		t.Errorf("Env.MaxSteps: got %d", cfg.Env.MaxSteps)
	}
	assert.Equal(t, []string{"heap", "crc"}, cfg.Wire.Schemas)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, ParseDuration(cfg.Session.RecvTimeout, time.Second))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "log:\n  level: info\n"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x36afb081), cfg.Wire.Sentinel)
	assert.Equal(t, []string{"heap"}, cfg.Wire.Schemas)
	assert.Equal(t, 4, cfg.Env.InitEventCount)
	assert.Equal(t, "memory", cfg.Oracle.Memo.Type)
	assert.True(t, cfg.ClearOracleOnReset())
	assert.Equal(t, "30s", cfg.Session.AcceptTimeout)
}

func TestLoadConfig_ClearOnResetFalse(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "oracle:\n  clear_on_reset: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.ClearOracleOnReset())
}

func TestLoadConfig_InvalidRunLog(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "runlog:\n  type: sqlite\n"))
	require.Error(t, err)
	_, err = LoadConfig(writeConfig(t, "runlog:\n  type: mongo\n"))
	require.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestReplaceEnvVars(t *testing.T) {
	t.Setenv("NAV_TEST_DSN", "postgres://nav@localhost/nav")
	cfg, err := LoadConfig(writeConfig(t, "runlog:\n  type: postgres\n  dsn: \"${NAV_TEST_DSN}\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://nav@localhost/nav", cfg.RunLog.DSN)
}

func TestResolveSecrets(t *testing.T) {
	ctx := context.Background()
	store := secrets.NewMemoryStore(map[string]string{"redis/password": "hunter2"})

	cfg := Default()
	cfg.Oracle.Memo.Password = "secret:redis/password"
	cfg.Reward.PrefixMemo.Password = "plain"
	require.NoError(t, ResolveSecrets(ctx, cfg, store))
	assert.Equal(t, "hunter2", cfg.Oracle.Memo.Password)
	assert.Equal(t, "plain", cfg.Reward.PrefixMemo.Password)

	cfg.RunLog.DSN = "secret:missing"
	assert.Error(t, ResolveSecrets(ctx, cfg, store))
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Second, ParseDuration("", time.Second))
	assert.Equal(t, time.Second, ParseDuration("bogus", time.Second))
	assert.Equal(t, time.Second, ParseDuration("-5s", time.Second))
	assert.Equal(t, 250*time.Millisecond, ParseDuration("250ms", time.Second))
}
