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

package session

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "firmnav/pkg/errors"
)

func TestExecSpawner_KillsProcessGroup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are unix-only")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	s := &ExecSpawner{Command: []string{sh, "-c", "sleep 30 & sleep 30"}, Launch: LaunchEnv{Quiet: true}}
	proc, err := s.Spawn(context.Background(), "/tmp/unused.sock")
	require.NoError(t, err)
	assert.Positive(t, proc.Pid())

	require.NoError(t, proc.Kill())
	assert.True(t, proc.(*execProcess).Exited())
	require.NoError(t, proc.Kill())
}

func TestExecSpawner_EmptyCommand(t *testing.T) {
	_, err := (&ExecSpawner{}).Spawn(context.Background(), "x")
	assert.ErrorIs(t, err, perrors.ErrInvalidArg)
}

func TestLaunchEnv(t *testing.T) {
	t.Setenv("BENCH_PROFILE", "demoone")
	t.Setenv("BENCH_VERBOSITY", "2")
	t.Setenv("UEFI_PATH", "/opt/edk2")

	l, err := LoadLaunchEnv()
	require.NoError(t, err)
	assert.Equal(t, "/opt/edk2", l.BenchDir)
	assert.Equal(t, 2, l.Verbosity)

	environ := l.Environ("/tmp/firmnav_1.sock")
	joined := strings.Join(environ, "\n")
	assert.Contains(t, joined, "BENCH_PROFILE=demoone")
	assert.Contains(t, joined, "BENCH_VERBOSITY=2")
	assert.Contains(t, joined, EndpointEnvVar+"=/tmp/firmnav_1.sock")
}

func TestLaunchEnv_Defaults(t *testing.T) {
	t.Setenv("BENCH_VERBOSITY", "")
	os.Unsetenv("BENCH_VERBOSITY")
	l, err := LoadLaunchEnv()
	require.NoError(t, err)
	assert.Equal(t, 5, l.Verbosity)
}

func TestDefaultSocketPath(t *testing.T) {
	p := DefaultSocketPath("/run/firmnav")
	assert.True(t, strings.HasPrefix(p, "/run/firmnav/firmnav_"))
	assert.True(t, strings.HasSuffix(p, ".sock"))
}
