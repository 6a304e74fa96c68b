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

package navigator

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bootstrap "firmnav/internal/app"
	"firmnav/internal/runlog"
	"firmnav/internal/session"
	"firmnav/internal/wire"
	"firmnav/pkg/config"
	"firmnav/pkg/log"
)

type connProcess struct {
	done chan struct{}
	conn chan net.Conn
}

func (p *connProcess) Pid() int { return 2 }

func (p *connProcess) Kill() error {
	close(p.done)
	select {
	case c := <-p.conn:
		_ = c.Close()
	default:
	}
	return nil
}

// echoTracer 对 GetAccessVariable 回应成功返回值，其余命令回应非 0
func echoTracer(layout wire.Layout) session.Spawner {
	return session.SpawnerFunc(func(ctx context.Context, endpoint string) (session.Process, error) {
		p := &connProcess{done: make(chan struct{}), conn: make(chan net.Conn, 1)}
		go func() {
			var conn net.Conn
			for conn == nil {
				select {
				case <-p.done:
					return
				case <-time.After(10 * time.Millisecond):
				}
				conn, _ = net.Dial("unix", endpoint)
			}
			p.conn <- conn
			sc := bufio.NewScanner(conn)
			for sc.Scan() {
				var cmd wire.Command
				if err := cmd.UnmarshalText(sc.Bytes()); err != nil {
					return
				}
				payload := `{"return":1}`
				if cmd.Opcode == wire.OpGetAccessVariable {
					payload = `{"return":0}`
				}
				frame, _ := layout.Encode([]byte(payload))
				if _, err := conn.Write(frame); err != nil {
					return
				}
			}
		}()
		return p, nil
	})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir, err := os.MkdirTemp("", "fa")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.Session.SocketPath = filepath.Join(dir, "s.sock")
	cfg.Session.RecvTimeout = "2s"
	cfg.Session.AcceptTimeout = "5s"
	cfg.Env.MaxSteps = 2
	cfg.Env.InitEventCount = 0
	cfg.RunLog = config.RunLogConfig{Type: "sqlite", Path: filepath.Join(dir, "runs.db")}
	cfg.Driver.Actions = []string{"0,1", "2,0x6abf0c8"}
	cfg.Driver.Episodes = 2
	return cfg
}

func TestApp_RunEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	boot := &bootstrap.Bootstrap{Config: cfg, Logger: log.Nop()}

	a, err := NewApp(ctx, boot, echoTracer(wire.DefaultLayout()))
	require.NoError(t, err)

	sum, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Episodes)
	assert.Equal(t, 4, sum.Steps)
	// 第一个 episode 前缀新出现：1*10*5；第二个 episode 重放：5*15
	assert.Equal(t, 50.0+75.0, sum.TotalReward)
	assert.Equal(t, 75.0, sum.BestReward)

	st := a.Environment().Status()
	assert.Equal(t, 1, st.Episode)
	require.NoError(t, a.Shutdown(ctx))

	store, err := runlog.NewSQLiteStore(ctx, cfg.RunLog.Path)
	require.NoError(t, err)
	defer store.Close()
	steps, err := store.ListSteps(ctx, st.RunID, runlog.AllEpisodes)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, 75.0, steps[3].Reward)
}

func TestNewApp_InvalidDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Driver.Actions = nil
	_, err := NewApp(context.Background(), &bootstrap.Bootstrap{Config: cfg, Logger: log.Nop()}, echoTracer(wire.DefaultLayout()))
	assert.Error(t, err)
}

func TestNewApp_MonitoringServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitoring.Prometheus.Enable = true
	cfg.Monitoring.Prometheus.Port = 0
	a, err := NewApp(context.Background(), &bootstrap.Bootstrap{Config: cfg, Logger: log.Nop()}, echoTracer(wire.DefaultLayout()))
	require.NoError(t, err)
	assert.NotNil(t, a.hertz)
	require.NoError(t, a.Shutdown(context.Background()))
}
