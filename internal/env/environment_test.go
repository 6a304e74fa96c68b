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

package env

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firmnav/internal/oracle"
	"firmnav/internal/reward"
	"firmnav/internal/runlog"
	"firmnav/internal/session"
	"firmnav/internal/wire"
	perrors "firmnav/pkg/errors"
	"firmnav/pkg/log"
)

const initEvents = 2

// fakeTracer 进程内模拟 tracer：连接端点、发送初始事件、按命令回应事件
type fakeTracer struct {
	layout  wire.Layout
	spawned atomic.Int32
}

type fakeProc struct {
	once sync.Once
	stop chan struct{}
	mu   sync.Mutex
	conn net.Conn
}

func (p *fakeProc) Pid() int { return 1 }

func (p *fakeProc) Kill() error {
	p.once.Do(func() {
		close(p.stop)
		p.mu.Lock()
		if p.conn != nil {
			_ = p.conn.Close()
		}
		p.mu.Unlock()
	})
	return nil
}

func (f *fakeTracer) Spawn(ctx context.Context, endpoint string) (session.Process, error) {
	f.spawned.Add(1)
	p := &fakeProc{stop: make(chan struct{})}
	go f.run(p, endpoint)
	return p, nil
}

func (f *fakeTracer) dial(p *fakeProc, endpoint string) net.Conn {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-p.stop:
			return nil
		default:
		}
		conn, err := net.Dial("unix", endpoint)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (f *fakeTracer) frame(payload string) []byte {
	b, err := f.layout.Encode([]byte(payload))
	if err != nil {
		panic(err)
	}
	return b
}

func (f *fakeTracer) run(p *fakeProc, endpoint string) {
	conn := f.dial(p, endpoint)
	if conn == nil {
		return
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	defer conn.Close()

	for i := 0; i < initEvents; i++ {
		if _, err := conn.Write(f.frame(`{"return":1}`)); err != nil {
			return
		}
	}
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var cmd wire.Command
		if err := cmd.UnmarshalText(sc.Bytes()); err != nil {
			return
		}
		var out []byte
		switch cmd.Opcode {
		case wire.OpGetAccessVariable:
			out = f.frame(`{"return":0,"command":2,"req_crc":7}`)
		case wire.OpValidateAccessKey:
			out = f.frame(`{"return":`)
		case wire.OpAllocatePool:
			if cmd.Operand0.Valid && cmd.Operand0.Value == 99 {
				return
			}
			out = f.frame(`{"return":3}`)
		default:
			out = f.frame(`{"return":5,"valid_key":1}`)
		}
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "fe")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

type fixture struct {
	env    *Environment
	tracer *fakeTracer
	store  runlog.Store
	run    runlog.Run
}

func newFixture(t *testing.T, maxSteps int) *fixture {
	t.Helper()
	return newFixtureWith(t, Options{MaxSteps: maxSteps})
}

func newFixtureWith(t *testing.T, opts Options) *fixture {
	t.Helper()
	opts.InitEventCount = initEvents
	tracer := &fakeTracer{layout: wire.DefaultLayout()}
	ctrl := session.NewController(session.Options{
		SocketPath:    socketPath(t),
		AcceptTimeout: 5 * time.Second,
		RecvTimeout:   2 * time.Second,
		Spawner:       tracer,
	})
	store := runlog.NewMemoryStore()
	run, err := store.BeginRun(context.Background(), "test")
	require.NoError(t, err)

	e := New(ctrl, oracle.New(oracle.NewMemoryMemo()), reward.New(nil), runlog.NewBuffer(store, run), opts)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return &fixture{env: e, tracer: tracer, store: store, run: run}
}

func getAccessVariable() wire.Command {
	return wire.Command{Opcode: wire.OpGetAccessVariable, Operand0: wire.Some(0x6abf0c8)}
}

func TestEnvironment_RewardAcrossEpisodes(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 4)

	obs, err := fx.env.Reset(ctx)
	require.NoError(t, err)
	rows, cols := obs.Shape()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 7, cols)
	assert.Equal(t, make([]float64, 28), obs.Vector())

	res, err := fx.env.Step(ctx, wire.Command{Opcode: wire.OpGetCRC, Operand0: wire.Some(1)})
	require.NoError(t, err)
	assert.Nil(t, res.Degraded)
	assert.Zero(t, res.Reward)
	assert.Equal(t, Row{0, 1, 0, 0, 5, 0, 0}, res.Observation.Rows[0])
	assert.False(t, res.Done)

	res, err = fx.env.Step(ctx, getAccessVariable())
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.True(t, res.Events[0].Invariant)
	assert.Equal(t, 50.0, res.Reward)
	assert.Equal(t, 50.0, res.TotalReward)
	assert.Equal(t, Row{7, 0, 0, 0, 0, 2, 1}, res.Observation.Rows[1])

	// 新 episode 重放相同前缀
	_, err = fx.env.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.env.Episode())
	_, err = fx.env.Step(ctx, wire.Command{Opcode: wire.OpGetCRC, Operand0: wire.Some(1)})
	require.NoError(t, err)
	res, err = fx.env.Step(ctx, getAccessVariable())
	require.NoError(t, err)
	assert.Equal(t, 75.0, res.Reward)
	assert.Equal(t, 75.0, res.TotalReward)
	assert.Equal(t, int32(2), fx.tracer.spawned.Load())

	st := fx.env.Status()
	assert.Equal(t, "connected", st.Session)
	assert.Equal(t, 1, st.Episode)
	assert.Equal(t, 2, st.Step)
	assert.Equal(t, fx.run.ID, st.RunID)

	// 上一个 episode 的步骤已在 Reset 时写出
	steps, err := fx.store.ListSteps(ctx, fx.run.ID, 0)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 50.0, steps[1].Reward)
	assert.Equal(t, int64(0x6abf0c8), *steps[1].Operand0)
	assert.Nil(t, steps[1].Operand1)
}

func TestEnvironment_DegradedStep(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 4)
	_, err := fx.env.Reset(ctx)
	require.NoError(t, err)

	res, err := fx.env.Step(ctx, wire.Command{Opcode: wire.OpGetCRC})
	require.NoError(t, err)
	require.Nil(t, res.Degraded)

	res, err = fx.env.Step(ctx, wire.Command{Opcode: wire.OpValidateAccessKey})
	require.NoError(t, err)
	require.Error(t, res.Degraded)
	assert.True(t, perrors.Recoverable(res.Degraded))
	var de *wire.DecodeError
	assert.True(t, perrors.As(res.Degraded, &de))
	assert.Zero(t, res.Reward)
	assert.Equal(t, Row{}, res.Observation.Rows[1])
	assert.Equal(t, 1, fx.env.Status().FailureStreak)

	// 后续步骤照常
	res, err = fx.env.Step(ctx, getAccessVariable())
	require.NoError(t, err)
	assert.Nil(t, res.Degraded)
	assert.Equal(t, 20.0*5, res.Reward)
	assert.Zero(t, fx.env.Status().FailureStreak)
}

func TestEnvironment_FailureStreakWarnsOnce(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	fx := newFixtureWith(t, Options{
		MaxSteps:           6,
		DesyncWarnAfter:    3,
		DesyncWarnInterval: time.Hour,
		Logger:             log.NewWithWriter(&log.Config{Level: "warn"}, &buf),
	})
	_, err := fx.env.Reset(ctx)
	require.NoError(t, err)

	const crashed = "对端可能已崩溃"
	for i := 1; i <= 6; i++ {
		res, err := fx.env.Step(ctx, wire.Command{Opcode: wire.OpValidateAccessKey})
		require.NoError(t, err)
		require.Error(t, res.Degraded)
		assert.Equal(t, i, fx.env.Status().FailureStreak)
		if i < 3 {
			assert.NotContains(t, buf.String(), crashed, "streak %d", i)
		}
	}
	// 达到阈值后只告警一次，其余被限流
	assert.Equal(t, 1, strings.Count(buf.String(), crashed))
	assert.Contains(t, buf.String(), `"streak":3`)
}

func TestEnvironment_PeerCloseIsFatal(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 4)
	_, err := fx.env.Reset(ctx)
	require.NoError(t, err)

	res, err := fx.env.Step(ctx, wire.Command{Opcode: wire.OpAllocatePool, Operand0: wire.Some(99)})
	require.Error(t, err)
	assert.True(t, perrors.Fatal(err))
	assert.ErrorIs(t, err, wire.ErrPeerClosed)
	assert.True(t, res.Done)

	// Reset 重启会话后可继续
	_, err = fx.env.Reset(ctx)
	require.NoError(t, err)
	res, err = fx.env.Step(ctx, wire.Command{Opcode: wire.OpAllocatePool, Operand0: wire.Some(1)})
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Observation.Rows[0][4])
	assert.Equal(t, 1.0, res.Observation.Rows[0][5])
}

func TestEnvironment_StateErrors(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 2)

	_, err := fx.env.Step(ctx, wire.Command{Opcode: wire.OpGetCRC})
	assert.ErrorIs(t, err, perrors.ErrInvalidState)

	_, err = fx.env.Reset(ctx)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		res, err := fx.env.Step(ctx, wire.Command{Opcode: wire.OpGetCRC})
		require.NoError(t, err)
		assert.Equal(t, i == 1, res.Done)
	}
	res, err := fx.env.Step(ctx, wire.Command{Opcode: wire.OpGetCRC})
	assert.ErrorIs(t, err, perrors.ErrInvalidState)
	assert.True(t, res.Done)

	require.NoError(t, fx.env.Close(ctx))
	assert.Equal(t, "closed", fx.env.Status().Session)
	_, err = fx.env.Step(ctx, wire.Command{Opcode: wire.OpGetCRC})
	assert.ErrorIs(t, err, perrors.ErrInvalidState)
}

func TestEnvironment_EpochRollover(t *testing.T) {
	ctx := context.Background()
	tracer := &fakeTracer{layout: wire.DefaultLayout()}
	ctrl := session.NewController(session.Options{
		SocketPath:    socketPath(t),
		AcceptTimeout: 5 * time.Second,
		RecvTimeout:   2 * time.Second,
		Spawner:       tracer,
	})
	e := New(ctrl, oracle.New(oracle.NewMemoryMemo()), reward.New(nil), nil, Options{
		MaxSteps:           2,
		EpisodesPerEpoch:   2,
		InitEventCount:     initEvents,
		ClearOracleOnReset: true,
	})
	defer e.Close(ctx)

	for i := 0; i < 5; i++ {
		_, err := e.Reset(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, e.Episode())
	assert.Equal(t, 2, e.Epoch())
	assert.Empty(t, e.Status().RunID)
}
