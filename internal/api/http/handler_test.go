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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firmnav/internal/api/http/middleware"
	"firmnav/internal/env"
	"firmnav/internal/runlog"
	"firmnav/pkg/metrics"
)

type staticStatus env.Status

func (s staticStatus) Status() env.Status { return env.Status(s) }

func buildForTest(status StatusSource, store runlog.Store) *server.Hertz {
	r := NewRouter(NewHandler(status, store), middleware.NewMiddleware(nil))
	return r.Build(":0", nil)
}

func get(h *server.Hertz, path string) *ut.ResponseRecorder {
	return ut.PerformRequest(h.Engine, "GET", path, &ut.Body{Body: bytes.NewReader(nil), Len: 0})
}

func TestHealthCheck(t *testing.T) {
	w := get(buildForTest(nil, nil), "/api/health")
	resp := w.Result()
	assert.Equal(t, 200, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), "ok")
	assert.Equal(t, "*", string(resp.Header.Peek("Access-Control-Allow-Origin")))
}

func TestStatus(t *testing.T) {
	w := get(buildForTest(nil, nil), "/api/status")
	assert.Equal(t, 503, w.Result().StatusCode())

	src := staticStatus{RunID: "r1", Session: "connected", Epoch: 1, Episode: 12, Step: 3, TotalReward: 50}
	w = get(buildForTest(src, nil), "/api/status")
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())
	var got env.Status
	require.NoError(t, json.Unmarshal(resp.Body(), &got))
	assert.Equal(t, env.Status(src), got)
}

func TestListSteps(t *testing.T) {
	ctx := context.Background()
	store := runlog.NewMemoryStore()
	run, err := store.BeginRun(ctx, "")
	require.NoError(t, err)
	require.NoError(t, store.AppendSteps(ctx, []runlog.Step{
		{RunID: run.ID, Episode: 0, Step: 0, Opcode: 0, Events: json.RawMessage(`[]`)},
		{RunID: run.ID, Episode: 1, Step: 0, Reward: 50, Opcode: 2, Events: json.RawMessage(`[]`)},
	}))
	h := buildForTest(nil, store)

	w := get(h, "/api/runs/"+run.ID+"/steps?episode=1")
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())
	var body struct {
		RunID string        `json:"run_id"`
		Steps []runlog.Step `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Equal(t, run.ID, body.RunID)
	require.Len(t, body.Steps, 1)
	assert.Equal(t, 50.0, body.Steps[0].Reward)

	w = get(h, "/api/runs/"+run.ID+"/steps")
	require.NoError(t, json.Unmarshal(w.Result().Body(), &body))
	assert.Len(t, body.Steps, 2)

	w = get(h, "/api/runs/"+run.ID+"/steps?episode=x")
	assert.Equal(t, 400, w.Result().StatusCode())

	w = get(buildForTest(nil, nil), "/api/runs/"+run.ID+"/steps")
	assert.Equal(t, 404, w.Result().StatusCode())
}

func TestMetrics(t *testing.T) {
	metrics.EpisodesTotal.Inc()
	w := get(buildForTest(nil, nil), "/metrics")
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), "firmnav_episodes_total")
	assert.Contains(t, string(resp.Header.ContentType()), "text/plain")
}

func TestRateLimit(t *testing.T) {
	r := NewRouter(NewHandler(nil, nil), middleware.NewMiddleware(nil))
	r.SetRateLimit(0.001, 1)
	h := r.Build(":0", nil)
	assert.Equal(t, 200, get(h, "/api/health").Result().StatusCode())
	assert.Equal(t, 429, get(h, "/api/health").Result().StatusCode())
}
