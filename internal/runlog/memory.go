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

package runlog

import (
	"context"
	"sort"
	"sync"
	"time"

	perrors "firmnav/pkg/errors"
)

type memoryStore struct {
	mu    sync.RWMutex
	runs  map[string]Run
	steps map[string][]Step
}

// NewMemoryStore 创建内存版运行日志
func NewMemoryStore() Store {
	return &memoryStore{
		runs:  make(map[string]Run),
		steps: make(map[string][]Step),
	}
}

func (s *memoryStore) BeginRun(ctx context.Context, name string) (Run, error) {
	run := newRun(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return run, nil
}

func (s *memoryStore) AppendSteps(ctx context.Context, steps []Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range steps {
		if _, ok := s.runs[st.RunID]; !ok {
			return perrors.Wrapf(perrors.ErrNotFound, "run %s", st.RunID)
		}
	}
	for _, st := range steps {
		if st.CreatedAt.IsZero() {
			st.CreatedAt = time.Now().UTC()
		}
		if len(st.Events) > 0 {
			st.Events = append([]byte(nil), st.Events...)
		}
		s.steps[st.RunID] = append(s.steps[st.RunID], st)
	}
	return nil
}

func (s *memoryStore) ListSteps(ctx context.Context, runID string, episode int) ([]Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Step
	for _, st := range s.steps[runID] {
		if episode != AllEpisodes && st.Episode != episode {
			continue
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Epoch != b.Epoch {
			return a.Epoch < b.Epoch
		}
		if a.Episode != b.Episode {
			return a.Episode < b.Episode
		}
		return a.Step < b.Step
	})
	return out, nil
}

func (s *memoryStore) Close() error { return nil }
