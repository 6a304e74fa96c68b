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

import "context"

// Buffer 在 episode 内缓冲步骤记录，episode 结束时一次写入
type Buffer struct {
	store   Store
	run     Run
	pending []Step
}

// NewBuffer 绑定到一次运行
func NewBuffer(store Store, run Run) *Buffer {
	return &Buffer{store: store, run: run}
}

// Run 所属运行
func (b *Buffer) Run() Run { return b.run }

// Add 追加一步
func (b *Buffer) Add(st Step) {
	st.RunID = b.run.ID
	b.pending = append(b.pending, st)
}

// Pending 未写入的步数
func (b *Buffer) Pending() int { return len(b.pending) }

// Flush 写入并清空；失败时保留缓冲以便重试
func (b *Buffer) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.store.AppendSteps(ctx, b.pending); err != nil {
		return err
	}
	b.pending = b.pending[:0]
	return nil
}
