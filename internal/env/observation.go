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

import "firmnav/internal/event"

// Row 单步观测
type Row = [event.RowWidth]float64

// Observation 固定形状 max_steps × 7 的 episode 观测，未执行的步为全 0
type Observation struct {
	Rows []Row
}

func newObservation(maxSteps int) Observation {
	return Observation{Rows: make([]Row, maxSteps)}
}

// Clone 深拷贝
func (o Observation) Clone() Observation {
	return Observation{Rows: append([]Row(nil), o.Rows...)}
}

// Vector 按行展开
func (o Observation) Vector() []float64 {
	out := make([]float64, 0, len(o.Rows)*event.RowWidth)
	for _, r := range o.Rows {
		out = append(out, r[:]...)
	}
	return out
}

// Shape (max_steps, 7)
func (o Observation) Shape() (int, int) { return len(o.Rows), event.RowWidth }
