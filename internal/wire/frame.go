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

// Package wire 实现 tracer 事件流的接收端：帧格式、缓冲解码与重新同步，以及出站命令编码。
//
// 帧格式（小端）：
//
//	offset   size   field
//	0        4      sentinel
//	4        4*N    每个 schema 槽位的载荷长度，0 表示缺省
//	4+4N     var    按槽位顺序拼接的 UTF-8 JSON 载荷
package wire

import (
	"encoding/binary"
	"fmt"
)

// DefaultSentinel 帧起始标记
const DefaultSentinel uint32 = 0x36afb081

// DefaultMaxPayload 单个载荷上限，超过视为长度字段损坏
const DefaultMaxPayload = 1 << 20

// DefaultSchemas 当前 tracer 只产生 heap 一种 schema
var DefaultSchemas = []string{"heap"}

// Layout 静态帧布局，两端必须一致
type Layout struct {
	Sentinel   uint32
	Schemas    []string
	MaxPayload int
}

// DefaultLayout 默认布局
func DefaultLayout() Layout {
	return Layout{Sentinel: DefaultSentinel, Schemas: append([]string(nil), DefaultSchemas...), MaxPayload: DefaultMaxPayload}
}

// HeaderSize 4 + 4N
func (l Layout) HeaderSize() int {
	return 4 + 4*len(l.Schemas)
}

func (l Layout) sentinelBytes() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, l.Sentinel)
	return b
}

func (l Layout) maxPayload() int {
	if l.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	return l.MaxPayload
}

// Payload 单个 schema 载荷
type Payload struct {
	Slot   int
	Schema string
	Data   []byte
}

// Frame 一条完整消息中长度大于 0 的载荷，按槽位顺序
type Frame struct {
	Payloads []Payload
}

// Encode 按布局编码一帧；data 以槽位下标索引，nil 或空表示缺省。tracer 侧与测试使用
func (l Layout) Encode(data ...[]byte) ([]byte, error) {
	if len(data) > len(l.Schemas) {
		return nil, fmt.Errorf("wire: %d payloads for %d schema slots", len(data), len(l.Schemas))
	}
	size := l.HeaderSize()
	for _, d := range data {
		size += len(d)
	}
	out := make([]byte, l.HeaderSize(), size)
	binary.LittleEndian.PutUint32(out[0:4], l.Sentinel)
	for i := range l.Schemas {
		var n int
		if i < len(data) {
			n = len(data[i])
		}
		binary.LittleEndian.PutUint32(out[4+4*i:], uint32(n))
	}
	for _, d := range data {
		out = append(out, d...)
	}
	return out, nil
}
