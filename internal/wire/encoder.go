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

package wire

import (
	"bufio"
	"context"
	"io"
)

// EncodingVersion 出站元组版本号，tracer 侧按此反序列化
const EncodingVersion = "v1"

// Encoder 将命令写入通道，并记录当前命令供下一条事件打标签
type Encoder struct {
	w       *bufio.Writer
	current Opcode
	sent    int
}

// NewEncoder 创建 Encoder
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w), current: OpNone}
}

// Reset 切换到新连接，清空未发送数据与当前命令
func (e *Encoder) Reset(w io.Writer) {
	e.w.Reset(w)
	e.current = OpNone
}

// Send 先冲刷上一步残留的出站数据，再写入并冲刷本条命令
func (e *Encoder) Send(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.w.Buffered() > 0 {
		if err := e.w.Flush(); err != nil {
			return &TransportError{Op: OpWrite, Err: err, terminal: true}
		}
	}
	b, _ := cmd.MarshalText()
	if _, err := e.w.Write(b); err != nil {
		return &TransportError{Op: OpWrite, Err: err, terminal: true}
	}
	if err := e.w.Flush(); err != nil {
		return &TransportError{Op: OpWrite, Err: err, terminal: true}
	}
	e.current = cmd.Opcode
	e.sent++
	return nil
}

// Current 最近一次成功发送的命令，未发送时为 OpNone
func (e *Encoder) Current() Opcode { return e.current }

// Sent 已发送命令数
func (e *Encoder) Sent() int { return e.sent }
