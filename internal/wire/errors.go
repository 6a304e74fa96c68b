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
	"errors"
	"fmt"

	perrors "firmnav/pkg/errors"
)

// ErrNeedMore 缓冲区不足一帧，需要继续读取；不消费任何字节
var ErrNeedMore = errors.New("wire: need more data")

// ErrPeerClosed 对端有序关闭（零字节读取），终止性错误，不做重新同步
var ErrPeerClosed = &TransportError{Op: OpClosed, terminal: true}

// TransportOp 传输错误类别
type TransportOp string

const (
	OpTimeout TransportOp = "timeout"
	OpClosed  TransportOp = "closed"
	OpRead    TransportOp = "read"
	OpWrite   TransportOp = "write"
)

// TransportError 超时、意外关闭等传输层错误
type TransportError struct {
	Op       TransportOp
	Err      error
	terminal bool
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("wire: transport %s", e.Op)
	}
	return fmt.Sprintf("wire: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Severity 超时可恢复；关闭与写失败为致命
func (e *TransportError) Severity() perrors.Severity {
	if e.terminal {
		return perrors.SeverityFatal
	}
	return perrors.SeverityRecoverable
}

// DecodeReason 解码失败原因
type DecodeReason string

const (
	ReasonBadLength   DecodeReason = "bad_length"
	ReasonInvalidUTF8 DecodeReason = "invalid_utf8"
	ReasonInvalidJSON DecodeReason = "invalid_json"
	ReasonTruncated   DecodeReason = "truncated"
	// ReasonInvalidEvent 合法 JSON 但不符合事件结构，由 event 包产生
	ReasonInvalidEvent DecodeReason = "invalid_event"
)

// DecodeError 长度字段损坏、非法 UTF-8/JSON、截断；消息已丢弃并重新同步
type DecodeError struct {
	Reason DecodeReason
	Slot   int
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("wire: decode slot %d: %s", e.Slot, e.Reason)
	}
	return fmt.Sprintf("wire: decode slot %d: %s: %v", e.Slot, e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Severity 可恢复
func (e *DecodeError) Severity() perrors.Severity { return perrors.SeverityRecoverable }

// DesyncError 扫描全部缓冲字节仍未找到 sentinel，缓冲区已清空
type DesyncError struct {
	Discarded int
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("wire: protocol desync, no sentinel in %d buffered bytes", e.Discarded)
}

// Severity 可恢复
func (e *DesyncError) Severity() perrors.Severity { return perrors.SeverityRecoverable }
