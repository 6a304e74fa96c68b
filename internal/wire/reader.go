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
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"unicode/utf8"

	"firmnav/pkg/log"
	"firmnav/pkg/metrics"
)

// DefaultReadSize 单次底层读取大小
const DefaultReadSize = 1024

// Stats Reader 计数（同时上报 Prometheus）
type Stats struct {
	Frames         int
	ResyncBytes    int
	Desyncs        int
	DecodeFailures int
}

// Reader 缓冲并解码 tracer 字节流。非并发安全，由单个环境实例独占
type Reader struct {
	layout   Layout
	sentinel []byte
	src      io.Reader
	buf      []byte
	scratch  []byte
	logger   *log.Logger
	stats    Stats
}

// ReaderOption Reader 可选项
type ReaderOption func(*Reader)

// WithReadSize 设置单次读取大小
func WithReadSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.scratch = make([]byte, n)
		}
	}
}

// WithLogger 设置日志
func WithLogger(l *log.Logger) ReaderOption {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReader 创建 Reader；src 为 nil 时只能通过 Feed 输入
func NewReader(src io.Reader, layout Layout, opts ...ReaderOption) *Reader {
	r := &Reader{
		layout:   layout,
		sentinel: layout.sentinelBytes(),
		src:      src,
		scratch:  make([]byte, DefaultReadSize),
		logger:   log.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Feed 追加新收到的字节
func (r *Reader) Feed(p []byte) {
	r.buf = append(r.buf, p...)
}

// Buffered 当前缓冲字节数
func (r *Reader) Buffered() int { return len(r.buf) }

// Stats 返回计数快照
func (r *Reader) Stats() Stats { return r.stats }

// Reset 清空缓冲区（会话重置时调用）
func (r *Reader) Reset() {
	r.buf = r.buf[:0]
}

// SetSource 切换底层连接（重连后）
func (r *Reader) SetSource(src io.Reader) {
	r.src = src
	r.Reset()
}

func (r *Reader) discard(n int) {
	if n >= len(r.buf) {
		r.buf = r.buf[:0]
		return
	}
	r.buf = append(r.buf[:0], r.buf[n:]...)
}

// resync 从 from 起查找下一个 sentinel 并丢弃之前的字节；
// 找不到时只保留可能是 sentinel 开头的尾部（至多 len(sentinel)-1 字节）
func (r *Reader) resync(from int) error {
	if from > len(r.buf) {
		from = len(r.buf)
	}
	idx := bytes.Index(r.buf[from:], r.sentinel)
	if idx < 0 {
		keep := sentinelTail(r.buf[from:], r.sentinel)
		dropped := len(r.buf) - keep
		r.discard(dropped)
		r.stats.ResyncBytes += dropped
		r.stats.Desyncs++
		metrics.ResyncBytes.Add(float64(dropped))
		metrics.DesyncTotal.Inc()
		r.logger.Debug("未找到 sentinel，丢弃缓冲字节", "discarded", dropped, "kept", keep)
		return &DesyncError{Discarded: dropped}
	}
	dropped := from + idx
	r.discard(dropped)
	r.stats.ResyncBytes += dropped
	metrics.ResyncBytes.Add(float64(dropped))
	r.logger.Debug("重新同步到下一个 sentinel", "discarded", dropped)
	return nil
}

// sentinelTail buf 末尾与 sentinel 前缀相同的最长长度（小于 len(sentinel)）
func sentinelTail(buf, sentinel []byte) int {
	for n := len(sentinel) - 1; n > 0; n-- {
		if n <= len(buf) && bytes.Equal(buf[len(buf)-n:], sentinel[:n]) {
			return n
		}
	}
	return 0
}

func (r *Reader) decodeFailed(reason DecodeReason, slot int, err error) error {
	r.stats.DecodeFailures++
	metrics.DecodeFailures.WithLabelValues(string(reason)).Inc()
	r.logger.Debug("丢弃损坏消息", "reason", string(reason), "slot", slot)
	// 丢弃当前 sentinel，下一次 Decode 从其后查找
	r.discard(len(r.sentinel))
	_ = r.resync(0)
	return &DecodeError{Reason: reason, Slot: slot, Err: err}
}

// headerBuffered 缓冲区以 sentinel 开头且完整头部已到达，即存在一条未完成的消息
func (r *Reader) headerBuffered() bool {
	return len(r.buf) >= r.layout.HeaderSize() && bytes.Equal(r.buf[:4], r.sentinel)
}

// Decode 仅基于已缓冲字节解码一帧，不阻塞。
// 返回 ErrNeedMore 时不消费任何字节；*DesyncError 时缓冲区只剩可能的 sentinel 前缀；*DecodeError 时坏消息已丢弃
func (r *Reader) Decode() (Frame, error) {
	for {
		if len(r.buf) < 4 {
			return Frame{}, ErrNeedMore
		}
		if !bytes.Equal(r.buf[:4], r.sentinel) {
			if err := r.resync(1); err != nil {
				return Frame{}, err
			}
			continue
		}
		header := r.layout.HeaderSize()
		if len(r.buf) < header {
			return Frame{}, ErrNeedMore
		}

		lengths := make([]int, len(r.layout.Schemas))
		total := header
		for i := range lengths {
			n := binary.LittleEndian.Uint32(r.buf[4+4*i:])
			if int64(n) > int64(r.layout.maxPayload()) {
				return Frame{}, r.decodeFailed(ReasonBadLength, i, nil)
			}
			lengths[i] = int(n)
			total += int(n)
		}
		if len(r.buf) < total {
			return Frame{}, ErrNeedMore
		}

		var frame Frame
		off := header
		for i, n := range lengths {
			if n == 0 {
				continue
			}
			data := r.buf[off : off+n]
			off += n
			if !utf8.Valid(data) {
				return Frame{}, r.decodeFailed(ReasonInvalidUTF8, i, nil)
			}
			if !json.Valid(data) {
				var probe interface{}
				return Frame{}, r.decodeFailed(ReasonInvalidJSON, i, json.Unmarshal(data, &probe))
			}
			frame.Payloads = append(frame.Payloads, Payload{
				Slot:   i,
				Schema: r.layout.Schemas[i],
				Data:   append([]byte(nil), data...),
			})
			metrics.FramesDecoded.WithLabelValues(r.layout.Schemas[i]).Inc()
		}
		r.discard(total)
		r.stats.Frames++
		return frame, nil
	}
}

// DrainBuffered 反复 Decode 直到缓冲区不足一帧；返回解码出的帧及期间的可恢复错误
func (r *Reader) DrainBuffered() ([]Frame, error) {
	var frames []Frame
	var errs []error
	for {
		f, err := r.Decode()
		if err == nil {
			frames = append(frames, f)
			continue
		}
		if errors.Is(err, ErrNeedMore) {
			return frames, errors.Join(errs...)
		}
		var de *DesyncError
		if errors.As(err, &de) {
			return frames, errors.Join(append(errs, err)...)
		}
		errs = append(errs, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Next 返回下一帧，必要时从连接读取。读超时由连接的 deadline 决定；ctx 仅在两次读取之间检查。
//   - 头部已完整但载荷未到齐时超时：丢弃该消息、重新同步，返回可恢复的 DecodeError(truncated)
//   - 无未完成消息时超时：返回可恢复的 TransportError(timeout)，不消费字节
//   - 零字节读取/EOF：返回终止性的 ErrPeerClosed，不重新同步
func (r *Reader) Next(ctx context.Context) (Frame, error) {
	for {
		f, err := r.Decode()
		if err == nil {
			return f, nil
		}
		var de *DesyncError
		if !errors.Is(err, ErrNeedMore) && !errors.As(err, &de) {
			return Frame{}, err
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if r.src == nil {
			return Frame{}, ErrNeedMore
		}

		n, rerr := r.src.Read(r.scratch)
		if n > 0 {
			r.Feed(r.scratch[:n])
		}
		switch {
		case rerr == nil && n > 0:
			continue
		case rerr == nil:
			if len(r.buf) > 0 {
				return Frame{}, ErrPeerClosed
			}
			return Frame{}, &TransportError{Op: OpRead, Err: io.ErrNoProgress}
		case isTimeout(rerr):
			if r.headerBuffered() {
				metrics.DecodeFailures.WithLabelValues(string(ReasonTruncated)).Inc()
				r.stats.DecodeFailures++
				r.discard(len(r.sentinel))
				_ = r.resync(0)
				return Frame{}, &DecodeError{Reason: ReasonTruncated, Slot: -1, Err: rerr}
			}
			return Frame{}, &TransportError{Op: OpTimeout, Err: rerr}
		case errors.Is(rerr, io.EOF):
			if n > 0 {
				// 先尝试解码 EOF 之前到达的字节
				if f, err := r.Decode(); err == nil {
					return f, nil
				}
			}
			return Frame{}, ErrPeerClosed
		default:
			return Frame{}, &TransportError{Op: OpRead, Err: rerr, terminal: true}
		}
	}
}
