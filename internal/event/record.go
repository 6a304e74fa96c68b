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

// Package event 将 heap schema 载荷解析为固定字段的事件记录
package event

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"firmnav/internal/wire"
	perrors "firmnav/pkg/errors"
)

// 事件 JSON 字段名
const (
	KeyReqCRC    = "req_crc"
	KeyValidKey  = "valid_key"
	KeyCRCMagic1 = "crc_magic1"
	KeyCRCMagic2 = "crc_magic2"
	KeyReturn    = "return"
	KeyCommand   = "command"
	KeyWireCmd   = "wire_command"
)

// RowWidth 每步观测行宽度
const RowWidth = 7

// Field 可缺省数值字段；缺省或 null 时 Present=false，观测值取 0
type Field struct {
	Value   float64
	Present bool
	// Int 载荷中的整数原文，超出 float64 精度（2^53）的 CRC/magic 值靠它保真
	Int string
}

// maxExactInt float64 可精确表示的最大整数
const maxExactInt = 1 << 53

// Num 构造存在的字段
func Num(v float64) Field {
	f := Field{Value: v, Present: true}
	if v == math.Trunc(v) && math.Abs(v) <= maxExactInt {
		f.Int = strconv.FormatInt(int64(v), 10)
	}
	return f
}

// Obs 观测向量中的取值
func (f Field) Obs() float64 {
	if !f.Present {
		return 0
	}
	return f.Value
}

func (f Field) canonical() string {
	if !f.Present {
		return "null"
	}
	if f.Int != "" {
		return f.Int
	}
	return strconv.FormatFloat(f.Value, 'g', -1, 64)
}

func (f Field) jsonValue() interface{} {
	if !f.Present {
		return nil
	}
	if f.Int != "" {
		return json.Number(f.Int)
	}
	return f.Value
}

// Record 单条 tracer 事件
type Record struct {
	ReqCRC    Field
	ValidKey  Field
	CRCMagic1 Field
	CRCMagic2 Field
	Return    Field
	// Command 事件所属命令，恒为 Encoder 记录的当前命令
	Command wire.Opcode
	// WireCommand 载荷中 tracer 自报的命令字段，只参与指纹与运行日志
	WireCommand Field
	// Extra 未知字段，参与指纹计算
	Extra map[string]json.RawMessage

	// 以下由 Oracle 填充，不在线上出现
	Invariant bool
	Rule      string
}

// SchemaHeap 事件所在的 schema
const SchemaHeap = "heap"

// FromFrame 解析帧中所有 heap 载荷，其余 schema 忽略
func FromFrame(f wire.Frame, current wire.Opcode) ([]Record, error) {
	var out []Record
	for _, p := range f.Payloads {
		if p.Schema != SchemaHeap {
			continue
		}
		rec, err := Decode(p.Data, current)
		if err != nil {
			var de *wire.DecodeError
			if perrors.As(err, &de) {
				de.Slot = p.Slot
			}
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Decode 解析单个 heap 载荷；current 为发出该事件前的最后一条命令。
// 结构不符时返回可恢复的 *wire.DecodeError(invalid_event)
func Decode(data []byte, current wire.Opcode) (Record, error) {
	rec, err := decode(data, current)
	if err != nil {
		return Record{}, &wire.DecodeError{Reason: wire.ReasonInvalidEvent, Slot: -1, Err: err}
	}
	return rec, nil
}

func decode(data []byte, current wire.Opcode) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, perrors.Wrap(perrors.ErrInvalidArg, "event payload is not a JSON object")
	}
	rec := Record{Command: current}
	var err error
	for key, msg := range raw {
		switch key {
		case KeyReqCRC:
			rec.ReqCRC, err = parseField(key, msg)
		case KeyValidKey:
			rec.ValidKey, err = parseField(key, msg)
		case KeyCRCMagic1:
			rec.CRCMagic1, err = parseField(key, msg)
		case KeyCRCMagic2:
			rec.CRCMagic2, err = parseField(key, msg)
		case KeyReturn:
			rec.Return, err = parseField(key, msg)
		case KeyCommand:
			rec.WireCommand, err = parseField(key, msg)
			if err == nil && rec.WireCommand.Present && rec.WireCommand.Value != math.Trunc(rec.WireCommand.Value) {
				err = perrors.Wrapf(perrors.ErrInvalidArg, "event field %s: not an integer", key)
			}
		default:
			if rec.Extra == nil {
				rec.Extra = make(map[string]json.RawMessage)
			}
			rec.Extra[key] = canonicalJSON(msg)
		}
		if err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

// parseField 数字照常解析；null 视为缺省；布尔按 0/1
func parseField(key string, msg json.RawMessage) (Field, error) {
	trimmed := bytes.TrimSpace(msg)
	switch string(trimmed) {
	case "null":
		return Field{}, nil
	case "true":
		return Num(1), nil
	case "false":
		return Num(0), nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return Field{}, perrors.Wrapf(perrors.ErrInvalidArg, "event field %s: not a number", key)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return Field{}, perrors.Wrapf(perrors.ErrInvalidArg, "event field %s: %v", key, err)
	}
	v, err := n.Float64()
	if err != nil {
		return Field{}, perrors.Wrapf(perrors.ErrInvalidArg, "event field %s: %v", key, err)
	}
	f := Num(v)
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		f.Int = strconv.FormatInt(i, 10)
	} else if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		f.Int = strconv.FormatUint(u, 10)
	}
	return f, nil
}

// canonicalJSON 重新编码以消除空白与对象键顺序差异
func canonicalJSON(msg json.RawMessage) json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return msg
	}
	out, err := json.Marshal(v)
	if err != nil {
		return msg
	}
	return out
}

// Canonical 规范化字段集合（键 -> 文本值），与字段在载荷中的顺序无关
func (r Record) Canonical() map[string]string {
	m := map[string]string{
		KeyReqCRC:    r.ReqCRC.canonical(),
		KeyValidKey:  r.ValidKey.canonical(),
		KeyCRCMagic1: r.CRCMagic1.canonical(),
		KeyCRCMagic2: r.CRCMagic2.canonical(),
		KeyReturn:    r.Return.canonical(),
		KeyCommand:   strconv.Itoa(int(r.Command)),
		KeyWireCmd:   r.WireCommand.canonical(),
	}
	for k, v := range r.Extra {
		m["extra."+k] = string(v)
	}
	return m
}

// Row 观测行：req_crc, valid_key, crc_magic1, crc_magic2, return, command, invariant
func (r Record) Row() [RowWidth]float64 {
	var inv float64
	if r.Invariant {
		inv = 1
	}
	return [RowWidth]float64{
		r.ReqCRC.Obs(),
		r.ValidKey.Obs(),
		r.CRCMagic1.Obs(),
		r.CRCMagic2.Obs(),
		r.Return.Obs(),
		float64(r.Command),
		inv,
	}
}

// MarshalJSON 运行日志中的事件表示，缺省字段输出 null
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 8+len(r.Extra))
	for k, v := range r.Extra {
		out[k] = v
	}
	put := func(k string, f Field) {
		out[k] = f.jsonValue()
	}
	put(KeyReqCRC, r.ReqCRC)
	put(KeyValidKey, r.ValidKey)
	put(KeyCRCMagic1, r.CRCMagic1)
	put(KeyCRCMagic2, r.CRCMagic2)
	put(KeyReturn, r.Return)
	out[KeyCommand] = int(r.Command)
	if r.WireCommand.Present {
		out[KeyWireCmd] = r.WireCommand.jsonValue()
	}
	out["invariants"] = r.Invariant
	if r.Rule != "" {
		out["rule"] = r.Rule
	}
	return json.Marshal(out)
}
