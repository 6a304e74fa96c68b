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
	"fmt"
	"strconv"
	"strings"

	perrors "firmnav/pkg/errors"
)

// Opcode 固件命令编号
type Opcode int

const (
	OpGetCRC            Opcode = 0
	OpAllocatePool      Opcode = 1
	OpGetAccessVariable Opcode = 2
	OpValidateAccessKey Opcode = 3
)

// OpNone 尚未发出任何命令
const OpNone Opcode = -1

var opcodeNames = map[Opcode]string{
	OpGetCRC:            "GetCrc",
	OpAllocatePool:      "AllocatePool",
	OpGetAccessVariable: "GetAccessVariable",
	OpValidateAccessKey: "ValidateAccessKey",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	if o == OpNone {
		return "none"
	}
	return "Opcode(" + strconv.Itoa(int(o)) + ")"
}

// Operand 可选整型操作数
type Operand struct {
	Value int64
	Valid bool
}

// Some 构造有效操作数
func Some(v int64) Operand { return Operand{Value: v, Valid: true} }

func (o Operand) token() string {
	if !o.Valid {
		return "-"
	}
	return strconv.FormatInt(o.Value, 10)
}

// Command 单步动作，按值传递
type Command struct {
	Opcode   Opcode
	Operand0 Operand
	Operand1 Operand
}

// String 同 ParseCommand 的输入格式，如 "2,0x6abf0c8"
func (c Command) String() string {
	parts := []string{strconv.Itoa(int(c.Opcode))}
	if c.Operand0.Valid || c.Operand1.Valid {
		parts = append(parts, operandHex(c.Operand0))
	}
	if c.Operand1.Valid {
		parts = append(parts, operandHex(c.Operand1))
	}
	return strings.Join(parts, ",")
}

func operandHex(o Operand) string {
	if !o.Valid {
		return "-"
	}
	if o.Value < 0 {
		return strconv.FormatInt(o.Value, 10)
	}
	return "0x" + strconv.FormatInt(o.Value, 16)
}

// ParseCommand 解析 "opcode[,operand0[,operand1]]"，操作数支持 0x 前缀，"-" 表示缺省
func ParseCommand(s string) (Command, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	if len(fields) == 0 || len(fields) > 3 || fields[0] == "" {
		return Command{}, perrors.Wrapf(perrors.ErrInvalidArg, "command %q", s)
	}
	op, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return Command{}, perrors.Wrapf(perrors.ErrInvalidArg, "command %q: opcode: %v", s, err)
	}
	cmd := Command{Opcode: Opcode(op)}
	for i, f := range fields[1:] {
		f = strings.TrimSpace(f)
		if f == "" || f == "-" {
			continue
		}
		v, err := strconv.ParseInt(f, 0, 64)
		if err != nil {
			return Command{}, perrors.Wrapf(perrors.ErrInvalidArg, "command %q: operand%d: %v", s, i, err)
		}
		if i == 0 {
			cmd.Operand0 = Some(v)
		} else {
			cmd.Operand1 = Some(v)
		}
	}
	return cmd, nil
}

// MarshalText 出站编码：v1 <opcode> <operand0|-> <operand1|->\n
func (c Command) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%s %d %s %s\n", EncodingVersion, int(c.Opcode), c.Operand0.token(), c.Operand1.token())), nil
}

// UnmarshalText 解析出站编码（tracer 侧与测试使用）
func (c *Command) UnmarshalText(b []byte) error {
	fields := strings.Fields(string(b))
	if len(fields) != 4 || fields[0] != EncodingVersion {
		return perrors.Wrapf(perrors.ErrInvalidArg, "wire command %q", string(b))
	}
	op, err := strconv.Atoi(fields[1])
	if err != nil {
		return perrors.Wrapf(perrors.ErrInvalidArg, "wire command opcode: %v", err)
	}
	out := Command{Opcode: Opcode(op)}
	for i, f := range fields[2:] {
		if f == "-" {
			continue
		}
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return perrors.Wrapf(perrors.ErrInvalidArg, "wire command operand%d: %v", i, err)
		}
		if i == 0 {
			out.Operand0 = Some(v)
		} else {
			out.Operand1 = Some(v)
		}
	}
	*c = out
	return nil
}

// PrefixKey 动作前缀的规范键，用于跨 episode 记忆
func PrefixKey(prefix []Command) string {
	parts := make([]string, len(prefix))
	for i, c := range prefix {
		parts[i] = strconv.Itoa(int(c.Opcode)) + ":" + c.Operand0.token() + ":" + c.Operand1.token()
	}
	return strings.Join(parts, "|")
}
