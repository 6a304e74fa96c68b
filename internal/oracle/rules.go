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

package oracle

import (
	"firmnav/internal/event"
	"firmnav/internal/wire"
)

// Rule 无副作用的判定规则；Match 为 true 即违背不变量
type Rule struct {
	Name  string
	Match func(rec event.Record) bool
}

// RuleGetAccessVariableSuccess 未通过校验的 GetAccessVariable 却返回成功
const RuleGetAccessVariableSuccess = "get_access_variable_success"

// DefaultRules 默认规则表
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: RuleGetAccessVariableSuccess,
			Match: func(rec event.Record) bool {
				return rec.Command == wire.OpGetAccessVariable && rec.Return.Present && rec.Return.Value == 0
			},
		},
	}
}

// evaluate 按顺序匹配，第一条命中的规则决定结论
func evaluate(rules []Rule, rec event.Record) Verdict {
	for _, r := range rules {
		if r.Match(rec) {
			return Verdict{Violated: true, Rule: r.Name}
		}
	}
	return Verdict{}
}
