package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 navigator 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		FramesDecoded, ResyncBytes, DesyncTotal, DecodeFailures,
		OracleChecks, InvariantViolations,
		StepReward, StepsTotal, StepFailureStreak,
		SessionTransitions, EpisodesTotal,
	)
}

// FramesDecoded 成功解码的帧数（按 schema）
var FramesDecoded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "firmnav_frames_decoded_total",
		Help: "成功解码的 schema 载荷数",
	},
	[]string{"schema"},
)

// ResyncBytes 重新同步时丢弃的字节数
var ResyncBytes = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "firmnav_resync_discarded_bytes_total",
		Help: "重新同步时丢弃的字节数",
	},
)

// DesyncTotal 扫描完整个缓冲区仍未找到 sentinel 的次数
var DesyncTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "firmnav_protocol_desync_total",
		Help: "未找到 sentinel、缓冲区被清空的次数",
	},
)

// DecodeFailures 解码失败次数（按原因）
var DecodeFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "firmnav_decode_failures_total",
		Help: "帧解码失败次数",
	},
	[]string{"reason"}, // bad_length | invalid_utf8 | invalid_json | truncated | timeout
)

// OracleChecks Oracle 判定次数（按是否命中记忆表）
var OracleChecks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "firmnav_oracle_checks_total",
		Help: "Oracle 判定次数",
	},
	[]string{"result"}, // memo_hit | evaluated
)

// InvariantViolations 不变量违背次数（按规则）
var InvariantViolations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "firmnav_invariant_violations_total",
		Help: "不变量违背次数",
	},
	[]string{"rule"},
)

// StepReward 单步增量奖励分布
var StepReward = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "firmnav_step_reward",
		Help:    "单步增量奖励",
		Buckets: []float64{0, 5, 50, 75, 150, 500, 1500, 5000},
	},
)

// StepsTotal 步数（按结果）
var StepsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "firmnav_steps_total",
		Help: "环境步数",
	},
	[]string{"outcome"}, // ok | degraded | fatal
)

// StepFailureStreak 当前连续失败步数（对端可能已崩溃）
var StepFailureStreak = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "firmnav_step_failure_streak",
		Help: "当前连续解码失败的步数",
	},
)

// SessionTransitions 会话状态迁移次数
var SessionTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "firmnav_session_transitions_total",
		Help: "会话状态迁移次数",
	},
	[]string{"to"},
)

// EpisodesTotal 已开始的 episode 数
var EpisodesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "firmnav_episodes_total",
		Help: "已开始的 episode 数",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
