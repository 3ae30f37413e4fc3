package agent

import (
	"time"

	"ASpec-Commerce/internal/guardrail"
)

type options struct {
	limits          *guardrail.Limits
	eventCapacity   int
	recorder        Recorder
	decisionTimeout time.Duration
	clock           func() time.Time
}

// Option 定制 Agent。
type Option func(*options)

// WithLimits 覆盖默认额度。
func WithLimits(limits guardrail.Limits) Option {
	return func(o *options) { o.limits = &limits }
}

// WithEventCapacity 限制事件序列长度，0 表示不限。
func WithEventCapacity(n int) Option {
	return func(o *options) { o.eventCapacity = n }
}

// WithRecorder 注入指标记录器。
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithDecisionTimeout 限制单次决策调用的时长，超时按决策方不可用处理。
func WithDecisionTimeout(d time.Duration) Option {
	return func(o *options) { o.decisionTimeout = d }
}

// WithClock 替换额度账本的时间源，测试使用。
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

func buildOptions(defaults guardrail.Limits, opts []Option) options {
	o := options{recorder: nopRecorder{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.limits == nil {
		o.limits = &defaults
	}
	return o
}
