package decision

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/pkg/logger"
)

// guarded 把三类决策错误（含调用超时）降级为 HOLD，其余错误与 panic 统一包装为 UNEXPECTED_FAULT 向上抛出。
type guarded struct {
	next      Oracle
	onDegrade func(Context, error)
}

// GuardOption 定制 Guarded。
type GuardOption func(*guarded)

// OnDegrade 在每次降级时回调，供指标统计使用。
func OnDegrade(fn func(Context, error)) GuardOption {
	return func(g *guarded) { g.onDegrade = fn }
}

// Guarded 包装决策方，保证格式问题与不可用只会得到 HOLD。决策方直接返回的
// Decision 同样经过 Validate。
func Guarded(next Oracle, opts ...GuardOption) Oracle {
	g := &guarded{next: next}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func (g *guarded) Decide(ctx context.Context, in Context) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			d = Decision{}
			err = xerrors.New(xerrors.CodeUnexpectedFault, fmt.Sprintf("decision oracle panicked: %v", r))
		}
	}()

	d, err = g.next.Decide(ctx, in)
	if err == nil {
		if err = Validate(d); err == nil {
			return d, nil
		}
	}
	if !Degradable(err) && stdErrors.Is(err, context.DeadlineExceeded) {
		err = xerrors.Wrap(xerrors.CodeOracleUnavailable, err, "decision oracle timed out")
	}
	if Degradable(err) {
		logger.Named("decision").Warn("决策降级为 HOLD",
			slog.String("agent", string(in.Kind)),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()))
		if g.onDegrade != nil {
			g.onDegrade(in, err)
		}
		return Degrade(err), nil
	}
	if _, ok := xerrors.From(err); ok {
		return Decision{}, err
	}
	return Decision{}, xerrors.Wrap(xerrors.CodeUnexpectedFault, err, "")
}

// rateLimited 在每次调用前等待令牌，保护外部模型的配额。
type rateLimited struct {
	next    Oracle
	limiter *rate.Limiter
}

// RateLimited 为决策方加上限流。limiter 为 nil 时原样返回。
func RateLimited(next Oracle, limiter *rate.Limiter) Oracle {
	if limiter == nil {
		return next
	}
	return &rateLimited{next: next, limiter: limiter}
}

func (r *rateLimited) Decide(ctx context.Context, in Context) (Decision, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Decision{}, xerrors.Wrap(xerrors.CodeOracleUnavailable, err, "rate limit wait aborted")
	}
	return r.next.Decide(ctx, in)
}
