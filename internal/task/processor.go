package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/internal/observability/alerting"
	"ASpec-Commerce/pkg/logger"
)

// Processor 从队列消费任务并交给 Executor 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerter = dispatcher }
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}

	result, execErr := p.executor.Execute(ctx, task.Request())
	if execErr != nil {
		return p.handleFailure(ctx, task, execErr)
	}

	var record ExecutionResult
	if result != nil {
		record = *result
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	attrs := []any{
		slog.String("task_id", task.ID),
		slog.String("agent", string(task.Agent)),
		slog.String("subject", task.Subject()),
	}
	if record.Decision != nil {
		attrs = append(attrs, slog.String("action", string(record.Decision.Action)))
	}
	if record.Transaction != nil {
		attrs = append(attrs, slog.Bool("settled", record.Transaction.Success))
	}
	logger.Audit().Info("任务执行成功", attrs...)
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := !retryable || task.Attempts >= task.MaxRetries

	if err := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); err != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("agent", string(task.Agent)),
		slog.String("subject", task.Subject()),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	if terminal {
		stage := "terminal"
		if !retryable {
			stage = "non_retryable"
		}
		p.emitAlert(ctx, task, code, execErr, stage)
		return nil
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 重投失败", task.ID))
		_ = p.store.MarkFailed(ctx, task.ID, CodeTaskPublish, wrapped.Error(), true)
		p.emitAlert(ctx, task, CodeTaskPublish, wrapped, "requeue")
		return nil
	}
	p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    cause.Error(),
		Severity:   xerrors.AttributesOf(code).Severity,
		Source:     "task",
		Subject:    task.Subject(),
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   map[string]string{"stage": stage, "agent": string(task.Agent)},
		OccurredAt: time.Now().UTC(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage))
	}
}
