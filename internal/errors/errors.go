package errors

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Code 是跨模块共享的错误码。
type Code string

// Severity 描述错误等级，决定告警与审计的处理方式。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// 通用错误码。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeRetriesExhausted      Code = "RETRIES_EXHAUSTED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// 决策、额度、结算与付费资源相关的错误码。
const (
	CodeOracleUnavailable     Code = "ORACLE_UNAVAILABLE"
	CodeOracleMalformed       Code = "ORACLE_MALFORMED"
	CodeOracleOutOfRange      Code = "ORACLE_OUT_OF_RANGE"
	CodeBudgetExhausted       Code = "BUDGET_EXHAUSTED"
	CodeSettlementFailure     Code = "SETTLEMENT_FAILURE"
	CodePaymentExpired        Code = "PAYMENT_EXPIRED"
	CodePaymentExceedsAutoPay Code = "PAYMENT_EXCEEDS_AUTO_PAY_LIMIT"
	CodeUnexpectedFault       Code = "UNEXPECTED_FAULT"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo},
		CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning},
		CodeRetriesExhausted:      {Message: "retries exhausted", Severity: SeverityWarning, Alert: true},
		CodeInitializationFailure: {Message: "component not initialized", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true},

		CodeOracleUnavailable:     {Message: "decision oracle unavailable", Severity: SeverityWarning, Retryable: true},
		CodeOracleMalformed:       {Message: "decision oracle returned malformed output", Severity: SeverityWarning},
		CodeOracleOutOfRange:      {Message: "decision oracle returned out-of-range values", Severity: SeverityWarning},
		CodeBudgetExhausted:       {Message: "daily budget exhausted", Severity: SeverityInfo},
		CodeSettlementFailure:     {Message: "settlement failed", Severity: SeverityWarning},
		CodePaymentExpired:        {Message: "payment requirement expired", Severity: SeverityInfo},
		CodePaymentExceedsAutoPay: {Message: "payment exceeds auto-pay limit", Severity: SeverityInfo},
		CodeUnexpectedFault:       {Message: "unexpected fault", Severity: SeverityCritical, Alert: true},
	}
)

// Register 供业务包在 init 阶段注册自己的错误码。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	registry[code] = attr
	registryMu.Unlock()
}

// AttributesOf 返回错误码的默认属性，未注册时退回 UNKNOWN。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	alert     *bool
	severity  *Severity
}

// Option 调整单个错误实例的属性。
type Option func(*Error)

// WithMetadata 附加键值信息，例如资源 ID 或金额。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码默认的可重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithAlert 覆盖错误码默认的告警属性。
func WithAlert(alert bool) Option {
	return func(e *Error) { e.alert = &alert }
}

// WithSeverity 覆盖错误码默认的严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.severity = &sev }
}

// New 创建错误，message 为空时使用注册表中的描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 用统一错误类型包裹 cause。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.code, e.message)
	if len(e.metadata) > 0 {
		keys := make([]string, 0, len(e.metadata))
		for k := range e.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.metadata[k])
		}
		b.WriteString(")")
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，便于 errors.Is(err, errors.New(CodeX, ""))。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	return ok && e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	return AttributesOf(e.code).Alert
}

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 从错误链中取出统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误链中第一个统一错误的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode 判断错误链中是否包含指定错误码。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
