package errs

import (
	"errors"
	"fmt"
	"strings"
)

// TransportError 网络或交易所调用失败
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport 包装一次失败的外部调用
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// ParseError 余额/手续费/订单报文字段无法解析
type ParseError struct {
	Field string
	Value interface{}
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error on %s (%v): %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("parse error on %s (%v)", e.Field, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse 创建解析错误
func Parse(field string, value interface{}, err error) error {
	return &ParseError{Field: field, Value: value, Err: err}
}

// ReconciliationFailure 启动对账有步骤失败，禁止进入实盘
type ReconciliationFailure struct {
	Steps map[string]error
}

func (e *ReconciliationFailure) Error() string {
	names := make([]string, 0, len(e.Steps))
	for _, name := range StepOrder {
		if err, ok := e.Steps[name]; ok {
			names = append(names, fmt.Sprintf("%s: %v", name, err))
		}
	}
	return "system boot failed: " + strings.Join(names, "; ")
}

// StepOrder 对账步骤的固定顺序（用于稳定输出）
var StepOrder = []string{"trader", "fees", "orders", "balances"}

// InvariantViolation 事件违反状态约束，丢弃
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Reason
}

// Invariant 创建约束违规错误
func Invariant(format string, args ...interface{}) error {
	return &InvariantViolation{Reason: fmt.Sprintf(format, args...)}
}

// IsTransport 判断是否为传输错误
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsParse 判断是否为解析错误
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
