package service

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindNotFound          ErrorKind = "NotFound"
	KindForbidden         ErrorKind = "Forbidden"
	KindInvalidState      ErrorKind = "InvalidState"
	KindInvalidTransition ErrorKind = "InvalidTransition"
	KindInvalidArgument   ErrorKind = "InvalidArgument"
	KindInternal          ErrorKind = "Internal"
)

// HTTPStatus 错误类别对应的 HTTP 状态码
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidState:
		return http.StatusConflict
	case KindInvalidTransition, KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// LedgerError 账本操作返回的结构化错误
type LedgerError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

func newLedgerError(kind ErrorKind, msg string) *LedgerError {
	return &LedgerError{Kind: kind, Message: msg}
}

func internalError(op string, err error) *LedgerError {
	return &LedgerError{Kind: KindInternal, Message: "ledger: " + op + " failed", Err: err}
}

// AsLedgerError 提取 LedgerError，非账本错误视为 Internal
func AsLedgerError(err error) *LedgerError {
	var le *LedgerError
	if errors.As(err, &le) {
		return le
	}
	return &LedgerError{Kind: KindInternal, Message: "internal error", Err: err}
}

// IsKind 判断错误是否属于某个类别
func IsKind(err error, kind ErrorKind) bool {
	var le *LedgerError
	return errors.As(err, &le) && le.Kind == kind
}

var (
	errSessionNotFound = newLedgerError(KindNotFound, "session not found")
	errForbidden       = newLedgerError(KindForbidden, "forbidden")
	errNotActive       = newLedgerError(KindInvalidState, "session is not active")
)
