package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// 错误码，对外暴露给客户端做机器判断
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeAuthentication    = "AUTHENTICATION_ERROR"
	CodeAuthorization     = "AUTHORIZATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeCapacity          = "CAPACITY_EXCEEDED"
	CodeLastAdmin         = "LAST_ADMIN"
	CodeDuplicateInvite   = "DUPLICATE_INVITE"
	CodeAlreadyMember     = "ALREADY_MEMBER"
	CodeExpired           = "EXPIRED"
	CodeLocked            = "ACCOUNT_LOCKED"
	CodeConflict          = "CONFLICT"
	CodeRateLimited       = "RATE_LIMITED"
	CodeServer            = "SERVER_ERROR"
)

var statusByCode = map[string]int{
	CodeValidation:        http.StatusBadRequest,
	CodeAuthentication:    http.StatusUnauthorized,
	CodeAuthorization:     http.StatusForbidden,
	CodeNotFound:          http.StatusNotFound,
	CodeInvalidTransition: http.StatusBadRequest,
	CodeCapacity:          http.StatusBadRequest,
	CodeLastAdmin:         http.StatusBadRequest,
	CodeDuplicateInvite:   http.StatusBadRequest,
	CodeAlreadyMember:     http.StatusBadRequest,
	CodeExpired:           http.StatusBadRequest,
	CodeLocked:            http.StatusForbidden,
	CodeConflict:          http.StatusConflict,
	CodeRateLimited:       http.StatusTooManyRequests,
	CodeServer:            http.StatusInternalServerError,
}

// Error represents a coded error with stack trace
type Error struct {
	Code    string                 `json:"code"`
	Status  int                    `json:"-"`
	Message string                 `json:"message"`
	Err     error                  `json:"-"` // 原始错误，不序列化
	Stack   string                 `json:"-"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements the errors.Wrapper interface
func (e *Error) Unwrap() error {
	return e.Err
}

// WithCode creates a new error with code
func WithCode(code, message string) *Error {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{
		Code:    code,
		Status:  status,
		Message: message,
		Stack:   captureStack(),
	}
}

// WithCodef creates a new error with code and formatted message
func WithCodef(code, format string, args ...interface{}) *Error {
	return WithCode(code, fmt.Sprintf(format, args...))
}

func Validation(format string, args ...interface{}) *Error {
	return WithCodef(CodeValidation, format, args...)
}

func Authentication(format string, args ...interface{}) *Error {
	return WithCodef(CodeAuthentication, format, args...)
}

func Authorization(format string, args ...interface{}) *Error {
	return WithCodef(CodeAuthorization, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return WithCodef(CodeNotFound, format, args...)
}

// InvalidTransition 状态机拒绝了请求的状态迁移
func InvalidTransition(from, action string) *Error {
	return WithCodef(CodeInvalidTransition, "cannot %s while %s", action, from).
		WithDetail("currentStatus", from)
}

func Capacity(max int) *Error {
	return WithCodef(CodeCapacity, "circle has reached its member limit of %d", max).
		WithDetail("maxMembers", max)
}

func LastAdmin() *Error {
	return WithCode(CodeLastAdmin, "a circle must keep at least one active admin")
}

func DuplicateInvite(email string) *Error {
	return WithCodef(CodeDuplicateInvite, "%s already has a pending invite", email)
}

func AlreadyMember() *Error {
	return WithCode(CodeAlreadyMember, "user is already a member of this circle")
}

func Expired(format string, args ...interface{}) *Error {
	return WithCodef(CodeExpired, format, args...)
}

// Locked 账户因多次登录失败被锁定
func Locked(until time.Time) *Error {
	return WithCode(CodeLocked, "account is temporarily locked due to too many failed login attempts").
		WithDetail("lockUntil", until.UTC())
}

func Conflict(format string, args ...interface{}) *Error {
	return WithCodef(CodeConflict, format, args...)
}

// Server 包装非预期错误，对外只暴露通用信息
func Server(err error) *Error {
	e := WithCode(CodeServer, "internal server error")
	e.Err = err
	return e
}

// Wrap wraps an error with message
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return &Error{
			Code:    e.Code,
			Status:  e.Status,
			Message: message,
			Err:     err,
			Stack:   e.Stack,
			Details: e.Details,
		}
	}

	return &Error{
		Code:    CodeServer,
		Status:  http.StatusInternalServerError,
		Message: message,
		Err:     err,
		Stack:   captureStack(),
	}
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithDetail adds a detail entry to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}

	// 创建新的错误实例以避免修改原始错误
	newErr := &Error{
		Code:    e.Code,
		Status:  e.Status,
		Message: e.Message,
		Err:     e.Err,
		Stack:   e.Stack,
		Details: make(map[string]interface{}, len(e.Details)+1),
	}
	for k, v := range e.Details {
		newErr.Details[k] = v
	}
	newErr.Details[key] = value

	return newErr
}

// captureStack captures the current stack trace
func captureStack() string {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// 移除顶部几行（captureStack 和构造函数本身）
	lines := strings.Split(stack, "\n")
	if len(lines) > 6 {
		stack = strings.Join(lines[6:], "\n")
	}

	return strings.TrimSpace(stack)
}

// As finds the first *Error in the chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code, CodeServer for foreign errors
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeServer
}

// IsCode reports whether err carries the given code
func IsCode(err error, code string) bool {
	return err != nil && GetCode(err) == code
}

// StatusOf returns the HTTP status for err
func StatusOf(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// GetStack returns the error stack trace
func GetStack(err error) string {
	if e, ok := As(err); ok {
		return e.Stack
	}
	return ""
}

// Cause returns the underlying error
func Cause(err error) error {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Err != nil {
			err = e.Err
		} else {
			return err
		}
	}
	return err
}

// Format implements fmt.Formatter
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "[%s] %s", e.Code, e.Error())
			if e.Err != nil {
				fmt.Fprintf(s, ": %v", e.Err)
			}
			if e.Stack != "" {
				fmt.Fprintf(s, "\n%s", e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
