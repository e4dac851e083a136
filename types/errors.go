package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
)

var (
	ErrTemplateNotFound           = errors.New("template not found")
	ErrTemplateParse              = errors.New("template parse error")
	ErrPlaceholderPolicyViolation = errors.New("placeholder policy violation")
	ErrTemplateNameEmpty          = errors.New("template name is empty")
)

var (
	ErrRender             = errors.New("render error")
	ErrUnsupportedElement = errors.New("unsupported element")
	ErrFontNotFound       = errors.New("font not found")
	ErrFontInvalid        = errors.New("font invalid")
	ErrFontExists         = errors.New("font already registered")
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrEncode            = errors.New("encode error")
)

var (
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
	ErrTimeout           = errors.New("timeout")
	ErrInvalidParams     = errors.New("invalid params")
)

var (
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheTypeUnknown     = errors.New("cache type unknown")
	ErrCacheOperationFailed = errors.New("cache operation failed")
	ErrCacheEntryCorrupt    = errors.New("cache entry corrupt")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

var (
	ErrServiceIsRunning    = errors.New("service is running")
	ErrServiceIsNotRunning = errors.New("service is not running")
	ErrInvalidState        = errors.New("invalid state")
)

type ErrorKind string

const (
	KindTemplateNotFound           ErrorKind = "TemplateNotFound"
	KindTemplateParseError         ErrorKind = "TemplateParseError"
	KindPlaceholderPolicyViolation ErrorKind = "PlaceholderPolicyViolation"
	KindRenderError                ErrorKind = "RenderError"
	KindUnsupportedElement         ErrorKind = "UnsupportedElement"
	KindFontNotFound               ErrorKind = "FontNotFound"
	KindUnsupportedFormat          ErrorKind = "UnsupportedFormat"
	KindSizeLimitExceeded          ErrorKind = "SizeLimitExceeded"
	KindTimeoutError               ErrorKind = "TimeoutError"
	KindCacheError                 ErrorKind = "CacheError"
	KindEncodeError                ErrorKind = "EncodeError"
	KindInvalidParams              ErrorKind = "InvalidParams"
	KindInternal                   ErrorKind = "Internal"
)

var kindSentinels = map[ErrorKind]error{
	KindTemplateNotFound:           ErrTemplateNotFound,
	KindTemplateParseError:         ErrTemplateParse,
	KindPlaceholderPolicyViolation: ErrPlaceholderPolicyViolation,
	KindRenderError:                ErrRender,
	KindUnsupportedElement:         ErrUnsupportedElement,
	KindFontNotFound:               ErrFontNotFound,
	KindUnsupportedFormat:          ErrUnsupportedFormat,
	KindSizeLimitExceeded:          ErrSizeLimitExceeded,
	KindTimeoutError:               ErrTimeout,
	KindCacheError:                 ErrCacheOperationFailed,
	KindEncodeError:                ErrEncode,
	KindInvalidParams:              ErrInvalidParams,
}

// Error is the structured failure returned to callers of the engine.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapKind(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	if sentinel, ok := kindSentinels[e.Kind]; ok && sentinel == target {
		return true
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	return false
}

func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
