// Package errors provides an error type that carries a stack trace, a gRPC
// status code, an HTTP status code, and a message that is safe to show to end
// users.
//
// Sentinel errors are declared once, with a code, and re-marked at the point
// they are returned so that the stack trace points at the caller:
//
//	var ErrUnknownClient = errors.NewC("unknown client", codes.InvalidArgument)
//
//	func lookup(id string) error {
//	    return errors.Mark(ErrUnknownClient, 0).Append(id)
//	}
//
// Marked errors still satisfy errors.Is against the sentinel.
package errors

import (
	"bytes"
	"fmt"
	"net/http"
	"reflect"
	"runtime"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/runtime/protoiface"
)

// The maximum number of stackframes on any error.
var MaxStackDepth = 50

// Error is an error with an attached stacktrace. It can be used wherever the
// builtin error interface is expected.
type Error struct {
	Err    error
	stack  []uintptr
	frames []StackFrame
	prefix string
	suffix string

	// gRPC status code to associate with an error response.
	code codes.Code

	// Error details which gRPC returns the client.
	details []protoiface.MessageV1

	// HTTP status code to associate with an error response.
	httpStatusCode int

	// Error message to return to client.
	publicMessage string
}

// New makes an Error from the given value. If that value is already an
// error then it will be used directly, if not, it will be passed to
// fmt.Errorf("%v"). The stacktrace will point to the line of code that
// called New.
func New(e interface{}) *Error {
	return newError(e, codes.Unknown, 1)
}

// NewC makes an Error with a status code defined.
func NewC(e interface{}, code codes.Code) *Error {
	return newError(e, code, 1)
}

func newError(e interface{}, code codes.Code, skip int) *Error {
	var err error
	switch e := e.(type) {
	case error:
		err = e
	default:
		err = fmt.Errorf("%v", e)
	}
	return &Error{
		Err:   err,
		stack: callers(3 + skip),
		code:  code,
	}
}

// Wrap makes an Error from the given value. If that value is already an
// *Error it is returned unchanged. The skip parameter indicates how far up the
// stack to start the stacktrace. 0 is from the current call, 1 from its
// caller, etc.
func Wrap(e interface{}, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		return err
	}
	return newError(e, codes.Unknown, 1+skip)
}

// MaybeWrap is like Wrap but returns a nil error interface when e is nil, so
// it can be used directly in return statements.
func MaybeWrap(e error, skip int) error {
	if e == nil {
		return nil
	}
	return Wrap(e, 1+skip)
}

// WrapPrefix makes an Error from the given value and adds a prefix to the
// message returned from Error(). The skip parameter indicates how far up the
// stack to start the stacktrace.
func WrapPrefix(e interface{}, prefix string, skip int) *Error {
	if e == nil {
		return nil
	}

	err := Wrap(e, 1+skip)
	if err.prefix != "" {
		prefix = fmt.Sprintf("%s: %s", prefix, err.prefix)
	}

	c := err.clone()
	c.prefix = prefix
	return c
}

// Mark takes an error and sets the stack trace from the point it was called,
// overriding any previous stack trace that may have been set. Mark never
// mutates the original, so it is safe to use on package level sentinels.
func Mark(e interface{}, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		c := err.clone()
		c.stack = callers(3 + skip)
		c.frames = nil
		return c
	}
	return Wrap(e, 1+skip)
}

// WithPublicMessage adds a public message to err. If the error is not already
// an `Error`, it will be wrapped in one.
func WithPublicMessage(err error, publicMessage string) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithPublicMessage(publicMessage)
}

// WithCode adds a gRPC status code to err. If the error is not already an
// `Error`, it will be wrapped in one.
func WithCode(err error, code codes.Code) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithCode(code)
}

// WithHTTPStatusCode adds an explicit HTTP status code to err, overriding the
// HTTP status mapped from the gRPC code.
func WithHTTPStatusCode(err error, code int) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithHTTPStatusCode(code)
}

// WithDetails adds gRPC details to err.
func WithDetails(err error, details ...protoiface.MessageV1) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithDetails(details...)
}

// Errorf creates a new error with the given message. Use it as a drop-in
// replacement for fmt.Errorf(), %w is supported.
func Errorf(format string, a ...interface{}) *Error {
	return Wrap(fmt.Errorf(format, a...), 1)
}

// Error returns the underlying error's message, with prefix and suffix.
func (err *Error) Error() string {
	msg := err.Err.Error()
	if err.prefix != "" {
		msg = err.prefix + ": " + msg
	}
	if err.suffix != "" {
		msg = msg + ": " + err.suffix
	}
	return msg
}

// Append returns a copy of the error with extra context added to the end of
// the message. The public message is unaffected.
func (err *Error) Append(msg string) *Error {
	c := err.clone()
	if c.suffix != "" {
		c.suffix += ": " + msg
	} else {
		c.suffix = msg
	}
	return c
}

// Stack returns the callstack formatted the same way that go does in
// runtime/debug.Stack().
func (err *Error) Stack() []byte {
	buf := bytes.Buffer{}
	for _, frame := range err.StackFrames() {
		buf.WriteString(frame.String())
	}
	return buf.Bytes()
}

// ErrorStack returns a string that contains both the error message and the
// callstack.
func (err *Error) ErrorStack() string {
	return err.TypeName() + " " + err.Error() + "\n" + string(err.Stack())
}

// StackFrames returns an array of frames containing information about the
// stack.
func (err *Error) StackFrames() []StackFrame {
	if err.frames == nil {
		err.frames = make([]StackFrame, len(err.stack))
		for i, pc := range err.stack {
			err.frames[i] = NewStackFrame(pc)
		}
	}
	return err.frames
}

// MinimalStack returns "file:line" strings for up to n frames, starting at
// frame skip. Used to keep log lines short.
func (err *Error) MinimalStack(skip, n int) []string {
	frames := err.StackFrames()
	var out []string
	for i := skip; i < len(frames) && len(out) < n; i++ {
		out = append(out, fmt.Sprintf("%s:%d", frames[i].File, frames[i].LineNumber))
	}
	return out
}

// TypeName returns the type of the wrapped error. e.g. *errors.errorString.
func (err *Error) TypeName() string {
	return reflect.TypeOf(err.Err).String()
}

// Unwrap the error (implements api for As function).
func (err *Error) Unwrap() error {
	return err.Err
}

// Is reports whether target is the same marked sentinel as err.
func (err *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Err == err.Err
	}
	return false
}

// Code returns the gRPC status code associated with the error.
func (err *Error) Code() codes.Code {
	return err.code
}

// WithCode sets the gRPC status code associated with the error.
func (err *Error) WithCode(code codes.Code) *Error {
	err.code = code
	return err
}

// Details returns the gRPC details associated with the error.
func (err *Error) Details() []protoiface.MessageV1 {
	return err.details
}

// WithDetails sets the gRPC details associated with the error.
func (err *Error) WithDetails(details ...protoiface.MessageV1) *Error {
	err.details = append(err.details, details...)
	return err
}

// HTTPStatusCode returns the HTTP status code that should be returned to the
// client. If a code is set, it will be used, otherwise a default will be
// returned based on the gRPC code.
func (err *Error) HTTPStatusCode() int {
	if err.httpStatusCode != 0 {
		return err.httpStatusCode
	}
	switch err.code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WithHTTPStatusCode sets the HTTP status code that should be returned to the
// client.
func (err *Error) WithHTTPStatusCode(code int) *Error {
	err.httpStatusCode = code
	return err
}

// PublicMessage returns the error string that should be returned to the client.
func (err *Error) PublicMessage() string {
	if err.publicMessage != "" {
		return err.publicMessage
	}
	return err.Error()
}

// WithPublicMessage sets the error string that should be returned to the client.
func (err *Error) WithPublicMessage(publicMessage string) *Error {
	err.publicMessage = publicMessage
	return err
}

// GRPCStatus returns a gRPC status object for the error.
func (err *Error) GRPCStatus() *status.Status {
	st := status.New(err.Code(), err.PublicMessage())
	if len(err.details) > 0 {
		st, _ = st.WithDetails(err.details...)
	}
	return st
}

func (err *Error) clone() *Error {
	c := *err
	c.details = append([]protoiface.MessageV1(nil), err.details...)
	return &c
}

// Code returns a gRPC status code for an error. If the error is nil, it returns
// codes.OK. If any error in the chain exposes a `Code()` method, it is
// returned. Otherwise codes.Unknown is returned.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var e codedError
	if As(err, &e) {
		return e.Code()
	}
	return codes.Unknown
}

// HTTPStatusCode returns an HTTP status code for an error. If the error is nil,
// it returns http.StatusOK. If any error in the chain exposes a
// `HTTPStatusCode()` method, it is returned. Otherwise
// http.StatusInternalServerError is returned.
func HTTPStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e httpError
	if As(err, &e) {
		return e.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}

type codedError interface {
	Code() codes.Code
}

type httpError interface {
	HTTPStatusCode() int
}

func callers(skip int) []uintptr {
	stack := make([]uintptr, MaxStackDepth)
	length := runtime.Callers(skip, stack[:])
	return stack[:length]
}
