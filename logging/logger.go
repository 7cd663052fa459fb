// Package logging provides a context scoped, structured logger for the
// authorizer. Loggers are attached to a request's context by the HTTP
// middleware and gRPC interceptor, and packages log through the context:
//
//	logging.Infow(ctx, "authorization code issued", "client_id", client.ID)
//
// Fields added with Track persist for the lifetime of the request and are
// emitted with the completion log line.
package logging

import "context"

type ctxkey struct {
	logger Logger
}

// With attaches a logger to the context.
//
// This can be used to create logging scopes like so:
//
//	for _, c := range clients {
//	  ctx := With(ctx, logger.Named(c.ID))
//	  registerClient(ctx, c)
//	}
func With(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxkey{}, &ctxkey{
		logger: logger,
	})
}

// FromContext returns the scoped logger. If no logger has been attached a no-op
// logger is returned, so callers never need to nil check.
func FromContext(ctx context.Context) Logger {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok && c.logger != nil {
		return c.logger
	}
	return nopLogger
}

// Track a field across the lifetime of the context. Tracked values persist
// back up the call-chain to the request logger. Do not use this as a
// convenience in loops without first creating a new scope with
// `logging.With(ctx, logger.Named("foo"))`.
func Track(ctx context.Context, field string, value interface{}) {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok && c.logger != nil {
		c.logger = c.logger.With(field, value)
	}
}

// Logger provides an abstract logging interface designed around uber-go/zap's
// sugared logger.
type Logger interface {
	Debug(args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Debugf(msg string, args ...interface{})
	Info(args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Infof(msg string, args ...interface{})
	Warn(args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Warnf(msg string, args ...interface{})
	Error(args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Errorf(msg string, args ...interface{})
	Fatal(args ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})
	Fatalf(msg string, args ...interface{})

	// Named creates a child logger with the given name.
	Named(name string) Logger

	// With creates a child logger and attaches structured context to it.
	With(field string, value interface{}) Logger
}

func Debugw(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Debugw(msg, fields...)
}

func Debugf(ctx context.Context, msg string, args ...interface{}) {
	FromContext(ctx).Debugf(msg, args...)
}

func Info(ctx context.Context, msg string) {
	FromContext(ctx).Info(msg)
}

func Infow(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Infow(msg, fields...)
}

func Infof(ctx context.Context, msg string, args ...interface{}) {
	FromContext(ctx).Infof(msg, args...)
}

func Warnw(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Warnw(msg, fields...)
}

func Warnf(ctx context.Context, msg string, args ...interface{}) {
	FromContext(ctx).Warnf(msg, args...)
}

func Errorw(ctx context.Context, msg string, fields ...interface{}) {
	FromContext(ctx).Errorw(msg, fields...)
}

func Errorf(ctx context.Context, msg string, args ...interface{}) {
	FromContext(ctx).Errorf(msg, args...)
}
