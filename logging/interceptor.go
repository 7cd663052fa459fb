package logging

import (
	"context"
	"reflect"

	"github.com/dpup/authorizer/errors"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

const stackSize = 5

// Interceptor returns a gRPC unary interceptor chain that scopes a logger per
// call, logs call completion, and records error details. The base logger is
// used when the incoming context does not already carry one.
func Interceptor(base Logger) grpc.UnaryServerInterceptor {
	return grpc_middleware.ChainUnaryServer(
		scopingInterceptor(base),
		grpcLoggingInterceptor,
		errorInterceptor,
	)
}

// Creates a new logging scope for each call, using the RPC method name as the
// logger name. This ensures Track works as expected.
func scopingInterceptor(base Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		logger := base
		if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok && c.logger != nil {
			logger = c.logger
		}
		return handler(With(ctx, logger.Named(info.FullMethod)), req)
	}
}

// Adds extra error fields to the logging context.
func errorInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			Track(ctx, "error.panic", true)
			err = errors.Wrap(r, 3)
			resp = nil
		}
		if err != nil {
			trackError(ctx, err)
		}
	}()

	resp, err = handler(ctx, req)
	return
}

func trackError(ctx context.Context, err error) {
	Track(ctx, "error.type", reflect.TypeOf(err))
	TrackError(ctx, err)
}

var grpcLoggingInterceptor = grpc_logging.UnaryServerInterceptor(grpc_logging.LoggerFunc(func(ctx context.Context, lvl grpc_logging.Level, msg string, fields ...any) {
	logger := FromContext(ctx)

	if z, ok := logger.(*ZapLogger); ok {
		// Only panics get zap's own stack trace, errors carry their stack as a
		// field via errorInterceptor.
		logger = &ZapLogger{z: z.z.Desugar().WithOptions(
			zap.AddStacktrace(zapcore.PanicLevel),
		).Sugar()}
	}

	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := fields[i].(string)
		logger = logger.With(key, fields[i+1])
	}

	switch lvl {
	case grpc_logging.LevelDebug:
		logger.Debug(msg)
	case grpc_logging.LevelInfo:
		logger.Info(msg)
	case grpc_logging.LevelWarn:
		logger.Warn(msg)
	default:
		logger.Error(msg)
	}
}))
