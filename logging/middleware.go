package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/dpup/authorizer/errors"
)

// Middleware returns HTTP middleware that gives every request its own logging
// scope, named after the method and path. Panics are recovered and reported
// as 500s. A single line is logged when the request completes, carrying any
// fields recorded with Track.
func Middleware(base Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := With(r.Context(), base.Named(r.Method+" "+r.URL.Path))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				if p := recover(); p != nil {
					Track(ctx, "error.panic", true)
					trackError(ctx, errors.Wrap(p, 2))
					if !rec.wroteHeader {
						http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
				}

				logger := FromContext(ctx).
					With("http.status", rec.status).
					With("http.duration", time.Since(start))
				switch {
				case rec.status >= http.StatusInternalServerError:
					logger.Error("request failed")
				case rec.status >= http.StatusBadRequest:
					logger.Warn("request rejected")
				default:
					logger.Info("request completed")
				}
			}()

			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}

// TrackError records error fields on the request scope, they are emitted with
// the completion log line.
func TrackError(ctx context.Context, err error) {
	if c, ok := ctx.Value(ctxkey{}).(*ctxkey); ok && c.logger != nil {
		c.logger = c.logger.
			With("error", err.Error()).
			With("error.http_status", errors.HTTPStatusCode(err))
		var e *errors.Error
		if errors.As(err, &e) {
			c.logger = c.logger.
				With("error.stack_trace", e.MinimalStack(0, stackSize)).
				With("error.original_type", e.TypeName())
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}
