package authorizer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"github.com/dpup/authorizer/oauth"
	"github.com/dpup/authorizer/session"
	"github.com/robfig/cron/v3"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server serves the OAuth endpoints over HTTP and the gRPC health service on
// the same port.
//
// Usage:
//
//	s := authorizer.New(authorizer.WithAccounts(accounts))
//	if err := s.Start(); err != nil {
//	    log.Fatal(err)
//	}
type Server struct {
	// Hostname or IP to bind to.
	host string

	// Port to listen on.
	port int

	// Location of certificate file, if TLS to be used.
	certFile string

	// Location of key file, if TLS to be used.
	keyFile string

	readTimeout  time.Duration
	writeTimeout time.Duration

	// Carries the base logger into every request.
	baseContext context.Context

	// Handles original request and multiplexes to grpcServer or handler.
	mu         sync.Mutex
	httpServer *http.Server

	// Handles regular HTTP requests.
	handler http.Handler

	// Handles GRPC requests of content-type application/grpc.
	grpcServer *grpc.Server
	health     *health.Server

	authServer *oauth.AuthorizationServer
	sessions   *session.Manager

	// Runs the purge job, nil when storage expires records itself.
	cron *cron.Cron
}

// Handler returns the HTTP handler, with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// AuthorizationServer returns the grant engine.
func (s *Server) AuthorizationServer() *oauth.AuthorizationServer {
	return s.authServer
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// ServiceRegistrar returns the gRPC service registrar, additional services
// must be registered before Start.
func (s *Server) ServiceRegistrar() grpc.ServiceRegistrar {
	return s.grpcServer
}

// Start serving requests. Blocks until a SIGINT or SIGTERM is received.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprint(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapPrefix(err, "failed to listen", 0)
	}

	done := make(chan struct{})
	go func() {
		gracefulStop := make(chan os.Signal, 1)
		signal.Notify(gracefulStop, syscall.SIGTERM, syscall.SIGINT)
		sig := <-gracefulStop
		logging.Infow(s.baseContext, "graceful shutdown triggered", "signal", sig.String())
		_ = s.Shutdown()
		close(done)
	}()

	if err := s.Serve(ln); err != nil {
		return err
	}
	<-done
	return nil
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	defer ln.Close()

	httpServer := &http.Server{
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		BaseContext: func(net.Listener) context.Context {
			return s.baseContext
		},
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	grpcHandler := s.grpcServer
	httpHandler := gziphandler.GzipHandler(s.handler)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor == 2 && strings.Contains(r.Header.Get("Content-Type"), "application/grpc") {
			grpcHandler.ServeHTTP(w, r)
		} else {
			httpHandler.ServeHTTP(w, r)
		}
	})

	if s.cron != nil {
		s.cron.Start()
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var err error
	if s.certFile != "" {
		httpServer.Handler = handler
		httpServer.TLSConfig = safeTLSConfig()
		logging.Infow(s.baseContext, "listening for traffic", "address", "https://"+ln.Addr().String())
		err = httpServer.ServeTLS(ln, s.certFile, s.keyFile)
	} else {
		httpServer.Handler = h2c.NewHandler(handler, &http2.Server{})
		logging.Infow(s.baseContext, "listening for traffic", "address", "http://"+ln.Addr().String())
		err = httpServer.Serve(ln)
	}
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the purge job and drains connections, waiting at most 2s.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(s.baseContext, 2*time.Second)
	defer cancel()

	s.health.Shutdown()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	err := httpServer.Shutdown(ctx)
	if err != nil {
		logging.Errorw(ctx, "shutdown failed", "error", err)
	} else {
		logging.Info(ctx, "connections drained")
	}
	return err
}

// Purge deletes expired codes and tokens now, if storage supports it.
func (s *Server) Purge() {
	if p, ok := s.authServer.Storage().(oauth.Purger); ok {
		s.purge(p)
	}
}

func (s *Server) purge(p oauth.Purger) {
	ctx := logging.With(s.baseContext, logging.FromContext(s.baseContext).Named("purge"))
	n, err := p.PurgeExpired(ctx, time.Now())
	if err != nil {
		logging.Errorw(ctx, "purge failed", "error", err)
		return
	}
	logging.Debugw(ctx, "purge complete", "purged", n)
}
