package authorizer

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"github.com/dpup/authorizer/oauth"
	"github.com/dpup/authorizer/pwdauth"
	"github.com/dpup/authorizer/session"
	"github.com/dpup/authorizer/storage"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Paths of the login endpoints served alongside the OAuth endpoints.
const (
	LoginPath   = "/login"
	LogoutPath  = "/logout"
	MetricsPath = "/metrics"
)

var (
	ErrMissingSigningKey = errors.NewC("session.signingKey must be set", codes.FailedPrecondition)

	// The authentication endpoint points at the login path, but no accounts
	// were given so nothing would answer there.
	ErrNoLoginHandler = errors.NewC("oauth.authenticationEndpoint is "+LoginPath+" but no accounts are configured", codes.FailedPrecondition)
)

// ServerOption customizes the server built by New.
type ServerOption func(*builder)

type handler struct {
	prefix      string
	httpHandler http.Handler
}

// New returns a new authorization server. Options override values read from
// Config. New panics if the configuration can not produce a working server.
func New(opts ...ServerOption) *Server {
	ConfigDefaults()
	b := &builder{
		host:            Config.String("server.host"),
		port:            Config.Int("server.port"),
		certFile:        Config.String("server.tls.certFile"),
		keyFile:         Config.String("server.tls.keyFile"),
		readTimeout:     Config.Duration("server.readTimeout"),
		writeTimeout:    Config.Duration("server.writeTimeout"),
		issuer:          Config.String("address"),
		authEndpoint:    Config.String("oauth.authenticationEndpoint"),
		signingKey:      []byte(Config.String("session.signingKey")),
		cookieName:      Config.String("session.cookieName"),
		sessionTTL:      Config.Duration("session.expiration"),
		purgeSchedule:   Config.String("storage.purgeSchedule"),
		securityHeaders: SecurityHeadersFromConfig(),
		hasher:          pwdauth.DefaultHasher,
	}
	for _, opt := range opts {
		opt(b)
	}
	s, err := b.build()
	if err != nil {
		panic(err)
	}
	return s
}

type builder struct {
	baseContext     context.Context
	logger          logging.Logger
	host            string
	port            int
	certFile        string
	keyFile         string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	issuer          string
	authEndpoint    string
	signingKey      []byte
	cookieName      string
	sessionTTL      time.Duration
	purgeSchedule   string
	securityHeaders *SecurityHeaders

	storage  oauth.Storage
	records  storage.Store
	accounts pwdauth.AccountFinder
	hasher   pwdauth.Hasher
	registry *prometheus.Registry

	serverOpts []oauth.ServerOption
	handlers   []handler
}

func (b *builder) handles(path string) bool {
	for _, h := range b.handlers {
		if h.prefix == path {
			return true
		}
	}
	return false
}

func (b *builder) build() (*Server, error) {
	if b.baseContext == nil {
		b.baseContext = context.Background()
	}
	if b.logger == nil {
		b.logger = logging.NewLogger(Config.String("logging.format"))
	}
	ctx := logging.With(b.baseContext, b.logger)

	if len(b.signingKey) == 0 {
		return nil, errors.Mark(ErrMissingSigningKey, 0)
	}
	if b.accounts == nil && b.authEndpoint == LoginPath && !b.handles(LoginPath) {
		return nil, errors.Mark(ErrNoLoginHandler, 0)
	}
	if b.storage == nil {
		st, err := StorageFromConfig(ctx)
		if err != nil {
			return nil, err
		}
		b.storage = st.OAuth
		if b.records == nil {
			b.records = st.Records
		}
	}
	if b.registry == nil {
		b.registry = prometheus.NewRegistry()
		b.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	metrics := oauth.NewMetrics(b.registry)
	serverOpts := []oauth.ServerOption{oauth.WithMetrics(metrics), oauth.WithSecretHasher(b.hasher)}
	if b.accounts != nil {
		serverOpts = append(serverOpts, oauth.WithCredentialVerifier(&AccountVerifier{Finder: b.accounts, Hasher: b.hasher}))
	}
	authServer := oauth.NewAuthorizationServer(b.storage, append(serverOpts, b.serverOpts...)...)

	sessionOpts := []session.Option{
		session.WithIssuer(b.issuer),
		session.WithCookieName(b.cookieName),
		session.WithExpiration(b.sessionTTL),
	}
	if b.records != nil {
		if err := storage.InitModels(ctx, b.records, &session.RevokedSession{}); err != nil {
			return nil, err
		}
		sessionOpts = append(sessionOpts, session.WithBlocklist(session.NewBlocklist(b.records)))
	}
	sessions := session.NewManager(b.signingKey, sessionOpts...)

	providerOpts := []oauth.ProviderOption{oauth.WithErrorMetrics(metrics)}
	if b.authEndpoint != "" {
		providerOpts = append(providerOpts, oauth.WithAuthenticationEndpoint(b.authEndpoint))
	}
	provider := oauth.NewProvider(authServer, sessions, providerOpts...)

	mux := http.NewServeMux()
	mux.Handle(oauth.AuthorizePath, oauth.AuthorizeHandler(provider))
	mux.Handle(oauth.TokenPath, oauth.TokenHandler(authServer))
	mux.Handle(oauth.MetadataPath, oauth.MetadataHandler(b.issuer, authServer))
	mux.Handle(LogoutPath, sessions.LogoutHandler())
	if b.accounts != nil {
		mux.Handle(LoginPath, sessions.LoginHandler(b.accounts, b.hasher))
	}
	mux.Handle(MetricsPath, promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
	for _, h := range b.handlers {
		mux.Handle(h.prefix, h.httpHandler)
	}

	secured, err := b.securityHeaders.Middleware(sessions.Middleware(mux))
	if err != nil {
		return nil, err
	}

	s := &Server{
		baseContext:  ctx,
		host:         b.host,
		port:         b.port,
		certFile:     b.certFile,
		keyFile:      b.keyFile,
		readTimeout:  b.readTimeout,
		writeTimeout: b.writeTimeout,
		handler:      logging.Middleware(b.logger)(secured),
		grpcServer:   grpc.NewServer(b.buildGRPCOpts()...),
		health:       health.NewServer(),
		authServer:   authServer,
		sessions:     sessions,
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)

	if p, ok := b.storage.(oauth.Purger); ok && b.purgeSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(b.purgeSchedule, func() { s.purge(p) }); err != nil {
			return nil, errors.WrapPrefix(err, "invalid storage.purgeSchedule", 0)
		}
	}
	return s, nil
}

func (b *builder) buildGRPCOpts() []grpc.ServerOption {
	opts := []grpc.ServerOption{grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
		logging.Interceptor(b.logger),
		grpc_recovery.UnaryServerInterceptor(),
	))}
	if b.isSecure() {
		opts = append(opts, grpc.Creds(serverTLSFromFile(b.certFile, b.keyFile)))
	}
	return opts
}

func (b *builder) isSecure() bool {
	return b.certFile != "" && b.keyFile != ""
}

// WithContext sets the base context for the server.
func WithContext(ctx context.Context) ServerOption {
	return func(b *builder) {
		b.baseContext = ctx
	}
}

// WithLogger sets the logger used for requests and background jobs.
//
// Config key: `logging.format`.
func WithLogger(l logging.Logger) ServerOption {
	return func(b *builder) {
		b.logger = l
	}
}

// WithHost configures the hostname or IP the server will listen on.
//
// Config key: `server.host`.
func WithHost(host string) ServerOption {
	return func(b *builder) {
		b.host = host
	}
}

// WithPort configures the port the server will listen on.
//
// Config key: `server.port`.
func WithPort(port int) ServerOption {
	return func(b *builder) {
		b.port = port
	}
}

// WithTLS configures the server to allow traffic via TLS using the provided
// cert. If not called server will use HTTP/H2C.
//
// Config keys: `server.tls.certFile`, `server.tls.keyFile`.
func WithTLS(certFile, keyFile string) ServerOption {
	return func(b *builder) {
		b.certFile = certFile
		b.keyFile = keyFile
	}
}

// WithTimeouts sets the HTTP read and write timeouts.
//
// Config keys: `server.readTimeout`, `server.writeTimeout`.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(b *builder) {
		b.readTimeout = read
		b.writeTimeout = write
	}
}

// WithIssuer sets the external address of the server, advertised in metadata
// and used as the session token issuer.
//
// Config key: `address`.
func WithIssuer(issuer string) ServerOption {
	return func(b *builder) {
		b.issuer = issuer
	}
}

// WithAuthenticationEndpoint sets where resource owners without a session are
// redirected.
//
// Config key: `oauth.authenticationEndpoint`.
func WithAuthenticationEndpoint(endpoint string) ServerOption {
	return func(b *builder) {
		b.authEndpoint = endpoint
	}
}

// WithSigningKey sets the HMAC key for session tokens.
//
// Config key: `session.signingKey`.
func WithSigningKey(key string) ServerOption {
	return func(b *builder) {
		b.signingKey = []byte(key)
	}
}

// WithStorage sets the storage for clients, codes and tokens, instead of the
// one selected by `storage.driver`.
func WithStorage(s oauth.Storage) ServerOption {
	return func(b *builder) {
		b.storage = s
	}
}

// WithRecordStore sets the store used to remember revoked sessions.
func WithRecordStore(s storage.Store) ServerOption {
	return func(b *builder) {
		b.records = s
	}
}

// WithAccounts enables the login endpoint and the password grant.
func WithAccounts(finder pwdauth.AccountFinder) ServerOption {
	return func(b *builder) {
		b.accounts = finder
	}
}

// WithHasher sets the hasher used for passwords and client secrets.
func WithHasher(h pwdauth.Hasher) ServerOption {
	return func(b *builder) {
		b.hasher = h
	}
}

// WithSecurityHeaders sets the security headers that should be set on HTTP
// responses.
func WithSecurityHeaders(headers *SecurityHeaders) ServerOption {
	return func(b *builder) {
		b.securityHeaders = headers
	}
}

// WithPrometheusRegistry sets the registry metrics are registered with and
// served from.
func WithPrometheusRegistry(reg *prometheus.Registry) ServerOption {
	return func(b *builder) {
		b.registry = reg
	}
}

// WithPurgeSchedule sets the cron spec for purging expired codes and tokens.
// An empty spec disables purging.
//
// Config key: `storage.purgeSchedule`.
func WithPurgeSchedule(spec string) ServerOption {
	return func(b *builder) {
		b.purgeSchedule = spec
	}
}

// WithAuthorizationServerOptions passes options through to the
// oauth.AuthorizationServer.
func WithAuthorizationServerOptions(opts ...oauth.ServerOption) ServerOption {
	return func(b *builder) {
		b.serverOpts = append(b.serverOpts, opts...)
	}
}

// WithHTTPHandler adds an HTTP handler.
func WithHTTPHandler(prefix string, h http.Handler) ServerOption {
	return func(b *builder) {
		b.handlers = append(b.handlers, handler{
			prefix:      prefix,
			httpHandler: h,
		})
	}
}

// Creates credentials from a cert and key file.
// Based on credentials.NewServerTLSFromFile.
func serverTLSFromFile(cert, key string) credentials.TransportCredentials {
	c, err := tls.LoadX509KeyPair(cert, key)
	if err != nil {
		panic(err)
	}
	tlsConfig := safeTLSConfig()
	tlsConfig.Certificates = []tls.Certificate{c}
	return credentials.NewTLS(tlsConfig)
}

// TLS1.2 min and support for HTTP2.
func safeTLSConfig() *tls.Config {
	return &tls.Config{
		NextProtos: []string{"h2"},
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}
}
