package authorizer

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/dpup/authorizer/errors"
	"google.golang.org/grpc/codes"
)

// XFrameOptions values.
const (
	XFrameOptionsNone       = ""
	XFrameOptionsDeny       = "DENY"
	XFrameOptionsSameOrigin = "SAMEORIGIN"
)

// HSTS requires a minimum expiration of 1 year for preload.
var ErrBadHSTSExpiration = errors.NewC("HSTS preload requires expiration of at least 1 year", codes.FailedPrecondition)

// SecurityHeaders are set on every HTTP response. CORS is only needed by
// browser based clients calling the token and metadata endpoints.
type SecurityHeaders struct {
	// X-Frame-Options, keeps the login form out of other sites' frames.
	XFrameOptions string

	// Strict-Transport-Security.
	HSTSExpiration        time.Duration
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	// Origins allowed to make cross-origin requests, matched exactly.
	CORSOrigins      []string
	CORSAllowHeaders []string
	CORSMaxAge       time.Duration
}

// SecurityHeadersFromConfig reads the server.security keys.
func SecurityHeadersFromConfig() *SecurityHeaders {
	return &SecurityHeaders{
		XFrameOptions:         Config.String("server.security.xFrameOptions"),
		HSTSExpiration:        Config.Duration("server.security.hstsExpiration"),
		HSTSIncludeSubdomains: Config.Bool("server.security.hstsIncludeSubdomains"),
		HSTSPreload:           Config.Bool("server.security.hstsPreload"),
		CORSOrigins:           Config.Strings("server.security.corsOrigins"),
		CORSAllowHeaders:      Config.Strings("server.security.corsAllowHeaders"),
		CORSMaxAge:            Config.Duration("server.security.corsMaxAge"),
	}
}

// Middleware returns a handler applying the headers. CORS preflight requests
// from allowed origins are answered directly.
func (s *SecurityHeaders) Middleware(next http.Handler) (http.Handler, error) {
	static, err := s.staticHeaders()
	if err != nil {
		return nil, err
	}
	preflight := s.preflightHeaders()
	allowed := map[string]bool{}
	for _, o := range s.CORSOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range static {
			w.Header().Set(k, v)
		}
		origin := r.Header.Get("Origin")
		if origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				for k, v := range preflight {
					w.Header().Set(k, v)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	}), nil
}

func (s *SecurityHeaders) staticHeaders() (map[string]string, error) {
	h := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	if s.XFrameOptions != XFrameOptionsNone {
		h["X-Frame-Options"] = s.XFrameOptions
	}
	if s.HSTSExpiration > 0 {
		v := fmt.Sprintf("max-age=%.0f", s.HSTSExpiration.Seconds())
		if s.HSTSIncludeSubdomains {
			v += "; includeSubDomains"
		}
		if s.HSTSPreload {
			if s.HSTSExpiration < 365*24*time.Hour {
				return nil, errors.Mark(ErrBadHSTSExpiration, 0)
			}
			v += "; preload"
		}
		h["Strict-Transport-Security"] = v
	}
	if len(s.CORSOrigins) > 0 {
		h["Vary"] = "Origin"
	}
	return h, nil
}

func (s *SecurityHeaders) preflightHeaders() map[string]string {
	h := map[string]string{
		"Access-Control-Allow-Methods": "GET, POST",
	}
	if len(s.CORSAllowHeaders) > 0 {
		names := make([]string, len(s.CORSAllowHeaders))
		for i, n := range s.CORSAllowHeaders {
			names[i] = textproto.CanonicalMIMEHeaderKey(n)
		}
		h["Access-Control-Allow-Headers"] = strings.Join(names, ", ")
	}
	if s.CORSMaxAge > 0 {
		h["Access-Control-Max-Age"] = fmt.Sprintf("%.0f", s.CORSMaxAge.Seconds())
	}
	return h
}
