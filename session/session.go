// Package session keeps resource owners signed in to the authorizer. A signed
// JWT is stored in a cookie, and Middleware makes the owner available to the
// authorization endpoint through Manager.EndUser.
package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"github.com/dpup/authorizer/oauth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
)

// Leeway for JWT expiration checks.
const jwtLeeway = 5 * time.Second

var (
	// No session cookie was sent.
	ErrNotFound = errors.NewC("session not found", codes.Unauthenticated)

	// The token was not signed correctly or is malformed.
	ErrInvalidToken = errors.NewC("session token is invalid", codes.Unauthenticated)

	// The session was ended by logging out.
	ErrRevoked = errors.NewC("session has been revoked", codes.Unauthenticated)

	// The manager was created without a signing key.
	ErrNoSigningKey = errors.NewC("session signing key is not configured", codes.FailedPrecondition)
)

// Claims carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
	AuthTime *jwt.NumericDate `json:"auth_time,omitempty"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithCookieName overrides the default cookie name, "az-session".
func WithCookieName(name string) Option {
	return func(m *Manager) {
		m.cookieName = name
	}
}

// WithExpiration sets how long sessions last. Defaults to 24 hours.
func WithExpiration(d time.Duration) Option {
	return func(m *Manager) {
		m.expiration = d
	}
}

// WithIssuer sets the issuer and audience of session tokens, usually the
// server's external address. Cookies are marked secure for https issuers.
func WithIssuer(issuer string) Option {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

// WithBlocklist enables revocation of sessions on logout.
func WithBlocklist(bl Blocklist) Option {
	return func(m *Manager) {
		m.blocklist = bl
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager issues and verifies session tokens.
type Manager struct {
	signingKey []byte
	cookieName string
	expiration time.Duration
	issuer     string
	blocklist  Blocklist
	now        func() time.Time
}

// NewManager returns a manager signing tokens with HS256 and signingKey.
func NewManager(signingKey []byte, opts ...Option) *Manager {
	m := &Manager{
		signingKey: signingKey,
		cookieName: "az-session",
		expiration: 24 * time.Hour,
		issuer:     "authorizer",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token creates a signed session token for the resource owner.
func (m *Manager) Token(ownerID string) (string, error) {
	if len(m.signingKey) == 0 {
		return "", errors.Mark(ErrNoSigningKey, 0)
	}
	now := m.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   ownerID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiration)),
		},
		AuthTime: jwt.NewNumericDate(now),
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return "", errors.Wrap(err, 0).WithCode(codes.Internal)
	}
	return ss, nil
}

// Parse verifies a session token and returns its claims. Expired, revoked and
// tampered tokens are errors.
func (m *Manager) Parse(ctx context.Context, tokenString string) (*Claims, error) {
	if len(m.signingKey) == 0 {
		return nil, errors.Mark(ErrNoSigningKey, 0)
	}
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(*jwt.Token) (interface{}, error) {
			return m.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.issuer),
		jwt.WithLeeway(jwtLeeway),
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, errors.Mark(ErrInvalidToken, 0).Append(err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.Mark(ErrInvalidToken, 0).Append("invalid claims")
	}

	if m.blocklist != nil {
		blocked, err := m.blocklist.IsBlocked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, errors.Mark(ErrRevoked, 0)
		}
	}
	return claims, nil
}

type (
	ownerKey      struct{}
	sessionErrKey struct{}
)

// Middleware verifies the session cookie, if any, and attaches the signed in
// owner to the request context. Requests with an invalid or revoked cookie
// carry on unauthenticated. Other failures, such as the blocklist being
// unreachable, are kept on the context and reported by EndUser.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(m.cookieName)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		claims, err := m.Parse(ctx, c.Value)
		if err != nil {
			logging.Track(ctx, "session.error", err.Error())
			if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrRevoked) {
				ctx = context.WithValue(ctx, sessionErrKey{}, err)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		logging.Track(ctx, "session.owner_id", claims.Subject)
		ctx = context.WithValue(ctx, ownerKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// EndUser implements oauth.Session.
func (m *Manager) EndUser(ctx context.Context) (*oauth.ResourceOwner, error) {
	claims, err := ClaimsFromContext(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &oauth.ResourceOwner{ID: claims.Subject}, nil
}

// ClaimsFromContext returns the claims of the current session. ErrNotFound
// means nobody is signed in.
func ClaimsFromContext(ctx context.Context) (*Claims, error) {
	if err, ok := ctx.Value(sessionErrKey{}).(error); ok {
		return nil, err
	}
	if claims, ok := ctx.Value(ownerKey{}).(*Claims); ok {
		return claims, nil
	}
	return nil, errors.Mark(ErrNotFound, 0)
}

// SetCookie sends token as the session cookie.
func (m *Manager) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Secure:   strings.HasPrefix(m.issuer, "https"),
		HttpOnly: true,
		Expires:  m.now().Add(m.expiration),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie tells the browser to drop the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Secure:   strings.HasPrefix(m.issuer, "https"),
		HttpOnly: true,
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
	})
}
