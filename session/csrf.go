package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"google.golang.org/grpc/codes"
)

const (
	// Header name used by XHR requests to pass CSRF checks. Browsers will not
	// send custom headers cross-origin without a CORS preflight.
	CSRFHeader = "X-CSRF-Protection"

	// Form field carrying the double-submitted token.
	CSRFParam = "csrf-token"

	// Cookie holding the CSRF token.
	csrfCookie = "az-ct"

	csrfExpiration = 6 * time.Hour
)

// ErrCSRF is returned when a state changing request fails CSRF checks.
var ErrCSRF = errors.NewC("csrf check failed", codes.PermissionDenied).
	WithHTTPStatusCode(http.StatusForbidden)

// SendCSRFToken sets the CSRF cookie and returns the token, for pages that
// render their own login form. The form must post it back as csrf-token.
func (m *Manager) SendCSRFToken(w http.ResponseWriter, r *http.Request) string {
	ct := ""
	if c, err := r.Cookie(csrfCookie); err == nil && m.verifyCSRFToken(c.Value) == nil {
		ct = c.Value
	}
	if ct == "" {
		ct = m.generateCSRFToken()
	}

	// Resent so the expiration is pushed out.
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    ct,
		Path:     "/",
		Secure:   strings.HasPrefix(m.issuer, "https"),
		HttpOnly: false,
		Expires:  m.now().Add(csrfExpiration),
		SameSite: http.SameSiteLaxMode,
	})
	return ct
}

// VerifyCSRF accepts a request that carries the CSRF header, that the browser
// marks as same-origin, or whose csrf-token form value matches the signed
// token in the CSRF cookie.
func (m *Manager) VerifyCSRF(r *http.Request) error {
	if r.Header.Get(CSRFHeader) != "" {
		return nil
	}
	if r.Header.Get("Sec-Fetch-Site") == "same-origin" {
		return nil
	}

	param := r.PostFormValue(CSRFParam)
	if param == "" {
		return errors.Mark(ErrCSRF, 0).Append("missing token in request")
	}
	c, err := r.Cookie(csrfCookie)
	if err != nil || c.Value == "" {
		return errors.Mark(ErrCSRF, 0).Append("missing token in cookies")
	}
	if !hmac.Equal([]byte(param), []byte(c.Value)) {
		return errors.Mark(ErrCSRF, 0).Append("token mismatch")
	}
	return m.verifyCSRFToken(c.Value)
}

// CSRFProtect rejects state changing requests that fail VerifyCSRF.
func (m *Manager) CSRFProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if err := m.VerifyCSRF(r); err != nil {
			logging.TrackError(r.Context(), err)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Manager) generateCSRFToken() string {
	randomData := make([]byte, 32)
	if _, err := rand.Read(randomData); err != nil {
		panic("csrf: random number generation failed: " + err.Error())
	}
	return hex.EncodeToString(m.csrfMAC(randomData)) + "_" + hex.EncodeToString(randomData)
}

func (m *Manager) verifyCSRFToken(token string) error {
	mac, data, ok := strings.Cut(token, "_")
	if !ok {
		return errors.Mark(ErrCSRF, 0).Append("invalid token")
	}
	actualMac, err := hex.DecodeString(mac)
	if err != nil {
		return errors.Mark(ErrCSRF, 0).Append("invalid signature")
	}
	randomData, err := hex.DecodeString(data)
	if err != nil {
		return errors.Mark(ErrCSRF, 0).Append("invalid data")
	}
	if !hmac.Equal(actualMac, m.csrfMAC(randomData)) {
		return errors.Mark(ErrCSRF, 0).Append("signature mismatch")
	}
	return nil
}

func (m *Manager) csrfMAC(data []byte) []byte {
	h := hmac.New(sha256.New, m.signingKey)
	h.Write([]byte("csrf"))
	h.Write(data)
	return h.Sum(nil)
}
