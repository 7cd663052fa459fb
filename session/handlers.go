package session

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"github.com/dpup/authorizer/pwdauth"
)

// LoginHandler signs resource owners in with a username and password posted
// as a form. On success the session cookie is set and the user agent is sent
// to return_to, when it is a path on this server, or to "/". Posts must pass
// VerifyCSRF.
func (m *Manager) LoginHandler(finder pwdauth.AccountFinder, hasher pwdauth.Hasher) http.Handler {
	return m.CSRFProtect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		ctx := r.Context()
		username, password := r.PostFormValue("username"), r.PostFormValue("password")
		account, err := pwdauth.Authenticate(ctx, finder, hasher, username, password)
		if err != nil {
			logging.TrackError(ctx, err)
			status := errors.HTTPStatusCode(err)
			msg := http.StatusText(status)
			var e *errors.Error
			if errors.Is(err, pwdauth.ErrInvalidCredentials) && errors.As(err, &e) {
				msg = e.PublicMessage()
			}
			http.Error(w, msg, status)
			return
		}

		token, err := m.Token(account.ID)
		if err != nil {
			logging.TrackError(ctx, err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		m.SetCookie(w, token)
		logging.Infow(ctx, "resource owner signed in", "session.owner_id", account.ID)
		http.Redirect(w, r, localRedirect(r.PostFormValue("return_to")), http.StatusSeeOther)
	}))
}

// LogoutHandler ends the current session. The token is blocklisted when the
// manager has a blocklist. Posts must pass VerifyCSRF.
func (m *Manager) LogoutHandler() http.Handler {
	return m.CSRFProtect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		ctx := r.Context()
		claims, err := ClaimsFromContext(ctx)
		if err == nil && m.blocklist != nil {
			err = m.blocklist.Block(ctx, claims.ID)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			logging.TrackError(ctx, err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		m.ClearCookie(w)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}))
}

// localRedirect returns target if it is a path on this server, otherwise "/".
func localRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return target
}
