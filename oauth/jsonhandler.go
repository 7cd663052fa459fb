package oauth

import (
	"encoding/json"
	"net/http"

	"github.com/dpup/authorizer/logging"
	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
)

// jsonHandler returns a value to be encoded as the JSON response body.
type jsonHandler func(r *http.Request) (any, error)

// errorResponse is the token endpoint error body, RFC 6749 §5.2.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func serveJSON(m *Metrics, fn jsonHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json;charset=UTF-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")

		resp, err := fn(r)
		if err != nil {
			writeJSONError(w, r, m, err)
			return
		}

		b, err := json.Marshal(resp)
		if err != nil {
			writeJSONError(w, r, m, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, m *Metrics, err error) {
	ctx := r.Context()
	ge, expected := AsGrantError(err)
	if expected {
		logging.Track(ctx, "oauth.error", ge.Code)
	} else {
		logging.TrackError(ctx, err)
		logging.Errorw(ctx, "token request failed", "error", err)
	}
	m.errorReported(ge.Code)

	if ge.Code == oautherrors.ErrInvalidClient.Error() {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	b, ferr := json.Marshal(&errorResponse{Error: ge.Code, ErrorDescription: ge.Description})
	if ferr != nil {
		http.Error(w, "error encoding response", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(ge.StatusCode())
	w.Write(b)
}
