package gate

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linenworks/linengate/auth"
)

// maxAuthBodySize bounds login and challenge request bodies.
const maxAuthBodySize = 16 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeOutcomeError maps a rejected login outcome onto an HTTP response.
// Credential and challenge failures share a 401 with a generic message;
// transport failures surface as 503 so the frontend can offer a retry.
func writeOutcomeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
	case errors.Is(err, auth.ErrChallengeInvalid):
		writeError(w, http.StatusUnauthorized, auth.ErrChallengeInvalid.Error())
	case errors.Is(err, auth.ErrTransport):
		writeError(w, http.StatusServiceUnavailable, auth.ErrTransport.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a bounded JSON body. On failure it writes the error
// response itself and returns ok=false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}
