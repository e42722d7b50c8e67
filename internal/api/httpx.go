package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/louisbranch/sealbox/internal/errors"
)

func newRequestID() string { return "req_" + uuid.NewString() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeError renders a domain error with its machine-readable code and
// the HTTP status the code maps to.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	body := map[string]any{
		"request_id": newRequestID(),
		"error": map[string]any{
			"code":    string(code),
			"message": err.Error(),
		},
	}
	if metadata := apperrors.GetMetadata(err); len(metadata) > 0 {
		body["error"].(map[string]any)["metadata"] = metadata
	}
	writeJSON(w, code.HTTPStatus(), body)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"request_id": newRequestID(),
		"error": map[string]any{
			"code":    "BAD_REQUEST",
			"message": message,
		},
	})
}
