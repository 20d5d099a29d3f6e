package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/carbondb/carbon/internal/carbonerr"
)

// errorBody is the {error, code} shape spec §7 mandates for every
// non-2xx HTTP response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func statusForKind(k carbonerr.Kind) int {
	switch k {
	case carbonerr.NotFound:
		return http.StatusNotFound
	case carbonerr.AlreadyExists:
		return http.StatusConflict
	case carbonerr.InvalidArgument:
		return http.StatusBadRequest
	case carbonerr.InsufficientCapacity:
		return http.StatusRequestEntityTooLarge
	case carbonerr.Unauthorized:
		return http.StatusUnauthorized
	case carbonerr.Forbidden:
		return http.StatusForbidden
	case carbonerr.ProtocolError:
		return http.StatusBadRequest
	case carbonerr.IoError:
		return http.StatusInternalServerError
	case carbonerr.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := carbonerr.KindOf(err)
	status := statusForKind(kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error(), Code: kind.String()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
