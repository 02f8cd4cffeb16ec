package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "contactlink/pkg/domain-errors"
)

const (
	internalErrorMessage = "internal server error"
	timeoutErrorMessage  = "request timed out"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON encodes body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError translates a domain error into a status and {"error": message}.
// Messages of server-side failures never leave the process.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	message := internalErrorMessage
	switch {
	case code == dErrors.CodeTimeout:
		message = timeoutErrorMessage
	case dErrors.IsClientError(code):
		message = clientMessage(err)
	}

	WriteJSON(w, status, ErrorResponse{Error: message})
}

func clientMessage(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}
