// Package httputil centralizes JSON response writing so every handler emits
// the same error envelope.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "quentry-gateway/pkg/domain-errors"
)

// IncludeDetail controls whether internal diagnostic detail is rendered in
// error responses. Enabled only in non-production builds by main.
var IncludeDetail = false

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	Detail           string `json:"detail,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into the standard error envelope. Internal errors
// omit the description so server-side failures never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}

	var gw dErrors.GatewayError
	if errors.As(err, &gw) {
		if code != dErrors.CodeInternal {
			body.ErrorDescription = gw.Message
		}
		if IncludeDetail {
			body.Detail = gw.Detail
		}
	}

	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// Decode parses the request body into T, translating malformed JSON into a
// bad-request gateway error.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return v, dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return v, nil
}
