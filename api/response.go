// Package api exposes the Run API and Skill API HTTP surfaces over a
// go-chi router with permissive CORS for the local UI collaborator.
package api

import (
	"encoding/json"
	"net/http"

	oasis "github.com/nevindra/runcore"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeCodedError maps a taxonomy error (errcode.go) to an HTTP status and
// writes it with its stable error code attached, so a caller can branch on
// body.code rather than parsing the message.
func writeCodedError(w http.ResponseWriter, err error) {
	code := oasis.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case oasis.CodeInvalidInput, oasis.CodeInvalidArgument, oasis.CodePatchMismatch:
		status = http.StatusBadRequest
	case oasis.CodeToolNotFound:
		status = http.StatusNotFound
	case oasis.CodePolicyDenied, oasis.CodeAuthError:
		status = http.StatusForbidden
	case oasis.CodeTimeout, oasis.CodeSandboxTimeout:
		status = http.StatusGatewayTimeout
	case oasis.CodeBadGateway, oasis.CodeNetworkError, oasis.CodeWebProviderError:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}
