package api

import (
	"encoding/json"
	"net/http"

	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/internal/task"
)

type errorBody struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Code    xerrors.Code `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	writeJSON(w, statusFor(code), errorBody{Error: err.Error(), Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: xerrors.CodeInvalidArgument})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
