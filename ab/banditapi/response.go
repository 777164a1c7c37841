package banditapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alextanhongpin/mab/ab"
	"github.com/alextanhongpin/mab/ab/experiment"
)

const contentTypeJSON = "application/json; charset=utf-8"

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Body struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

var errBadRequest = errors.New("banditapi: bad request")

// errorStatus maps domain errors to a status code and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, experiment.ErrExperimentNotFound):
		return http.StatusNotFound, "experiment_not_found"
	case errors.Is(err, ab.ErrArmNotFound):
		return http.StatusNotFound, "arm_not_found"
	case errors.Is(err, ab.ErrNoArmsRegistered):
		return http.StatusConflict, "no_arms_registered"
	case errors.Is(err, ab.ErrInvalidReward):
		return http.StatusBadRequest, "invalid_reward"
	case errors.Is(err, ab.ErrInvalidParameter), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ab.ErrInvalidDistributionParameters):
		return http.StatusUnprocessableEntity, "invalid_distribution_parameters"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, body Body, code int) {
	b, err := json.Marshal(body)
	if err != nil {
		slog.Default().Error("banditapi: encode response", slog.String("err", err.Error()))
		code = http.StatusInternalServerError
		b = []byte(`{"error":{"code":"internal","message":"Internal Server Error"}}`)
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		slog.Default().Error("banditapi: write response", slog.String("err", err.Error()))
	}
}

func writeData(w http.ResponseWriter, data any, code int) {
	writeJSON(w, Body{Data: data}, code)
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, name := errorStatus(err)

	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "banditapi: unhandled error",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("err", err.Error()),
		)
		msg = http.StatusText(code)
	}

	writeJSON(w, Body{Error: &Error{Code: name, Message: msg}}, code)
}
