package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/cinder/internal/inference"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorObject{
			Message: msg,
			Type:    errType,
		},
	})
}

func writeFailure(c *echo.Context, err error) error {
	status, obj := classify(err)
	return c.JSON(status, map[string]any{"error": obj})
}

// classify maps an error from the registry or a handle to an HTTP status
// and error body.
func classify(err error) (int, ErrorObject) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, inference.ErrInvalidSampling):
		return http.StatusBadRequest, ErrorObject{Message: err.Error(), Type: "invalid_request_error"}
	case errors.Is(err, inference.ErrEmptyPrompt):
		return http.StatusBadRequest, ErrorObject{Message: inference.Message(err), Type: "invalid_request_error", Code: "empty_prompt"}
	case errors.Is(err, inference.ErrPromptTooLong):
		return http.StatusRequestEntityTooLarge, ErrorObject{Message: inference.Message(err), Type: "invalid_request_error", Code: "prompt_too_long"}
	case errors.Is(err, ErrModelNotFound),
		errors.Is(err, inference.ErrHandleClosed):
		return http.StatusNotFound, ErrorObject{Message: inference.Message(err), Type: "not_found_error"}
	case errors.Is(err, inference.ErrGenerationBusy):
		return http.StatusConflict, ErrorObject{Message: inference.Message(err), Type: "busy_error", Code: "generation_in_progress"}
	case errors.Is(err, inference.ErrModelLoadFailed),
		errors.Is(err, inference.ErrContextInitFailed):
		return http.StatusUnprocessableEntity, ErrorObject{Message: inference.Message(err), Type: "model_error"}
	default:
		return http.StatusInternalServerError, ErrorObject{Message: inference.Message(err), Type: "server_error"}
	}
}

// decodeJSON decodes a request body. An empty body yields the zero value.
func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return out, err
	}
	return out, nil
}
