package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"crm-whatsapp/internal/crm"
	"crm-whatsapp/internal/gateway"
	"crm-whatsapp/internal/repo"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, Response{Success: true, Data: data})
}

func fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, Response{Success: false, Error: msg})
}

// statusFor maps domain errors to HTTP status codes and the message shown to the caller.
func statusFor(err error) (int, string) {
	var (
		gwErr     *gateway.Error
		validErrs validator.ValidationErrors
	)
	switch {
	case errors.As(err, &validErrs):
		return http.StatusBadRequest, validationMessage(validErrs)
	case errors.Is(err, crm.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, crm.ErrNoInstance):
		return http.StatusConflict, err.Error()
	case errors.As(err, &gwErr):
		if errors.Is(err, gateway.ErrNotFound) {
			return http.StatusNotFound, "gateway: " + gwErr.Message
		}
		return http.StatusBadGateway, "gateway: " + gwErr.Message
	}
	return http.StatusInternalServerError, "internal error"
}

func validationMessage(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "invalid request"
	}
	fe := errs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
}
