package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/licensing"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type successBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorBody struct {
	Success     bool                       `json:"success"`
	Error       string                     `json:"error"`
	Message     string                     `json:"message"`
	Activations []licensing.ActivationInfo `json:"activations,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, successBody{Success: true, Data: v})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, tag, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Success: false, Error: tag, Message: msg})
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		return errors.New("request body must be valid JSON")
	}
	if err := validate.Struct(dst); err != nil {
		if msg := firstFieldError(err); msg != "" {
			return errors.New(msg)
		}
		return err
	}
	return nil
}

func firstFieldError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return describeField(verrs[0])
	}
	return ""
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email"
	case "url":
		return fe.Field() + " must be a valid URL"
	case "min", "gte":
		return fe.Field() + " must be at least " + fe.Param()
	case "max", "lte":
		return fe.Field() + " must be at most " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

// StatusFor maps an engine outcome to its HTTP status.
func StatusFor(code licensing.Code) int {
	switch code {
	case licensing.CodeInvalidKey, licensing.CodeNotFound:
		return http.StatusNotFound
	case licensing.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// handleError writes the envelope for an engine error. Infrastructure failures
// are logged and reported without detail.
func handleError(w http.ResponseWriter, r *http.Request, log *logrus.Entry, err error) {
	var le *licensing.Error
	if errors.As(err, &le) {
		render.Status(r, StatusFor(le.Code))
		render.JSON(w, r, errorBody{
			Success:     false,
			Error:       string(le.Code),
			Message:     le.Message,
			Activations: le.Activations,
		})
		return
	}

	log.WithError(err).
		WithField("req_id", chimw.GetReqID(r.Context())).
		WithField("path", r.URL.Path).
		Error("request failed")

	if errors.Is(err, licensing.ErrStoreUnavailable) {
		writeError(w, r, http.StatusServiceUnavailable, "service_unavailable", "service temporarily unavailable")
		return
	}
	writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
}
