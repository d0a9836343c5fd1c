package http

import (
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/ajg/form"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "licensekit/internal/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bindBody decodes a JSON or form-encoded body into dst and validates it.
// An empty body decodes to the zero value and fails validation.
func bindBody(r *http.Request, dst interface{}) error {
	var err error
	switch render.GetRequestContentType(r) {
	case render.ContentTypeForm:
		dec := form.NewDecoder(r.Body)
		dec.IgnoreUnknownKeys(true)
		err = dec.Decode(dst)
	default:
		err = render.DecodeJSON(r.Body, dst)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return decodeError(err)
	}
	return validateRequest(dst)
}

// bindQuery decodes the query string into dst and validates it
func bindQuery(r *http.Request, dst interface{}) error {
	dec := form.NewDecoder(strings.NewReader(r.URL.RawQuery))
	dec.IgnoreUnknownKeys(true)
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	return validateRequest(dst)
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apierrors.ErrPayloadTooLarge
	}
	return apierrors.InvalidRequestWithError(err)
}

func validateRequest(dst interface{}) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}

	errs := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: fe.Tag(),
		})
	}
	return apierrors.NewValidationErrors(errs)
}
