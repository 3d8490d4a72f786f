package admin

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"jobportal-admin/shared/apperr"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validationError reports the first failing field by its json name.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Wrap(err, apperr.InvalidRequest, "invalid request")
	}
	e := verrs[0]
	switch e.Tag() {
	case "required":
		return apperr.Wrap(err, apperr.InvalidRequest, e.Field()+" is required")
	case "email":
		return apperr.Wrap(err, apperr.InvalidRequest, e.Field()+" must be a valid email")
	case "min":
		return apperr.Wrap(err, apperr.InvalidRequest, fmt.Sprintf("%s must be at least %s characters", e.Field(), e.Param()))
	default:
		return apperr.Wrap(err, apperr.InvalidRequest, e.Field()+" is invalid")
	}
}

// parseID accepts positive decimal identifiers only.
func parseID(field string, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, apperr.New(apperr.InvalidRequest, field+" is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Newf(apperr.InvalidRequest, "%s must be a positive integer", field)
	}
	return id, nil
}
