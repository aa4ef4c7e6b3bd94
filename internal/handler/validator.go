package handler

import (
    "errors"
    "reflect"
    "strings"

    "github.com/go-playground/validator/v10"
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/travel-payment-reconciliation/internal/service"
)

// RequestValidator is the echo.Validator for request bodies.  Failures are
// returned as *service.ValidationError keyed by JSON field name, so they
// render through writeError like any other validation failure.
type RequestValidator struct {
    v *validator.Validate
}

func NewRequestValidator() *RequestValidator {
    v := validator.New(validator.WithRequiredStructEnabled())
    v.RegisterTagNameFunc(func(f reflect.StructField) string {
        name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
        if name == "-" {
            return ""
        }
        return name
    })
    return &RequestValidator{v: v}
}

func (rv *RequestValidator) Validate(i any) error {
    err := rv.v.Struct(i)
    if err == nil {
        return nil
    }
    var fieldErrs validator.ValidationErrors
    if !errors.As(err, &fieldErrs) {
        return err
    }
    fields := make(map[string]string, len(fieldErrs))
    for _, fe := range fieldErrs {
        fields[fe.Field()] = describeRule(fe)
    }
    return &service.ValidationError{Fields: fields}
}

func describeRule(fe validator.FieldError) string {
    switch fe.Tag() {
    case "required":
        return "is required"
    case "oneof":
        return "must be one of " + strings.Join(strings.Fields(fe.Param()), ", ")
    default:
        return "is invalid"
    }
}

// normalizer is implemented by bodies that clean their input before the
// rules run.
type normalizer interface {
    normalize()
}

// bindBody decodes the request body into dst and validates it with the
// echo instance's validator.
func bindBody(c echo.Context, dst any) error {
    if err := c.Bind(dst); err != nil {
        return &service.ValidationError{Fields: map[string]string{"body": "must be a valid JSON object"}}
    }
    if n, ok := dst.(normalizer); ok {
        n.normalize()
    }
    return c.Validate(dst)
}

func invalidParam(name, rule string) error {
    return &service.ValidationError{Fields: map[string]string{name: rule}}
}
