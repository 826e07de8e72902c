package api

import "github.com/go-playground/validator/v10"

// requestValidator validates request DTOs bound by echo using their
// 'validate' struct tags.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}
