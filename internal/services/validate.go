package services

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate checks the structural shape of decoded webhook payloads after
// their signature (or token) has been verified.
var validate = validator.New(validator.WithRequiredStructEnabled())

func validateShape(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
