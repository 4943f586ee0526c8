// ABOUTME: Error types returned by the record service
// ABOUTME: ValidationError marks caller mistakes that map to 400 responses

package records

import "errors"

// ConfirmPhrase is the exact confirmation PurgeAll requires.
const ConfirmPhrase = "ERASE"

// ValidationError reports a malformed or incomplete request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
