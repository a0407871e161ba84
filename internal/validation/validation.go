// Package validation is the single authoritative home for the data-quality
// rules that clients may duplicate for responsiveness but must never bypass.
// Handlers run every inbound payload through Check before it reaches a
// service.
package validation

import (
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "constancia/pkg/domain-errors"
)

// Rules wraps a configured validator instance.
type Rules struct {
	validate       *validator.Validate
	allowedDomains []string
}

// New builds the rule set. allowedDomains restricts institutional email
// addresses; an empty list accepts any domain.
func New(allowedDomains []string) *Rules {
	v := validator.New(validator.WithRequiredStructEnabled())

	r := &Rules{validate: v, allowedDomains: allowedDomains}

	// Institutional phone numbers: digits only, 10 digits, optional leading +52.
	_ = v.RegisterValidation("inst_phone", func(fl validator.FieldLevel) bool {
		return validPhone(fl.Field().String())
	})

	// Institutional email must belong to an allowed domain.
	_ = v.RegisterValidation("inst_email", func(fl validator.FieldLevel) bool {
		return r.validInstitutionalEmail(fl.Field().String())
	})

	return r
}

// Check validates a tagged struct and maps the first failure to a domain
// validation error suitable for a 400 response.
func (r *Rules) Check(payload any) error {
	err := r.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if ok := errorsAs(err, &invalid); ok {
		return dErrors.Wrap(err, dErrors.CodeInternal, "validation misconfigured")
	}
	for _, fe := range err.(validator.ValidationErrors) {
		return dErrors.New(dErrors.CodeValidation, describe(fe))
	}
	return dErrors.Wrap(err, dErrors.CodeValidation, "invalid payload")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return strings.ToLower(fe.Field()) + " is required"
	case "email":
		return strings.ToLower(fe.Field()) + " is not a valid email address"
	case "inst_email":
		return strings.ToLower(fe.Field()) + " is not an allowed institutional address"
	case "inst_phone":
		return strings.ToLower(fe.Field()) + " is not a valid 10-digit phone number"
	case "min", "max", "gte", "lte":
		return strings.ToLower(fe.Field()) + " is out of range"
	default:
		return strings.ToLower(fe.Field()) + " failed rule " + fe.Tag()
	}
}

func validPhone(s string) bool {
	if s == "" {
		return true // optional fields use omitempty; required adds its own rule
	}
	s = strings.TrimPrefix(s, "+52")
	if len(s) != 10 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (r *Rules) validInstitutionalEmail(s string) bool {
	if s == "" {
		return true
	}
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	if len(r.allowedDomains) == 0 {
		return true
	}
	domain := strings.ToLower(s[at+1:])
	for _, allowed := range r.allowedDomains {
		if domain == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// errorsAs is a tiny indirection so Check reads linearly.
func errorsAs(err error, target **validator.InvalidValidationError) bool {
	t, ok := err.(*validator.InvalidValidationError)
	if ok {
		*target = t
	}
	return ok
}
