package secretariat

import (
	"errors"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// DateLayout is the format of dates posted by the profile forms
const DateLayout = "2006-01-02"

const (
	passwordMinLength = 9
	passwordMaxLength = 30
)

// CreateEmailPayload is the form posted to create a mailbox
type CreateEmailPayload struct {
	ToEmail string `form:"to_email" json:"to_email"`
}

func (p CreateEmailPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ToEmail, validation.Required, is.Email),
	)
}

// CreateRedirectionPayload is the form posted to add a redirection
type CreateRedirectionPayload struct {
	ToEmail  string `form:"to_email" json:"to_email"`
	KeepCopy bool   `form:"keep_copy" json:"keep_copy"`
}

func (p CreateRedirectionPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ToEmail, validation.Required, is.Email),
	)
}

// ChangePasswordPayload is the form posted to change a mailbox password
type ChangePasswordPayload struct {
	NewPassword string `form:"new_password" json:"new_password"`
}

func (p ChangePasswordPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(
			&p.NewPassword,
			validation.Required,
			validation.Length(passwordMinLength, passwordMaxLength),
			validation.By(ValidateTrimmed),
		),
	)
}

// EndDatePayload carries the current dates of a member and the requested end.
// End may be empty when the profile has no end date yet.
type EndDatePayload struct {
	Start  string `form:"start" json:"start"`
	End    string `form:"end" json:"end"`
	NewEnd string `form:"new_end" json:"new_end"`
}

// Validate runs every new_end rule on its own so that one submit reports
// all of its failures
func (p EndDatePayload) Validate() error {
	rules := []validation.Rule{
		validation.Required,
		validation.By(ValidateRequiredDate),
		validation.By(ValidateNotBefore(p.Start)),
	}

	var messages []string
	for _, rule := range rules {
		if err := validation.Validate(p.NewEnd, rule); err != nil {
			messages = append(messages, "new_end: "+err.Error())
		}
	}

	if len(messages) > 0 {
		return NewInvalidInput(messages...)
	}
	return nil
}

// ValidateTrimmed rejects values with surrounding whitespace
func ValidateTrimmed(value any) error {
	s, _ := value.(string)
	if s != strings.TrimSpace(s) {
		return errors.New("must not start or end with whitespace")
	}
	return nil
}

// ValidateDate checks value against DateLayout
func ValidateDate(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return errors.New("must be a valid date (YYYY-MM-DD)")
	}
	return nil
}

// ValidateRequiredDate is ValidateDate without the empty value exemption
func ValidateRequiredDate(value any) error {
	s, _ := value.(string)
	if s == "" {
		return errors.New("must be a valid date (YYYY-MM-DD)")
	}
	return ValidateDate(value)
}

// ValidateNotBefore rejects dates before start. A start that does not parse
// is ignored, the value is then checked on its own.
func ValidateNotBefore(start string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		startDate, err := time.Parse(DateLayout, start)
		if err != nil {
			return nil
		}
		date, err := time.Parse(DateLayout, s)
		if err != nil {
			return nil
		}
		if date.Before(startDate) {
			return errors.New("must not be before the start date")
		}
		return nil
	}
}

// validatePayload runs the payload rules and flattens failures into an
// InvalidInput error with one message per failing field
func validatePayload(v validation.Validatable) error {
	err := v.Validate()
	if err == nil || IsInvalidInput(err) {
		return err
	}

	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return NewInvalidInput(err.Error())
	}

	fields := make([]string, 0, len(fieldErrs))
	for field := range fieldErrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	messages := make([]string, 0, len(fields))
	for _, field := range fields {
		messages = append(messages, field+": "+fieldErrs[field].Error())
	}
	return NewInvalidInput(messages...)
}
