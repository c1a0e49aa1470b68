package handler

import (
	"errors"
	"regexp"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/iliyamo/account-service/internal/auth"
)

// Request schemas. Every inbound payload is validated before the
// orchestrator sees it; any rule failure is normalized to a single
// first-error message and surfaced as a 400.

var phoneRule = validation.Match(regexp.MustCompile(`^\+?\d{10,12}$`)).Error("invalid phone number")

var passwordRules = []validation.Rule{
	validation.Required.Error("password is required"),
	validation.Length(6, 0).Error("password must be at least 6 characters"),
	is.Alphanumeric.Error("password must be alphanumeric"),
}

func (r registerReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required.Error("username is required")),
		validation.Field(&r.Email, validation.Required.Error("email is required"), is.Email.Error("invalid email")),
		validation.Field(&r.Phone, validation.Required.Error("phone is required"), phoneRule),
		validation.Field(&r.Password, passwordRules...),
	)
}

func (r loginReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required.Error("username is required")),
		validation.Field(&r.Password, validation.Required.Error("password is required")),
	)
}

func (r changeUsernameReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentUsername, validation.Required.Error("current username is required")),
		validation.Field(&r.NewUsername, validation.Required.Error("new username is required")),
	)
}

func (r changeEmailReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentEmail, validation.Required.Error("current email is required"), is.Email.Error("invalid email")),
		validation.Field(&r.NewEmail, validation.Required.Error("new email is required"), is.Email.Error("invalid email")),
	)
}

func (r changePhoneReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPhone, validation.Required.Error("current phone is required"), phoneRule),
		validation.Field(&r.NewPhone, validation.Required.Error("new phone is required"), phoneRule),
	)
}

func (r changePasswordReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required.Error("current password is required")),
		validation.Field(&r.Password, append(passwordRules,
			validation.By(differentFrom(r.CurrentPassword, "new password must be different from current password")))...),
		validation.Field(&r.ConfirmPassword, validation.Required.Error("confirm password is required"),
			validation.By(equalTo(r.Password, "passwords must match"))),
	)
}

func (r forgotPasswordReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required.Error("email is required"), is.Email.Error("invalid email")),
	)
}

func (r resetPasswordReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, passwordRules...),
		validation.Field(&r.ConfirmPassword, validation.Required.Error("confirm password is required"),
			validation.By(equalTo(r.Password, "passwords must match"))),
	)
}

func equalTo(other, message string) validation.RuleFunc {
	return func(value interface{}) error {
		if s, _ := value.(string); s != other {
			return errors.New(message)
		}
		return nil
	}
}

func differentFrom(other, message string) validation.RuleFunc {
	return func(value interface{}) error {
		if s, _ := value.(string); s == other {
			return errors.New(message)
		}
		return nil
	}
}

// validate runs a schema and converts the outcome to the engine's
// validation error carrying only the first failure, in deterministic
// field order.
func validate(schema validation.Validatable) error {
	err := schema.Validate()
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for f := range fieldErrs {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		if len(fields) > 0 {
			return auth.ValidationError(fieldErrs[fields[0]].Error())
		}
	}
	return auth.ValidationError(err.Error())
}
