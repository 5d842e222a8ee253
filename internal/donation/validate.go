package donation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// ValidateIntent checks a donor intent against the checkout rules. It runs on
// both sides of the wire: the client orchestrator calls it before any network
// request and the order endpoint calls it again before talking to the gateway.
func ValidateIntent(in Intent, minAmount int64) error {
	if minAmount < 1 {
		minAmount = 1
	}
	if err := validate.Struct(in); err != nil {
		return toValidationError(err)
	}
	if in.Amount < minAmount {
		return &ValidationError{Field: "amount", Message: fmt.Sprintf("minimum donation amount is %d", minAmount)}
	}
	return nil
}

func validateVerification(in Verification) error {
	if strings.TrimSpace(in.Signature) == "" {
		return &ValidationError{Field: "razorpay_signature", Message: "razorpay_signature is required"}
	}
	if err := validate.Struct(in); err != nil {
		verr := toValidationError(err)
		switch verr.Field {
		case "payment_id", "order_id":
			verr.Field = "razorpay_" + verr.Field
			verr.Message = verr.Field + " is required"
		}
		return verr
	}
	return nil
}

func toValidationError(err error) *ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: "invalid request"}
	}
	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Message: field + " is required"}
	case "email":
		return &ValidationError{Field: field, Message: field + " must be a valid email address"}
	case "max":
		return &ValidationError{Field: field, Message: field + " is too long"}
	case "gt":
		return &ValidationError{Field: field, Message: field + " is required"}
	case "lte":
		return &ValidationError{Field: field, Message: field + " is too large"}
	default:
		return &ValidationError{Field: field, Message: field + " is invalid"}
	}
}

// ParseAmount converts a submitted amount into whole currency units. A
// fractional part is accepted only when it is zero ("500.00").
func ParseAmount(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, &ValidationError{Field: "amount", Message: "amount is required"}
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if n <= 0 {
			return 0, &ValidationError{Field: "amount", Message: "amount must be positive"}
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ValidationError{Field: "amount", Message: "amount must be a number"}
	}
	if f != math.Trunc(f) {
		return 0, &ValidationError{Field: "amount", Message: "amount must be a whole number"}
	}
	if f <= 0 {
		return 0, &ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	if f > math.MaxInt64/100 {
		return 0, &ValidationError{Field: "amount", Message: "amount is too large"}
	}
	return int64(f), nil
}
