package mlicense

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultValidityDays is used when no explicit expiry is given and the
// validity input is empty or not a number.
const DefaultValidityDays = 365

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. Timestamps without a zone
// are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, lastErr)
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseValidityDays converts operator input to a day count. Anything that
// is not an integer yields DefaultValidityDays.
func ParseValidityDays(s string) int {
	days, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return DefaultValidityDays
	}
	return days
}

// BuildClaims assembles the claims for a new license issued at now.
// A non-empty explicitExpiry is used verbatim as expiresAt; otherwise the
// expiry is now plus validityDays.
func BuildClaims(machineID, username, validityDays, explicitExpiry string, now time.Time) (Claims, error) {
	c := Claims{
		MachineID: machineID,
		Username:  username,
		IssuedAt:  FormatTimestamp(now),
	}
	if exp := strings.TrimSpace(explicitExpiry); exp != "" {
		c.ExpiresAt = exp
	} else {
		days := ParseValidityDays(validityDays)
		c.ExpiresAt = FormatTimestamp(now.AddDate(0, 0, days))
	}
	if err := ValidateClaims(c); err != nil {
		return Claims{}, err
	}
	return c, nil
}

// ValidateClaims checks that the claims are complete enough to sign.
func ValidateClaims(c Claims) error {
	return validateStruct(c)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("isotime", func(fl validator.FieldLevel) bool {
		_, err := ParseTimestamp(fl.Field().String())
		return err == nil
	})
	return v
}

// validateStruct runs the validator and folds field errors into one
// ErrSchema error.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "isotime":
			msgs = append(msgs, fmt.Sprintf("%s is not a valid timestamp", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrSchema, strings.Join(msgs, ", "))
}
