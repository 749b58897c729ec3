package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// MaxIDLength bounds user, author and post identifiers.
const MaxIDLength = 256

// New returns a validator with the feed's custom tags and struct-level rules
// registered. Field errors are reported under their JSON names.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// "id" accepts a non-blank identifier of at most MaxIDLength bytes.
	if err := v.RegisterValidation("id", validateID); err != nil {
		panic(err)
	}

	v.RegisterStructValidation(postStructValidation, Post{})

	return v
}

func validateID(fl validatorv10.FieldLevel) bool {
	s := fl.Field().String()
	return strings.TrimSpace(s) != "" && len(s) <= MaxIDLength
}

// postStructValidation rejects creation times before the Unix epoch; sort
// keys encode milliseconds since then.
func postStructValidation(sl validatorv10.StructLevel) {
	p := sl.Current().Interface().(Post)
	if !p.CreatedAt.IsZero() && p.CreatedAt.UnixMilli() < 0 {
		sl.ReportError(p.CreatedAt, "created_at", "CreatedAt", "after_epoch", "")
	}
}
