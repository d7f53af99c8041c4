package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

const inputTag = "form"

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get(inputTag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
}

// decodeInput copies user data into out and validates it. Every problem is
// reported as a validation message; an empty bag means out is usable.
func decodeInput(data map[string]any, out any) MessageBag {
	var bag MessageBag

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          inputTag,
		WeaklyTypedInput: true,
	})
	if err != nil {
		bag.Invalid("Cannot read the submitted data: %v", err)
		return bag
	}
	if err := decoder.Decode(data); err != nil {
		var decodeErr *mapstructure.Error
		if errors.As(err, &decodeErr) {
			for _, msg := range decodeErr.Errors {
				bag.Invalid("Invalid input: %s", msg)
			}
		} else {
			bag.Invalid("Invalid input: %v", err)
		}
		return bag
	}

	if err := validate.Struct(out); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				bag.Invalid("%s", formatFieldError(e))
			}
		} else {
			bag.Invalid("Invalid input: %v", err)
		}
	}
	return bag
}

// formatFieldError formats a single validation error into a user-friendly message.
func formatFieldError(e validator.FieldError) string {
	field := e.Field()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", field)
	case "min":
		return fmt.Sprintf("Field '%s' needs at least %s value(s)", field, e.Param())
	case "unique":
		return fmt.Sprintf("Field '%s' must not contain duplicates", field)
	case "max":
		return fmt.Sprintf("Field '%s' is too long", field)
	default:
		return fmt.Sprintf("Field '%s' failed validation (%s)", field, e.Tag())
	}
}
