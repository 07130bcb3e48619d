package fanout

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
)

// v is initialised once; field names are reported by their json tag.
var v = func() *validator.Validate {
	val := validator.New()
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return val
}()

// ValidateRequest checks the required fields of req and names every missing one.
func ValidateRequest(req dispatch.Request) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	missing := make([]string, 0, len(ve))
	for _, fe := range ve {
		missing = append(missing, fe.Field())
	}
	return fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
}
