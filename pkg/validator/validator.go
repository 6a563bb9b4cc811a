package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		// videourl accepts any string carrying a "v=" query token
		_ = validate.RegisterValidation("videourl", func(fl validator.FieldLevel) bool {
			return strings.Contains(fl.Field().String(), "v=")
		})
	})
	return validate
}

// Validate checks s against its `validate` struct tags and flattens the
// failures into a single readable error.
func Validate(ctx context.Context, s interface{}) error {
	err := instance().StructCtx(ctx, s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed on '%s'", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
