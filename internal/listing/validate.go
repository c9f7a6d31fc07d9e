package listing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sudo-init-do/repairnet/internal/wallet"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("servicetype", func(fl validator.FieldLevel) bool {
		return IsServiceType(fl.Field().String())
	})
	_ = v.RegisterValidation("wallet", func(fl validator.FieldLevel) bool {
		return wallet.IsAddress(fl.Field().String())
	})
	return v
}

// Validate checks req and maps failures onto ErrInvalidServiceType or
// ErrInvalidRequest.
func (req CreateRequest) Validate() error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	var fields []string
	for _, fe := range verrs {
		if fe.Field() == "ServiceType" {
			return ErrInvalidServiceType
		}
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
}
