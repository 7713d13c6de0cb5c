// validate.go — проверка входных данных операций через go-playground/validator.
package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// moduleKeyRe — допустимый формат ключа модуля.
var moduleKeyRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,63}$`)

// validate — общий экземпляр валидатора (потокобезопасен, кэширует структуры).
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("module_key", func(fl validator.FieldLevel) bool {
		return moduleKeyRe.MatchString(fl.Field().String())
	})
	return v
}

// validateStruct проверяет структуру по тегам validate.
// Ошибка оборачивает ErrValidation и перечисляет некорректные поля.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: некорректные поля: %s", ErrValidation, strings.Join(fields, ", "))
}

// validateID проверяет, что строка — UUID.
func validateID(name, id string) error {
	if err := validate.Var(id, "required,uuid"); err != nil {
		return fmt.Errorf("%w: %s должен быть UUID", ErrValidation, name)
	}
	return nil
}
