package institute

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/jakariadev/institude/core"
)

var (
	categoryTag  = "category"
	categoryText = "invalid institute category"
)

// InitValidators registers the institute validators. core.InitValidators must be called first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(categoryTag, categoryValidation)
	core.RegisterCustomTranslation(validate, translator, categoryTag, categoryText)
}

func categoryValidation(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	for _, cat := range Categories {
		if val == cat {
			return true
		}
	}
	return false
}
