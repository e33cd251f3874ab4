package handlers

import (
	"strings"
	"sync"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var registerOnce sync.Once

// RegisterValidators adds the custom binding rules to gin's validator.
// Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		_ = v.RegisterValidation("notblank", validators.NotBlank)
		_ = v.RegisterValidation("emailaddr", func(fl validator.FieldLevel) bool {
			return IsEmailAddress(fl.Field().String())
		})
	})
}

// IsEmailAddress is deliberately loose: one '@' with something on both sides and no
// whitespace. Dotless domains such as root@root are accepted; delivery is the real check.
func IsEmailAddress(s string) bool {
	s = strings.TrimSpace(s)

	at := strings.IndexByte(s, '@')
	if at <= 0 || at != strings.LastIndexByte(s, '@') || at == len(s)-1 {
		return false
	}

	return strings.IndexFunc(s, unicode.IsSpace) == -1
}
