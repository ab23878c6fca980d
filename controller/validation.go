package controller

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// providerNamePattern keeps provider names usable as path segments and
// model-name prefixes.
var providerNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("providername", func(fl validator.FieldLevel) bool {
			return providerNamePattern.MatchString(fl.Field().String())
		})
	}
}
