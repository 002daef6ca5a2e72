package schema

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// patterns backs the `pattern=<name>` validation tag.
var patterns = map[string]*regexp.Regexp{
	"time":     regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`),
	"plant_id": regexp.MustCompile(`^plant_\d+_[0-9a-z]+$`),
	"hex":      regexp.MustCompile(`^[0-9a-f]+$`),
}

func validatePattern(fl validator.FieldLevel) bool {
	re, ok := patterns[fl.Param()]
	if !ok {
		return false
	}
	return re.MatchString(fl.Field().String())
}
