package api

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	// Report fields by their json tag so validation messages match the wire
	// names callers actually sent ("org_uid", not "OrgUID").
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// validationError writes the gateway's fixed validation envelope:
// {"message": "Data Validation error", "errors": ["...", ...]}.
func validationError(c *gin.Context, err error) {
	var details []string
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrs {
			details = append(details, fieldErrorMessage(fe))
		}
	} else {
		details = []string{err.Error()}
	}

	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"message": "Data Validation error",
		"errors":  details,
	})
}

// validationErrorMessages writes the validation envelope from literal detail
// strings, for checks that happen outside struct binding (e.g. multipart
// parts).
func validationErrorMessages(c *gin.Context, details ...string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"message": "Data Validation error",
		"errors":  details,
	})
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%q is required", fe.Field())
	case "gt":
		return fmt.Sprintf("%q must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%q must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%q is invalid", fe.Field())
	}
}
