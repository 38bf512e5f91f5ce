package validation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/response"
)

// BindAndValidate binds JSON body into `out` and runs validation.
// If either fails, it writes a 400 envelope and returns the error for the handler to short-circuit.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request body", gin.H{"detail": err.Error()})
		return err
	}

	if err := v.Struct(out); err != nil {
		response.Error(c, http.StatusBadRequest, "validation failed", gin.H{"fields": validationErrorsToMap(err)})
		return err
	}
	return nil
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}
