package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// envelope is the uniform response shape: exactly one of data or error is set.
type envelope struct {
	Success bool          `json:"success"`
	Data    interface{}   `json:"data,omitempty"`
	Error   *apperr.Error `json:"error,omitempty"`
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// respondErr maps domain errors to HTTP statuses via their code. Unknown
// errors are classified by apperr.From, so nothing internal leaks raw.
func respondErr(c *gin.Context, err error) {
	appErr := apperr.From(err)
	c.JSON(apperr.HTTPStatus(appErr.Code), envelope{Success: false, Error: appErr})
}

// respondBindingErr turns gin binding failures into a 422 with per-field
// details when the failure came from struct validation.
func respondBindingErr(c *gin.Context, err error) {
	appErr := apperr.New(apperr.CodeValidationError, "request validation failed", false)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
		}
		appErr = appErr.WithDetails(strings.Join(parts, "; "))
	} else {
		appErr = appErr.WithDetails(err.Error())
	}

	c.JSON(http.StatusUnprocessableEntity, envelope{Success: false, Error: appErr})
}
