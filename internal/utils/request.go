package utils

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	appErrors "github.com/rohanverma-dev/kartify-backend/internal/errors"
	"github.com/rohanverma-dev/kartify-backend/internal/utils/response"
)

func ParseAndValidate(r *http.Request, w http.ResponseWriter, dest any, validate *validator.Validate) bool {

	if err := DecodeJSONBody(r, dest); err != nil {
		response.Error(w, appErrors.BadRequestError(err.Error()))
		return false
	}

	if err := ValidateStruct(validate, dest); err != nil {
		response.Error(w, appErrors.ValidationError("Invalid input data").WithDetail(err.Error()))
		return false
	}

	return true
}

// ParseID reads a UUID path parameter.
func ParseID(r *http.Request, name string) (uuid.UUID, error) {

	raw := r.PathValue(name)
	if raw == "" {
		return uuid.Nil, appErrors.BadRequestError(fmt.Sprintf("Missing path parameter '%s'", name))
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, appErrors.BadRequestError(fmt.Sprintf("Invalid ID '%s'", raw)).WithError(err)
	}

	return id, nil
}
