package handlers

import (
	"net/http"
	"strconv"

	"github.com/rohanverma-dev/kartify-backend/internal/api/middleware"
	appErrors "github.com/rohanverma-dev/kartify-backend/internal/errors"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/rohanverma-dev/kartify-backend/internal/utils/response"
)

// claimsFrom pulls the authenticated user out of the request context. Writes
// the unauthorized response itself so call sites stay one line.
func claimsFrom(w http.ResponseWriter, r *http.Request) (*models.Claims, bool) {

	claims, ok := r.Context().Value(middleware.UserContextKey).(*models.Claims)
	if !ok {
		response.Error(w, appErrors.UnauthorizedError("Authentication required"))
		return nil, false
	}

	return claims, true
}

func paginationParams(r *http.Request) (page, pageSize int) {

	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("pageSize"))

	if page < 1 {
		page = 1
	}

	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	return page, pageSize
}
