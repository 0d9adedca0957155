package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteServiceError maps service-layer sentinel errors onto HTTP status codes.
func WriteServiceError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidParams):
		return WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrInvalidState):
		return WriteError(w, http.StatusConflict, err.Error())
	default:
		return WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// GetPaginationParams extracts limit/offset parameters from the query string.
// Returns limit (default 20, max 100) and offset (default 0).
func GetPaginationParams(r *http.Request) interfaces.Pagination {
	page := interfaces.Pagination{Limit: 20, Offset: 0}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			page.Limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			page.Offset = o
		}
	}

	return page
}
