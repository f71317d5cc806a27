package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/libsync/server/internal/repository"
)

// LibraryAccess resolves the {libraryID} route parameter, verifies the
// authenticated user may touch that library, and attaches the library to the
// request context. Admins may touch any library.
func LibraryAccess(libraryRepo repository.LibraryRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r.Context())
			if user == nil {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required.")
				return
			}

			libraryID, err := strconv.ParseInt(chi.URLParam(r, "libraryID"), 10, 64)
			if err != nil {
				writeAuthError(w, http.StatusBadRequest, "Invalid library ID.")
				return
			}

			lib, err := libraryRepo.GetByID(r.Context(), libraryID)
			if err != nil {
				writeAuthError(w, http.StatusInternalServerError, "Internal server error.")
				return
			}
			if lib == nil {
				writeAuthError(w, http.StatusNotFound, "Library not found.")
				return
			}

			if lib.OwnerID != user.ID && !user.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "You do not have access to this library.")
				return
			}

			ctx := context.WithValue(r.Context(), LibraryContextKey, lib)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
