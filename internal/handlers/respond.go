package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/libsync/server/internal/models"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message})
}

// respondSyncError maps a typed failure onto the HTTP response: status and
// code from the error, Last-Modified-Version on version conflicts,
// Retry-After on throttling. Unexpected errors become a 500 with a
// correlation report ID; the details stay in the log.
func respondSyncError(w http.ResponseWriter, err error) {
	se := models.AsSyncError(err)
	if se == nil {
		reportID := uuid.New().String()[:8]
		log.Printf("unexpected error (report %s): %v", reportID, err)
		se = models.NewInternal(reportID)
	}

	if se.CurrentVersion > 0 {
		w.Header().Set("Last-Modified-Version", strconv.FormatInt(se.CurrentVersion, 10))
	}
	if se.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(se.RetryAfter))
	}

	respondJSON(w, se.Status, models.ErrorResponse{Error: se.Message, Code: string(se.Code)})
}

// parseVersionHeader reads an integer version header, nil when absent
func parseVersionHeader(r *http.Request, name string) (*int64, error) {
	raw := r.Header.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, models.NewBadRequest(models.CodeInvalidRequest, "invalid "+name+" header")
	}
	return &v, nil
}

func setVersionHeader(w http.ResponseWriter, version int64) {
	w.Header().Set("Last-Modified-Version", strconv.FormatInt(version, 10))
}
