package handlers

import (
	"encoding/xml"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/observability"
	"github.com/libsync/server/internal/services"
)

const maxUploadBodyBytes = 100 << 20

// SyncHandler serves the legacy XML sync protocol. Requests are
// form-encoded POSTs carrying a session ID; responses are XML envelopes.
// Contention always comes back as a locked or queued element with a wait
// hint, never as a held connection.
type SyncHandler struct {
	sessions *services.SessionService
	sync     *services.SyncService
	metrics  *observability.BusinessMetrics
}

// NewSyncHandler creates a new SyncHandler. metrics may be nil.
func NewSyncHandler(sessions *services.SessionService, sync *services.SyncService, metrics *observability.BusinessMetrics) *SyncHandler {
	return &SyncHandler{sessions: sessions, sync: sync, metrics: metrics}
}

// Login authenticates a username and password and mints a sync session
// @Summary Legacy sync login
// @Description Validates credentials and returns a new session ID in an XML envelope.
// @Tags sync
// @Accept x-www-form-urlencoded
// @Produce xml
// @Param username formData string true "Username"
// @Param password formData string true "Password"
// @Param version formData int false "Client protocol version"
// @Success 200 {string} string "<response><sessionID>..</sessionID></response>"
// @Failure 403 {string} string "Invalid login"
// @Router /sync/login [post]
func (h *SyncHandler) Login(w http.ResponseWriter, r *http.Request) {
	protocolVersion := formInt(r, "version")

	session, err := h.sessions.Login(r.Context(),
		r.FormValue("username"), r.FormValue("password"), clientIP(r))
	if h.metrics != nil {
		h.metrics.RecordAuthAttempt(r.Context(), "sync_login", err == nil)
	}
	if err != nil {
		h.writeError(w, protocolVersion, err)
		return
	}

	h.writeXML(w, protocolVersion, http.StatusOK, models.SessionElement{SessionID: session.ID})
}

// Logout invalidates the session
// @Summary Legacy sync logout
// @Description Deletes the session from both the cache and the durable store.
// @Tags sync
// @Accept x-www-form-urlencoded
// @Produce xml
// @Param sessionid formData string true "Session ID"
// @Success 200 {string} string "<response><loggedout/></response>"
// @Router /sync/logout [post]
func (h *SyncHandler) Logout(w http.ResponseWriter, r *http.Request) {
	protocolVersion := formInt(r, "version")

	session, err := h.sessions.Check(r.Context(), r.FormValue("sessionid"), protocolVersion)
	if err != nil {
		h.writeError(w, protocolVersion, err)
		return
	}

	if err := h.sessions.Logout(r.Context(), session.ID); err != nil {
		h.writeError(w, protocolVersion, err)
		return
	}

	h.writeXML(w, protocolVersion, http.StatusOK, struct {
		XMLName xml.Name `xml:"loggedout"`
	}{})
}

// Updated serves a whole-library download from the client's version cursor
// @Summary Legacy sync download
// @Description Returns everything changed after the client's cursor, or a locked element with a wait hint when the library is busy or the response is still being computed.
// @Tags sync
// @Accept x-www-form-urlencoded
// @Produce xml
// @Param sessionid formData string true "Session ID"
// @Param lastsync formData int false "Version cursor of the client's last sync"
// @Param upload formData int false "Set to 1 when the client intends to upload next"
// @Success 200 {string} string "<response><updated .../></response> or <response><locked wait=W/></response>"
// @Router /sync/updated [post]
func (h *SyncHandler) Updated(w http.ResponseWriter, r *http.Request) {
	protocolVersion := formInt(r, "version")

	session, err := h.sessions.Check(r.Context(), r.FormValue("sessionid"), protocolVersion)
	if err != nil {
		h.writeError(w, protocolVersion, err)
		return
	}

	lastSync, _ := strconv.ParseInt(r.FormValue("lastsync"), 10, 64)
	willUpload := r.FormValue("upload") == "1"
	filters := r.FormValue("ft")

	result, err := h.sync.Updated(r.Context(), session, lastSync, protocolVersion, filters, willUpload)
	if err != nil {
		h.writeError(w, protocolVersion, err)
		return
	}

	h.writeResult(w, r, "updated", protocolVersion, result)
}

// Upload applies a whole-library upload document
// @Summary Legacy sync upload
// @Description Applies the uploaded changes. Requires the update key from the client's last download; a mismatch means the library changed and the client must re-download first.
// @Tags sync
// @Accept x-www-form-urlencoded
// @Produce xml
// @Param sessionid formData string true "Session ID"
// @Param updateKey formData string true "Whole-library CAS token"
// @Param data formData string true "JSON upload document"
// @Success 200 {string} string "<response><uploaded/></response> or <response><queued wait=W/></response>"
// @Router /sync/upload [post]
func (h *SyncHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodyBytes)
	protocolVersion := formInt(r, "version")

	session, err := h.sessions.Check(r.Context(), r.FormValue("sessionid"), protocolVersion)
	if err != nil {
		h.writeError(w, protocolVersion, err)
		return
	}

	data := r.FormValue("data")
	if data == "" {
		raw, readErr := io.ReadAll(r.Body)
		if readErr != nil {
			h.writeError(w, protocolVersion,
				models.NewBadRequest(models.CodeInvalidRequest, "failed to read upload data"))
			return
		}
		data = string(raw)
	}

	result, err := h.sync.Upload(r.Context(), session, r.FormValue("updateKey"), []byte(data))
	if err != nil {
		h.writeError(w, protocolVersion, err)
		return
	}

	h.writeResult(w, r, "upload", protocolVersion, result)
}

// UploadStatus reports the progress of a queued upload
// @Summary Legacy sync upload status
// @Description Polls a queued upload: still queued with a wait hint, completed with its timestamp, or the recorded failure.
// @Tags sync
// @Accept x-www-form-urlencoded
// @Produce xml
// @Param sessionid formData string true "Session ID"
// @Success 200 {string} string "<response><queued wait=W/></response> or <response><uploaded timestamp=T/></response>"
// @Router /sync/uploadstatus [post]
func (h *SyncHandler) UploadStatus(w http.ResponseWriter, r *http.Request) {
	protocolVersion := formInt(r, "version")

	session, err := h.sessions.Check(r.Context(), r.FormValue("sessionid"), protocolVersion)
	if err != nil {
		h.writeError(w, protocolVersion, err)
		return
	}

	result, err := h.sync.UploadStatus(r.Context(), session)
	if err != nil {
		h.writeError(w, protocolVersion, err)
		return
	}

	h.writeResult(w, r, "uploadstatus", protocolVersion, result)
}

func (h *SyncHandler) writeResult(w http.ResponseWriter, r *http.Request, operation string, protocolVersion int, result models.SyncResult) {
	if h.metrics != nil {
		h.metrics.RecordSyncOperation(r.Context(), operation, resultOutcome(result.Kind))
	}
	switch result.Kind {
	case models.SyncReady:
		h.writeXML(w, protocolVersion, http.StatusOK, result.Payload)
	case models.SyncLocked:
		h.writeXML(w, protocolVersion, http.StatusOK, models.LockedElement{Wait: result.Wait})
	case models.SyncQueued:
		h.writeXML(w, protocolVersion, http.StatusOK, models.QueuedElement{Wait: result.Wait})
	case models.SyncUploaded:
		h.writeXML(w, protocolVersion, http.StatusOK, models.UploadedElement{Timestamp: result.Timestamp})
	}
}

func resultOutcome(kind models.SyncResultKind) string {
	switch kind {
	case models.SyncReady:
		return "ready"
	case models.SyncLocked:
		return "locked"
	case models.SyncQueued:
		return "queued"
	case models.SyncUploaded:
		return "uploaded"
	}
	return "unknown"
}

// writeError renders a typed failure as an XML error element, minting a
// report ID for anything that is not already a classified sync error.
func (h *SyncHandler) writeError(w http.ResponseWriter, protocolVersion int, err error) {
	se := models.AsSyncError(err)
	if se == nil {
		reportID := uuid.New().String()[:8]
		log.Printf("sync handler error (report %s): %v", reportID, err)
		se = models.NewInternal(reportID)
	}
	h.writeXML(w, protocolVersion, se.Status, models.ErrorElement{
		Code:    string(se.Code),
		Message: se.Message,
	})
}

func (h *SyncHandler) writeXML(w http.ResponseWriter, protocolVersion, status int, body interface{}) {
	envelope := models.SyncResponse{
		Version:   protocolVersion,
		Timestamp: time.Now().Unix(),
		Body:      body,
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, xml.Header)
	if err := xml.NewEncoder(w).Encode(envelope); err != nil {
		log.Printf("failed to encode sync response: %v", err)
	}
}

func formInt(r *http.Request, name string) int {
	v, _ := strconv.Atoi(r.FormValue(name))
	return v
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
