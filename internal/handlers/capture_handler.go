package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/truetrek/agent/internal/models"
	"github.com/truetrek/agent/internal/services"
)

// CaptureHandler handles capture intake endpoints
type CaptureHandler struct {
	captureService *services.CaptureService
}

// NewCaptureHandler creates a new CaptureHandler
func NewCaptureHandler(captureService *services.CaptureService) *CaptureHandler {
	return &CaptureHandler{captureService: captureService}
}

// CapturePhoto queues a captured photo for delivery
// @Summary Queue a photo capture
// @Description Accepts a photo from the capture UI and stores it durably until the server is reachable
// @Tags captures
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Captured image"
// @Param latitude formData number false "Capture latitude"
// @Param longitude formData number false "Capture longitude"
// @Param place_id formData integer false "Place the capture belongs to"
// @Success 201 {object} models.EnqueueResult "Photo queued"
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 500 {object} models.ErrorResponse "Storage failure"
// @Security ApiKeyAuth
// @Router /api/captures/photo [post]
func (h *CaptureHandler) CapturePhoto(w http.ResponseWriter, r *http.Request) {
	// Parse multipart form (max 50MB)
	if err := r.ParseMultipartForm(50 << 20); err != nil {
		h.respondError(w, http.StatusBadRequest, "Request must be multipart/form-data.")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "No image provided or image is empty.")
		return
	}
	defer file.Close()

	blob, err := io.ReadAll(file)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Failed to read image data.")
		return
	}

	lat := parseFloatField(r.FormValue("latitude"))
	lng := parseFloatField(r.FormValue("longitude"))
	placeID := parseIntField(r.FormValue("place_id"))

	photo, err := h.captureService.CapturePhoto(r.Context(), blob, lat, lng, placeID)
	if err != nil {
		var queueErr models.QueueError
		if errors.As(err, &queueErr) {
			h.respondError(w, http.StatusBadRequest, queueErr.Message)
			return
		}
		// The capture UI must know the item was NOT saved
		h.respondError(w, http.StatusInternalServerError, "Failed to store capture: "+err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, models.EnqueueResult{
		LocalID:  photo.LocalID,
		Kind:     models.KindPhoto,
		Status:   photo.Status,
		QueuedAt: photo.CreatedAt,
	})
}

// CaptureComment queues a captured comment for delivery
// @Summary Queue a comment capture
// @Description Accepts a comment from the capture UI and stores it durably until the server is reachable
// @Tags captures
// @Accept json
// @Produce json
// @Param request body models.EnqueueCommentRequest true "Comment to queue"
// @Success 201 {object} models.EnqueueResult "Comment queued"
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Failure 500 {object} models.ErrorResponse "Storage failure"
// @Security ApiKeyAuth
// @Router /api/captures/comment [post]
func (h *CaptureHandler) CaptureComment(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	comment, err := h.captureService.CaptureComment(r.Context(), req.CityID, req.PlaceID, req.Description)
	if err != nil {
		var queueErr models.QueueError
		if errors.As(err, &queueErr) {
			h.respondError(w, http.StatusBadRequest, queueErr.Message)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Failed to store capture: "+err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, models.EnqueueResult{
		LocalID:  comment.LocalID,
		Kind:     models.KindComment,
		Status:   comment.Status,
		QueuedAt: comment.CreatedAt,
	})
}

func parseFloatField(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseIntField(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func (h *CaptureHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *CaptureHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
