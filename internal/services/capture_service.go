package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"

	"github.com/truetrek/agent/internal/config"
	"github.com/truetrek/agent/internal/models"
	"github.com/truetrek/agent/internal/observability"
	"github.com/truetrek/agent/internal/repository"
)

// jpegQuality for re-encoded captures
const jpegQuality = 85

// CaptureService normalizes captured photos and comments and enqueues them
// for delivery. Every accepted capture is durable before this returns.
type CaptureService struct {
	queueRepo repository.QueueRepo
	exif      *EXIFService
	bus       *EventBus
	metrics   *observability.SyncMetrics
	maxDim    int
	maxBytes  int64
}

// NewCaptureService creates a new CaptureService
func NewCaptureService(queueRepo repository.QueueRepo, bus *EventBus, metrics *observability.SyncMetrics, cfg config.Capture) *CaptureService {
	maxDim := cfg.MaxImageDimension
	if maxDim <= 0 {
		maxDim = 2048
	}
	maxBytes := cfg.MaxFileSizeMB * 1024 * 1024
	if maxBytes <= 0 {
		maxBytes = 25 * 1024 * 1024
	}

	return &CaptureService{
		queueRepo: queueRepo,
		exif:      NewEXIFService(),
		bus:       bus,
		metrics:   metrics,
		maxDim:    maxDim,
		maxBytes:  maxBytes,
	}
}

// CapturePhoto normalizes and enqueues a captured photo. HEIC captures are
// converted to JPEG, oversized images are downscaled, and missing coordinates
// are filled from EXIF GPS tags when present.
func (s *CaptureService) CapturePhoto(ctx context.Context, blob []byte, lat, lng *float64, placeID *int64) (*models.PendingPhoto, error) {
	if len(blob) == 0 {
		return nil, models.ErrEmptyPhotoBlob
	}
	if int64(len(blob)) > s.maxBytes {
		return nil, models.QueueError{Message: fmt.Sprintf("photo exceeds maximum size of %d bytes", s.maxBytes)}
	}

	mimeType := sniffImageType(blob)

	// Fill coordinates from EXIF before any re-encode strips the tags
	if lat == nil || lng == nil {
		exifData, _ := s.exif.ExtractFromBytes(blob)
		if exifData != nil && exifData.Latitude != nil && exifData.Longitude != nil {
			lat = exifData.Latitude
			lng = exifData.Longitude
		}
	}

	normalized, normalizedType, err := s.normalizeImage(blob, mimeType)
	if err != nil {
		return nil, err
	}

	photo, err := models.NewPendingPhoto(normalized, normalizedType, lat, lng, placeID)
	if err != nil {
		return nil, err
	}

	localID, err := s.queueRepo.EnqueuePhoto(ctx, photo)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue photo: %w", err)
	}
	photo.LocalID = localID

	s.metrics.RecordEnqueue(ctx, string(models.KindPhoto))
	s.publishPendingCount(ctx)

	observability.WithFields(map[string]interface{}{
		"item_id": localID,
		"bytes":   len(normalized),
	}).Info("Photo queued for sync")

	return photo, nil
}

// CaptureComment validates and enqueues a comment
func (s *CaptureService) CaptureComment(ctx context.Context, cityID, placeID int64, description string) (*models.PendingComment, error) {
	comment, err := models.NewPendingComment(cityID, placeID, description)
	if err != nil {
		return nil, err
	}

	localID, err := s.queueRepo.EnqueueComment(ctx, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue comment: %w", err)
	}
	comment.LocalID = localID

	s.metrics.RecordEnqueue(ctx, string(models.KindComment))
	s.publishPendingCount(ctx)

	observability.WithField("item_id", localID).Info("Comment queued for sync")

	return comment, nil
}

// normalizeImage converts HEIC to JPEG and downscales oversized images so
// queued blobs stay bounded. Already-small JPEG and PNG blobs pass through
// untouched.
func (s *CaptureService) normalizeImage(blob []byte, mimeType string) ([]byte, string, error) {
	isHEIC := mimeType == "image/heic" || mimeType == "image/heif"

	var img image.Image
	var err error
	if isHEIC {
		img, err = goheif.Decode(bytes.NewReader(blob))
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode HEIC image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(blob))
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode image: %w", err)
		}
	}

	bounds := img.Bounds()
	needsResize := bounds.Dx() > s.maxDim || bounds.Dy() > s.maxDim

	if !isHEIC && !needsResize {
		return blob, mimeType, nil
	}

	if needsResize {
		if bounds.Dx() >= bounds.Dy() {
			img = imaging.Resize(img, s.maxDim, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, s.maxDim, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), "image/jpeg", nil
}

// publishPendingCount pushes the current badge count to subscribers
func (s *CaptureService) publishPendingCount(ctx context.Context) {
	count, err := s.queueRepo.CountPending(ctx)
	if err != nil {
		return
	}
	s.bus.Publish(models.Event{Type: models.EventPendingChanged, PendingCount: count})
}

// sniffImageType detects the image mime type from the blob's magic bytes.
// http.DetectContentType does not know HEIC, so the ftyp box is checked first.
func sniffImageType(blob []byte) string {
	if len(blob) > 12 && bytes.Equal(blob[4:8], []byte("ftyp")) {
		brand := string(blob[8:12])
		switch brand {
		case "heic", "heix", "hevc", "heim", "heis", "hevm", "hevs":
			return "image/heic"
		case "mif1", "msf1":
			return "image/heif"
		}
	}
	return http.DetectContentType(blob)
}
