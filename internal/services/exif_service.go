package services

import (
	"bytes"
	"io"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// EXIFData contains the capture metadata the agent cares about: where and
// when a photo was taken, and how it should be rotated.
type EXIFData struct {
	Latitude    *float64
	Longitude   *float64
	DateTaken   *time.Time
	Orientation int
}

// EXIFService extracts EXIF metadata from images
type EXIFService struct{}

// NewEXIFService creates a new EXIFService
func NewEXIFService() *EXIFService {
	return &EXIFService{}
}

// ExtractFromBytes extracts EXIF data from image bytes
func (s *EXIFService) ExtractFromBytes(data []byte) (*EXIFData, error) {
	return s.ExtractFromReader(bytes.NewReader(data))
}

// ExtractFromReader extracts EXIF data from an io.Reader
func (s *EXIFService) ExtractFromReader(r io.Reader) (*EXIFData, error) {
	x, err := exif.Decode(r)
	if err != nil {
		// No EXIF data or unsupported format - return empty data with defaults
		return &EXIFData{Orientation: 1}, nil
	}

	result := &EXIFData{
		Orientation: 1, // Default orientation
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if val, err := tag.Int(0); err == nil && val >= 1 && val <= 8 {
			result.Orientation = val
		}
	}

	if tm, err := x.DateTime(); err == nil {
		result.DateTaken = &tm
	}

	lat, lng, err := x.LatLong()
	if err == nil {
		result.Latitude = &lat
		result.Longitude = &lng
	}

	return result, nil
}

func init() {
	exif.RegisterParsers()
}
