package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/truetrek/agent/internal/config"
	"github.com/truetrek/agent/internal/models"
	"github.com/truetrek/agent/internal/observability"
)

// DeliveryClient uploads queued items to the TrueTrek server. A nil error
// means the server accepted the item and it can be removed from the queue.
type DeliveryClient interface {
	DeliverPhoto(ctx context.Context, photo *models.PendingPhoto) error
	DeliverComment(ctx context.Context, comment *models.PendingComment) error
}

// HTTPDeliveryClient delivers items over HTTP, mirroring the capture
// endpoints the web UI submits to when it is online.
type HTTPDeliveryClient struct {
	baseURL string
	client  *http.Client
}

// serverErrorResponse is the validation error shape the server returns
type serverErrorResponse struct {
	Errors []string `json:"errors"`
}

// NewHTTPDeliveryClient creates a delivery client for the configured server.
// The access token is attached to every request via an oauth2 static token
// source.
func NewHTTPDeliveryClient(cfg config.Server) *HTTPDeliveryClient {
	timeout := time.Duration(cfg.DeliveryTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	if cfg.AccessToken != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
		client = oauth2.NewClient(context.Background(), src)
		client.Timeout = timeout
	}

	return &HTTPDeliveryClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
	}
}

// DeliverPhoto uploads one photo as multipart/form-data to the camera endpoint
func (c *HTTPDeliveryClient) DeliverPhoto(ctx context.Context, photo *models.PendingPhoto) error {
	ctx, span := observability.StartDeliverySpan(ctx, string(models.KindPhoto), photo.LocalID)
	defer span.End()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", photoFilename(photo.MimeType))
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("failed to build photo upload: %w", err)
	}
	if _, err := part.Write(photo.Blob); err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("failed to build photo upload: %w", err)
	}

	if photo.Latitude != nil {
		writer.WriteField("latitude", strconv.FormatFloat(*photo.Latitude, 'f', -1, 64))
	}
	if photo.Longitude != nil {
		writer.WriteField("longitude", strconv.FormatFloat(*photo.Longitude, 'f', -1, 64))
	}
	if photo.PlaceID != nil {
		writer.WriteField("place_id", strconv.FormatInt(*photo.PlaceID, 10))
	}

	if err := writer.Close(); err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("failed to build photo upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/camera", &buf)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	if err := c.do(req); err != nil {
		observability.RecordError(span, err)
		return err
	}

	observability.SetSuccess(span)
	return nil
}

// DeliverComment posts one comment as JSON to its place's comments endpoint
func (c *HTTPDeliveryClient) DeliverComment(ctx context.Context, comment *models.PendingComment) error {
	ctx, span := observability.StartDeliverySpan(ctx, string(models.KindComment), comment.LocalID)
	defer span.End()

	body, err := json.Marshal(map[string]interface{}{
		"comment": map[string]string{"description": comment.Description},
	})
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	url := fmt.Sprintf("%s/cities/%d/places/%d/comments", c.baseURL, comment.CityID, comment.PlaceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if err := c.do(req); err != nil {
		observability.RecordError(span, err)
		return err
	}

	observability.SetSuccess(span)
	return nil
}

// do executes the request and converts non-2xx responses into errors that
// carry the server's validation messages when available.
func (c *HTTPDeliveryClient) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var errResp serverErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && len(errResp.Errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errResp.Errors, ", "))
	}
	return fmt.Errorf("server error: %d", resp.StatusCode)
}

// photoFilename picks a multipart filename matching the blob's mime type
func photoFilename(mimeType string) string {
	if mimeType == "image/png" {
		return "capture.png"
	}
	return "capture.jpg"
}
