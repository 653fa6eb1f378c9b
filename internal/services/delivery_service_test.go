package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truetrek/agent/internal/config"
	"github.com/truetrek/agent/internal/models"
)

func TestDeliverPhotoMultipart(t *testing.T) {
	type captured struct {
		filename  string
		image     []byte
		latitude  string
		longitude string
		placeID   string
		auth      string
	}
	var got captured

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/camera", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(10<<20))

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()

		data, err := io.ReadAll(file)
		require.NoError(t, err)

		got = captured{
			filename:  header.Filename,
			image:     data,
			latitude:  r.FormValue("latitude"),
			longitude: r.FormValue("longitude"),
			placeID:   r.FormValue("place_id"),
			auth:      r.Header.Get("Authorization"),
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewHTTPDeliveryClient(config.Server{BaseURL: server.URL, AccessToken: "trek-token"})

	lat, lng := 48.8584, 2.2945
	placeID := int64(11)
	photo := &models.PendingPhoto{
		LocalID:   1,
		Blob:      []byte("jpeg-bytes"),
		MimeType:  "image/jpeg",
		Latitude:  &lat,
		Longitude: &lng,
		PlaceID:   &placeID,
	}

	require.NoError(t, client.DeliverPhoto(context.Background(), photo))
	assert.Equal(t, "capture.jpg", got.filename)
	assert.Equal(t, []byte("jpeg-bytes"), got.image)
	assert.Equal(t, "48.8584", got.latitude)
	assert.Equal(t, "2.2945", got.longitude)
	assert.Equal(t, "11", got.placeID)
	assert.Equal(t, "Bearer trek-token", got.auth)
}

func TestDeliverPhotoOmitsMissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(10<<20))
		_, hasLat := r.MultipartForm.Value["latitude"]
		_, hasPlace := r.MultipartForm.Value["place_id"]
		assert.False(t, hasLat)
		assert.False(t, hasPlace)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPDeliveryClient(config.Server{BaseURL: server.URL})
	photo := &models.PendingPhoto{LocalID: 2, Blob: []byte("x"), MimeType: "image/png"}

	require.NoError(t, client.DeliverPhoto(context.Background(), photo))
}

func TestDeliverPhotoPNGFilename(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(10<<20))
		_, header, err := r.FormFile("image")
		require.NoError(t, err)
		assert.Equal(t, "capture.png", header.Filename)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPDeliveryClient(config.Server{BaseURL: server.URL})
	photo := &models.PendingPhoto{LocalID: 3, Blob: []byte("png-bytes"), MimeType: "image/png"}

	require.NoError(t, client.DeliverPhoto(context.Background(), photo))
}

func TestDeliverCommentJSON(t *testing.T) {
	var gotPath string
	var gotBody map[string]map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewHTTPDeliveryClient(config.Server{BaseURL: server.URL})
	comment := &models.PendingComment{LocalID: 4, CityID: 5, PlaceID: 17, Description: "great coffee nearby"}

	require.NoError(t, client.DeliverComment(context.Background(), comment))
	assert.Equal(t, "/cities/5/places/17/comments", gotPath)
	assert.Equal(t, "great coffee nearby", gotBody["comment"]["description"])
}

func TestDeliverCommentValidationErrorsJoined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string][]string{
			"errors": {"Description can't be blank", "Place must exist"},
		})
	}))
	defer server.Close()

	client := NewHTTPDeliveryClient(config.Server{BaseURL: server.URL})
	comment := &models.PendingComment{LocalID: 5, CityID: 1, PlaceID: 1, Description: "x"}

	err := client.DeliverComment(context.Background(), comment)
	require.Error(t, err)
	assert.Equal(t, "Description can't be blank, Place must exist", err.Error())
}

func TestDeliverStatusOnlyError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPDeliveryClient(config.Server{BaseURL: server.URL})
	photo := &models.PendingPhoto{LocalID: 6, Blob: []byte("x"), MimeType: "image/jpeg"}

	err := client.DeliverPhoto(context.Background(), photo)
	require.Error(t, err)
	assert.Equal(t, "server error: 502", err.Error())
}
