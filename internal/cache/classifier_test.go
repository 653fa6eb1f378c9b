package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier_Classify(t *testing.T) {
	classifier := NewClassifier([]string{"cloudinary.com"})

	tests := []struct {
		name     string
		method   string
		url      string
		accept   string
		expected RequestClass
	}{
		{"asset path prefix", http.MethodGet, "/assets/application-abc123.css", "", ClassStatic},
		{"stylesheet suffix", http.MethodGet, "/packs/site.css", "", ClassStatic},
		{"script suffix", http.MethodGet, "/packs/site.js", "", ClassStatic},
		{"font suffix", http.MethodGet, "/fonts/inter.woff2", "", ClassStatic},
		{"remote media host", http.MethodGet, "https://res.cloudinary.com/demo/image/upload/p.jpg", "", ClassMedia},
		{"local image", http.MethodGet, "/uploads/photo.webp", "", ClassMedia},
		{"icon", http.MethodGet, "/favicon.ico", "", ClassMedia},
		{"html navigation", http.MethodGet, "/cities/12/places/7", "text/html,application/xhtml+xml", ClassPage},
		{"api json request", http.MethodGet, "/api/places", "application/json", ClassPassthrough},
		{"post is never intercepted", http.MethodPost, "/cities/12/places/7/comments", "text/html", ClassPassthrough},
		{"delete is never intercepted", http.MethodDelete, "/api/photos/3", "", ClassPassthrough},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.url, nil)
			if tt.accept != "" {
				r.Header.Set("Accept", tt.accept)
			}
			assert.Equal(t, tt.expected, classifier.Classify(r))
		})
	}
}

func TestRequestClass_Partition(t *testing.T) {
	assert.Equal(t, PartitionStatic, ClassStatic.Partition())
	assert.Equal(t, PartitionMedia, ClassMedia.Partition())
	assert.Equal(t, PartitionPages, ClassPage.Partition())
	assert.Equal(t, Partition(""), ClassPassthrough.Partition())
}
