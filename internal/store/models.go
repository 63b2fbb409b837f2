// Package store persists chapter images and agent settings in sqlite.
package store

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ConfigKeyAuthToken = "auth_token"
	ConfigKeyDeviceID  = "device_id"

	defaultImageType = "application/octet-stream"
)

// Image is a stored chapter or cover image. The store owns the bytes;
// chapters only keep the ID.
type Image struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	ContentType string    `json:"content_type"`
	SourceURL   string    `json:"source_url,omitempty"`
	Size        int64     `json:"size"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewID() string {
	return uuid.NewString()
}

// DetectImageType returns the declared content type when it names an
// image, falling back to sniffing the bytes.
func DetectImageType(declared string, data []byte) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	if declared != "" {
		return declared
	}
	return defaultImageType
}
