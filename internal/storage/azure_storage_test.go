package storage

import (
	"testing"
)

func TestParseBlobReference(t *testing.T) {
	tests := []struct {
		name          string
		reference     string
		wantContainer string
		wantBlob      string
		expectError   bool
	}{
		{"simple", "azblob://menus/photo.jpg", "menus", "photo.jpg", false},
		{"nested path", "azblob://menus/2024/06/photo.jpg", "menus", "2024/06/photo.jpg", false},
		{"missing blob", "azblob://menus/", "", "", true},
		{"missing container", "azblob:///photo.jpg", "", "", true},
		{"wrong scheme", "https://menus/photo.jpg", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container, blob, err := ParseBlobReference(tt.reference)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error for %q", tt.reference)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if container != tt.wantContainer || blob != tt.wantBlob {
				t.Errorf("Got %s/%s, want %s/%s", container, blob, tt.wantContainer, tt.wantBlob)
			}
		})
	}
}

func TestNewAzureStorage_InvalidKey(t *testing.T) {
	if _, err := NewAzureStorage("account", "not base64!"); err == nil {
		t.Errorf("Expected an error for a malformed account key")
	}
}
