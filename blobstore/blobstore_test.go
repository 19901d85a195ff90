package blobstore

import (
	"fmt"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
)

func TestExtForContentType(t *testing.T) {
	cases := []struct {
		contentType string
		want        string
	}{
		{"image/png", ".png"},
		{"image/jpeg", ".jpg"},
		{"image/webp", ".webp"},
		{"image/gif", ".gif"},
		{"application/octet-stream", ".bin"},
		{"", ".bin"},
	}
	for _, c := range cases {
		if got := extForContentType(c.contentType); got != c.want {
			t.Errorf("extForContentType(%q) = %q, want %q", c.contentType, got, c.want)
		}
	}
}

func TestObjectNameLayout(t *testing.T) {
	name := objectName("image/png")
	if !strings.HasPrefix(name, "executions/") {
		t.Errorf("objectName = %q, want the executions/ prefix", name)
	}
	if !strings.HasSuffix(name, ".png") {
		t.Errorf("objectName = %q, want a .png suffix", name)
	}
	if other := objectName("image/png"); other == name {
		t.Errorf("objectName produced the same name twice: %q", name)
	}
}

func TestPublicURL(t *testing.T) {
	got := publicURL("gallery-images", "executions/abc.png")
	want := "https://storage.googleapis.com/gallery-images/executions/abc.png"
	if got != want {
		t.Errorf("publicURL = %q, want %q", got, want)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(storage.ErrObjectNotExist) {
		t.Errorf("IsNotFound(ErrObjectNotExist) = false, want true")
	}
	if !IsNotFound(fmt.Errorf("while deleting: %w", storage.ErrObjectNotExist)) {
		t.Errorf("IsNotFound should see through wrapping")
	}
	if IsNotFound(fmt.Errorf("permission denied")) {
		t.Errorf("IsNotFound(unrelated error) = true, want false")
	}
}
