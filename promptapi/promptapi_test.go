package promptapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCreateReturnsAssignedID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/templates" {
			t.Errorf("Got %s %s, want POST /v1/templates", r.Method, r.URL.Path)
		}

		body := struct {
			DisplayName string `json:"displayName"`
			Template    string `json:"template"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("while decoding request body: %v", err)
		}
		if body.DisplayName != "Haiku Bot" {
			t.Errorf("Got displayName %q, want %q", body.DisplayName, "Haiku Bot")
		}

		json.NewEncoder(w).Encode(map[string]string{"id": "tmpl-123"})
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "")
	id, err := c.Create(context.Background(), "Haiku Bot", "---\nmodel: m\n---\nWrite a haiku about {{topic}}.")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "tmpl-123" {
		t.Errorf("Create returned id %q, want %q", id, "tmpl-123")
	}
}

func TestPatchSendsFieldMask(t *testing.T) {
	var gotMask string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/v1/templates/tmpl-123" {
			t.Errorf("Got %s %s, want PATCH /v1/templates/tmpl-123", r.Method, r.URL.Path)
		}
		gotMask = r.URL.Query().Get("updateMask")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("while decoding request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "")
	err := c.Patch(context.Background(), "tmpl-123", []string{"displayName"}, map[string]string{"displayName": "Renamed"})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}

	if gotMask != "displayName" {
		t.Errorf("Got updateMask %q, want %q", gotMask, "displayName")
	}
	if diff := cmp.Diff(map[string]string{"displayName": "Renamed"}, gotBody); diff != "" {
		t.Errorf("Patch body diff (-want +got):\n%s", diff)
	}
}

func TestPatchWithEmptyMaskSkipsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("Got unexpected request %s %s for an empty mask", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "")
	if err := c.Patch(context.Background(), "tmpl-123", nil, nil); err != nil {
		t.Fatalf("Patch: %v", err)
	}
}

func TestRunDecodesTextAndImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/templates/tmpl-123:run" {
			t.Errorf("Got path %q, want %q", r.URL.Path, "/v1/templates/tmpl-123:run")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"image": map[string]string{"data": "aGk=", "contentType": "image/png"},
		})
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "")
	result, err := c.Run(context.Background(), "tmpl-123", map[string]any{"topic": "rivers"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "" {
		t.Errorf("Got text %q, want empty", result.Text)
	}
	if result.Image == nil || result.Image.Data != "aGk=" || result.Image.ContentType != "image/png" {
		t.Errorf("Got image %+v, want data aGk= with content type image/png", result.Image)
	}
}

func TestErrorMessagePassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "template body is malformed"}})
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "")
	_, err := c.Get(context.Background(), "tmpl-123")

	uerr := &UpstreamError{}
	if !errors.As(err, &uerr) {
		t.Fatalf("Get error = %v, want an *UpstreamError", err)
	}
	if uerr.StatusCode != http.StatusBadRequest {
		t.Errorf("Got status %d, want %d", uerr.StatusCode, http.StatusBadRequest)
	}
	if uerr.Message != "template body is malformed" {
		t.Errorf("Got message %q, want the API's message passed through", uerr.Message)
	}
}
