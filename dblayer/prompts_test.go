package dblayer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"promptgallery/cache"
	"promptgallery/dbtypes"

	"cloud.google.com/go/firestore"
	"github.com/google/go-cmp/cmp"
)

func strPtr(s string) *string { return &s }

func TestPromptUpdateIsEmpty(t *testing.T) {
	if !(PromptUpdate{}).isEmpty() {
		t.Errorf("zero PromptUpdate should be empty")
	}
	if (PromptUpdate{DisplayName: strPtr("x")}).isEmpty() {
		t.Errorf("PromptUpdate with a display name should not be empty")
	}
	tags := []string{}
	if (PromptUpdate{Tags: &tags}).isEmpty() {
		t.Errorf("PromptUpdate clearing tags should not be empty")
	}
}

func TestSplitUpdateDisplayNameOnly(t *testing.T) {
	mask, values, storeUpdates, mergedTags := splitUpdate(PromptUpdate{DisplayName: strPtr("Renamed")})

	// The display name lives in both stores; the template body must be left
	// untouched everywhere.
	if diff := cmp.Diff([]string{"displayName"}, mask); diff != "" {
		t.Errorf("mask diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"displayName": "Renamed"}, values); diff != "" {
		t.Errorf("values diff (-want +got):\n%s", diff)
	}
	wantStore := []firestore.Update{{Path: "displayName", Value: "Renamed"}}
	if diff := cmp.Diff(wantStore, storeUpdates); diff != "" {
		t.Errorf("store updates diff (-want +got):\n%s", diff)
	}
	if len(mergedTags) != 0 {
		t.Errorf("Got merged tags %v for a display-name update, want none", mergedTags)
	}
}

func TestSplitUpdateBodyOnly(t *testing.T) {
	mask, values, storeUpdates, _ := splitUpdate(PromptUpdate{TemplateBody: strPtr("new body")})

	if diff := cmp.Diff([]string{"template"}, mask); diff != "" {
		t.Errorf("mask diff (-want +got):\n%s", diff)
	}
	if values["template"] != "new body" {
		t.Errorf("Got template value %q, want %q", values["template"], "new body")
	}
	if len(storeUpdates) != 0 {
		t.Errorf("Got store updates %v for a body-only update, want none (body lives upstream)", storeUpdates)
	}
}

func TestSplitUpdateSchemaOnly(t *testing.T) {
	mask, _, storeUpdates, _ := splitUpdate(PromptUpdate{InputSchema: strPtr(`{"type":"object"}`)})

	if len(mask) != 0 {
		t.Errorf("Got upstream mask %v for a schema-only update, want none (schema lives in the store)", mask)
	}
	if len(storeUpdates) != 1 || storeUpdates[0].Path != "inputSchema" {
		t.Errorf("Got store updates %v, want a single inputSchema update", storeUpdates)
	}
}

func TestSplitUpdateTagsAreNormalized(t *testing.T) {
	tags := []string{"poetry", " poetry ", "", "images"}
	mask, _, storeUpdates, mergedTags := splitUpdate(PromptUpdate{Tags: &tags})

	if len(mask) != 0 {
		t.Errorf("Got upstream mask %v for a tags update, want none", mask)
	}
	if diff := cmp.Diff([]string{"images", "poetry"}, mergedTags); diff != "" {
		t.Errorf("merged tags diff (-want +got):\n%s", diff)
	}
	if len(storeUpdates) != 1 || storeUpdates[0].Path != "tags" {
		t.Errorf("Got store updates %v, want a single tags update", storeUpdates)
	}
}

func TestSplitUpdateCombined(t *testing.T) {
	mask, values, storeUpdates, _ := splitUpdate(PromptUpdate{
		DisplayName:  strPtr("Renamed"),
		TemplateBody: strPtr("new body"),
		InputSchema:  strPtr("{}"),
	})

	if diff := cmp.Diff([]string{"displayName", "template"}, mask); diff != "" {
		t.Errorf("mask diff (-want +got):\n%s", diff)
	}
	if len(values) != 2 {
		t.Errorf("Got %d upstream values, want 2", len(values))
	}
	// displayName and inputSchema land in the store; template does not.
	paths := []string{}
	for _, u := range storeUpdates {
		paths = append(paths, u.Path)
	}
	if diff := cmp.Diff([]string{"displayName", "inputSchema"}, paths); diff != "" {
		t.Errorf("store update paths diff (-want +got):\n%s", diff)
	}
}

// Argument checks fail before any store or upstream access, so a zero DB is
// enough to exercise them.
func TestUpdatePromptRejectsEmptyUpdate(t *testing.T) {
	db := &DB{}
	err := db.UpdatePrompt(context.Background(), "tmpl-1", "user-1", PromptUpdate{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("UpdatePrompt with an empty update = %v, want ErrInvalidArgument", err)
	}
}

func TestCreatePromptRejectsMissingFields(t *testing.T) {
	db := &DB{}
	cases := []struct {
		name                               string
		displayName, templateBody, ownerID string
	}{
		{"no display name", "", "body", "user-1"},
		{"no body", "Name", "", "user-1"},
		{"no owner", "Name", "body", ""},
	}
	for _, c := range cases {
		_, err := db.CreatePrompt(context.Background(), c.displayName, c.templateBody, "", c.ownerID)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: CreatePrompt = %v, want ErrInvalidArgument", c.name, err)
		}
	}
}

func TestRecordExecutionRejectsEmptyResult(t *testing.T) {
	db := &DB{}
	_, err := db.RecordExecution(context.Background(), "tmpl-1", "user-1", nil, ExecutionResult{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("RecordExecution with an empty result = %v, want ErrInvalidArgument", err)
	}
}

func TestToggleLikeRejectsEmptyIDs(t *testing.T) {
	db := &DB{}
	if _, err := db.ToggleLike(context.Background(), LikePrompt, "", "user-1"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ToggleLike with an empty entity ID = %v, want ErrInvalidArgument", err)
	}
	if _, err := db.ToggleLike(context.Background(), LikePrompt, "tmpl-1", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ToggleLike with an empty user ID = %v, want ErrInvalidArgument", err)
	}
}

func TestListPromptsRejectsTooManyTagFilters(t *testing.T) {
	db := &DB{}
	tags := make([]string, 11)
	for i := range tags {
		tags[i] = fmt.Sprintf("tag-%d", i)
	}

	_, err := db.ListPrompts(context.Background(), GalleryQuery{Tags: tags})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ListPrompts with 11 tag filters = %v, want ErrInvalidArgument", err)
	}
}

func TestMetadataUpdateFailureDropsCachedDetail(t *testing.T) {
	db := &DB{
		promptCache: cache.New[*dbtypes.PromptDetail](cache.DefaultTTL, time.Now),
	}

	if _, err := db.promptCache.GetOrFetch("tmpl-1", func() (*dbtypes.PromptDetail, error) {
		return &dbtypes.PromptDetail{TemplateBody: "old body"}, nil
	}); err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}

	boom := errors.New("boom")
	if err := db.metadataUpdateFailed("tmpl-1", boom); !errors.Is(err, boom) {
		t.Errorf("metadataUpdateFailed = %v, want a wrap of %v", err, boom)
	}

	fetched := false
	if _, err := db.promptCache.GetOrFetch("tmpl-1", func() (*dbtypes.PromptDetail, error) {
		fetched = true
		return &dbtypes.PromptDetail{TemplateBody: "new body"}, nil
	}); err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if !fetched {
		t.Errorf("Cached detail survived a failed metadata update; want the entry dropped")
	}
}

func TestExecutionResultVariants(t *testing.T) {
	if !(ExecutionResult{}).isEmpty() {
		t.Errorf("zero ExecutionResult should be empty")
	}
	if TextResult("hello").isEmpty() {
		t.Errorf("text result should not be empty")
	}
	if ImageResult("executions/a.png", "https://example.com/a.png").isEmpty() {
		t.Errorf("image result should not be empty")
	}
}
