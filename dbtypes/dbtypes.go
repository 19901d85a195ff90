// Package dbtypes holds the Firestore document shapes shared by the gallery
// backend.
package dbtypes

import (
	"time"
)

// Prompt is the metadata record for a stored prompt template.
//
// The template body itself lives in the upstream prompt API; the Firestore
// document only mirrors what the gallery needs for listing, filtering, and
// ownership checks.  The document ID always equals the upstream-assigned
// template ID.
type Prompt struct {
	ID          string    `firestore:"id"`
	DisplayName string    `firestore:"displayName"`
	InputSchema string    `firestore:"inputSchema"`
	OwnerID     string    `firestore:"ownerId"`
	CreatedAt   time.Time `firestore:"createdAt"`
	Likes       int64     `firestore:"likes"`
	Views       int64     `firestore:"views"`
	Tags        []string  `firestore:"tags"`
	Visible     bool      `firestore:"visible"`
}

// PromptDetail is a Prompt joined with the current upstream template body and
// the model metadata parsed out of it.  It is what the UI renders on a prompt
// detail page.
type PromptDetail struct {
	Prompt

	TemplateBody string         `firestore:"-"`
	Model        string         `firestore:"-"`
	ModelConfig  map[string]any `firestore:"-"`
	Variables    []string       `firestore:"-"`
}

// Execution records one run of a prompt template.  Exactly one of
// (ImagePath, ImageURL) and TextContent is populated.
type Execution struct {
	ID          string         `firestore:"id"`
	PromptID    string         `firestore:"promptId"`
	CreatorID   string         `firestore:"creatorId"`
	CreatedAt   time.Time      `firestore:"createdAt"`
	Variables   map[string]any `firestore:"variables"`
	ImagePath   string         `firestore:"imagePath"`
	ImageURL    string         `firestore:"imageUrl"`
	TextContent string         `firestore:"textContent"`
	Likes       int64          `firestore:"likes"`
	Visible     bool           `firestore:"visible"`
}

// HasResult reports whether the execution carries an observable payload.
func (e *Execution) HasResult() bool {
	return e.TextContent != "" || e.ImageURL != ""
}

// ExecutionView is an Execution joined with its creator's profile for
// display.  Creator may be nil if the profile was never written.
type ExecutionView struct {
	Execution
	Creator *UserProfile
}

// LikeMarker is the per-(user, entity) marker document whose existence is the
// source of truth for "user X likes entity Y".
type LikeMarker struct {
	CreatedAt time.Time `firestore:"createdAt"`
}

// TagRegistry is the single metadata/tags document: the deduplicated union of
// every tag attached to any prompt.  It is a cache over the prompts
// collection, never authoritative, and can be rebuilt from scratch.
type TagRegistry struct {
	Tags         []string  `firestore:"tags"`
	LastUpdated  time.Time `firestore:"lastUpdated"`
	LastRebuild  time.Time `firestore:"lastRebuild"`
	PromptsCount int64     `firestore:"promptsCount"`
}

// UserProfile mirrors the identity provider's view of a user.  It is upserted
// on every sign-in.
type UserProfile struct {
	ID          string    `firestore:"id"`
	DisplayName string    `firestore:"displayName"`
	AvatarURL   string    `firestore:"avatarUrl"`
	Email       string    `firestore:"email"`
	LastLogin   time.Time `firestore:"lastLogin"`
}
