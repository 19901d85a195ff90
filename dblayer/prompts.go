package dblayer

import (
	"context"
	"fmt"
	"time"

	"promptgallery/dbtypes"
	"promptgallery/dotprompt"
	"promptgallery/events"

	"cloud.google.com/go/firestore"
	"github.com/golang/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CreatePrompt stores a new template upstream and mirrors its metadata.  The
// upstream API assigns the ID; the Firestore document is keyed by it.
//
// If the upstream call fails, nothing is written and the error is returned.
// If the metadata write fails after a successful upstream create, the
// returned error carries the upstream ID so the caller can retry or
// reconcile via SyncPrompts; the upstream template is not rolled back.
func (db *DB) CreatePrompt(ctx context.Context, displayName, templateBody, inputSchema, ownerID string) (string, error) {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.CreatePrompt")
	defer span.End()

	if displayName == "" {
		return "", fmt.Errorf("display name must not be empty: %w", ErrInvalidArgument)
	}
	if templateBody == "" {
		return "", fmt.Errorf("template body must not be empty: %w", ErrInvalidArgument)
	}
	if ownerID == "" {
		return "", fmt.Errorf("owner must not be empty: %w", ErrInvalidArgument)
	}

	id, err := db.upstream.Create(ctx, displayName, templateBody)
	if err != nil {
		return "", fmt.Errorf("while creating template upstream: %w", err)
	}
	span.SetAttributes(attribute.String("prompt", id))

	prompt := &dbtypes.Prompt{
		ID:          id,
		DisplayName: displayName,
		InputSchema: inputSchema,
		OwnerID:     ownerID,
		CreatedAt:   time.Now(),
		Tags:        []string{},
		Visible:     true,
	}
	if _, err := db.promptDoc(id).Create(ctx, prompt); err != nil {
		// The template now exists upstream but is unindexed.  Surface the
		// failure; SyncPrompts can heal it later.
		return id, fmt.Errorf("template %q created upstream but its metadata write failed: %w", id, err)
	}

	return id, nil
}

// PromptUpdate is a partial update to a prompt.  Nil fields are left
// untouched.
type PromptUpdate struct {
	DisplayName  *string
	TemplateBody *string
	InputSchema  *string
	Tags         *[]string
}

func (u PromptUpdate) isEmpty() bool {
	return u.DisplayName == nil && u.TemplateBody == nil && u.InputSchema == nil && u.Tags == nil
}

// splitUpdate partitions a PromptUpdate into the upstream patch (field mask
// plus values) and the Firestore updates.  The display name lives in both
// stores; the body only upstream; schema and tags only in Firestore.
func splitUpdate(u PromptUpdate) (mask []string, values map[string]string, storeUpdates []firestore.Update, mergedTags []string) {
	values = map[string]string{}

	if u.DisplayName != nil {
		mask = append(mask, "displayName")
		values["displayName"] = *u.DisplayName
		storeUpdates = append(storeUpdates, firestore.Update{Path: "displayName", Value: *u.DisplayName})
	}
	if u.TemplateBody != nil {
		mask = append(mask, "template")
		values["template"] = *u.TemplateBody
	}
	if u.InputSchema != nil {
		storeUpdates = append(storeUpdates, firestore.Update{Path: "inputSchema", Value: *u.InputSchema})
	}
	if u.Tags != nil {
		mergedTags = normalizeTags(*u.Tags)
		storeUpdates = append(storeUpdates, firestore.Update{Path: "tags", Value: mergedTags})
	}

	return mask, values, storeUpdates, mergedTags
}

// UpdatePrompt applies a partial update on behalf of requesterID, who must be
// the prompt's owner.  The upstream patch only names changed upstream fields;
// the Firestore update only touches changed store fields; either half is
// skipped when empty.
func (db *DB) UpdatePrompt(ctx context.Context, promptID, requesterID string, update PromptUpdate) error {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.UpdatePrompt")
	defer span.End()

	span.SetAttributes(attribute.String("prompt", promptID))

	if update.isEmpty() {
		return fmt.Errorf("update names no fields: %w", ErrInvalidArgument)
	}

	snap, err := db.promptDoc(promptID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("prompt %q: %w", promptID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("while retrieving prompt %q: %w", promptID, err)
	}

	prompt := &dbtypes.Prompt{}
	if err := snap.DataTo(prompt); err != nil {
		return fmt.Errorf("while unmarshaling prompt %q: %w", promptID, err)
	}

	if prompt.OwnerID != requesterID {
		return fmt.Errorf("prompt %q belongs to another user: %w", promptID, ErrPermissionDenied)
	}

	mask, values, storeUpdates, mergedTags := splitUpdate(update)

	if len(mask) > 0 {
		if err := db.upstream.Patch(ctx, promptID, mask, values); err != nil {
			return fmt.Errorf("while patching template upstream: %w", err)
		}
	}

	if len(storeUpdates) > 0 {
		if _, err := snap.Ref.Update(ctx, storeUpdates); err != nil {
			return db.metadataUpdateFailed(promptID, err)
		}
	}

	if len(mergedTags) > 0 {
		// The registry is a rebuildable cache; a failed merge is not worth
		// failing the whole update over.
		if err := db.MergeTags(ctx, mergedTags); err != nil {
			glog.Warningf("Tag registry merge failed after updating prompt %q: %v", promptID, err)
		}
	}

	db.promptCache.Invalidate(promptID)
	return nil
}

// metadataUpdateFailed wraps a failed metadata write that followed a
// successful upstream patch.  The upstream already carries the new template,
// so the cached detail is stale either way; the entry is dropped even though
// the update is being reported as a failure.
func (db *DB) metadataUpdateFailed(promptID string, err error) error {
	db.promptCache.Invalidate(promptID)
	return fmt.Errorf("while updating prompt %q metadata: %w", promptID, err)
}

// DeletePrompt removes a prompt upstream and from the metadata store on
// behalf of its owner.  Execution cleanup runs as a detached cascade; the
// caller does not wait for it.
func (db *DB) DeletePrompt(ctx context.Context, promptID, requesterID string) error {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.DeletePrompt")
	defer span.End()

	span.SetAttributes(attribute.String("prompt", promptID))

	snap, err := db.promptDoc(promptID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("prompt %q: %w", promptID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("while retrieving prompt %q: %w", promptID, err)
	}

	prompt := &dbtypes.Prompt{}
	if err := snap.DataTo(prompt); err != nil {
		return fmt.Errorf("while unmarshaling prompt %q: %w", promptID, err)
	}

	if prompt.OwnerID != requesterID {
		return fmt.Errorf("prompt %q belongs to another user: %w", promptID, ErrPermissionDenied)
	}

	if err := db.upstream.Delete(ctx, promptID); err != nil {
		return fmt.Errorf("while deleting template upstream: %w", err)
	}

	if _, err := snap.Ref.Delete(ctx); err != nil {
		return fmt.Errorf("while deleting prompt %q metadata: %w", promptID, err)
	}

	db.promptCache.Invalidate(promptID)
	db.invalidateExecutionLists(promptID)

	db.fireCascade(func(ctx context.Context) {
		db.cascades.OnPromptDeleted(ctx, events.PromptDeleted{PromptID: promptID})
	})

	return nil
}

// GetPrompt returns a prompt's metadata merged with its current upstream
// body and the model info parsed out of it.  Results are cached for the
// cache TTL.
func (db *DB) GetPrompt(ctx context.Context, promptID string) (*dbtypes.PromptDetail, error) {
	return db.promptCache.GetOrFetch(promptID, func() (*dbtypes.PromptDetail, error) {
		return db.fetchPrompt(ctx, promptID)
	})
}

func (db *DB) fetchPrompt(ctx context.Context, promptID string) (*dbtypes.PromptDetail, error) {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.fetchPrompt")
	defer span.End()

	span.SetAttributes(attribute.String("prompt", promptID))

	snap, err := db.promptDoc(promptID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("prompt %q: %w", promptID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("while retrieving prompt %q: %w", promptID, err)
	}

	detail := &dbtypes.PromptDetail{}
	if err := snap.DataTo(&detail.Prompt); err != nil {
		return nil, fmt.Errorf("while unmarshaling prompt %q: %w", promptID, err)
	}

	tmpl, err := db.upstream.Get(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("while fetching template upstream: %w", err)
	}

	parsed := dotprompt.Parse(tmpl.Template)
	detail.TemplateBody = tmpl.Template
	detail.Model = parsed.Model
	detail.ModelConfig = parsed.Config
	detail.Variables = parsed.Variables

	return detail, nil
}

// IncrementPromptViews bumps a prompt's view counter.  Views are a
// popularity signal only; no per-user dedup is attempted.
func (db *DB) IncrementPromptViews(ctx context.Context, promptID string) error {
	_, err := db.promptDoc(promptID).Update(ctx, []firestore.Update{
		{Path: "views", Value: firestore.Increment(1)},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("prompt %q: %w", promptID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("while incrementing views for prompt %q: %w", promptID, err)
	}

	db.promptCache.Invalidate(promptID)
	return nil
}

// SyncResult is the per-item outcome of a batch reconciliation.
type SyncResult struct {
	PromptID string
	Err      error
}

// SyncPrompts reconciles metadata records against the upstream API for the
// given template IDs.  A template that exists upstream but has no metadata
// record (a failed CreatePrompt tail) gets one seeded with ownerID; an
// existing record gets its display name refreshed.  Each item succeeds or
// fails independently.
func (db *DB) SyncPrompts(ctx context.Context, promptIDs []string, ownerID string) []SyncResult {
	results := make([]SyncResult, 0, len(promptIDs))
	for _, id := range promptIDs {
		results = append(results, SyncResult{PromptID: id, Err: db.syncPrompt(ctx, id, ownerID)})
	}
	return results
}

func (db *DB) syncPrompt(ctx context.Context, promptID, ownerID string) error {
	tmpl, err := db.upstream.Get(ctx, promptID)
	if err != nil {
		return fmt.Errorf("while fetching template upstream: %w", err)
	}

	snap, err := db.promptDoc(promptID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		prompt := &dbtypes.Prompt{
			ID:          promptID,
			DisplayName: tmpl.DisplayName,
			OwnerID:     ownerID,
			CreatedAt:   time.Now(),
			Tags:        []string{},
			Visible:     true,
		}
		if _, err := db.promptDoc(promptID).Create(ctx, prompt); err != nil {
			return fmt.Errorf("while seeding metadata for template %q: %w", promptID, err)
		}
		db.promptCache.Invalidate(promptID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("while retrieving prompt %q: %w", promptID, err)
	}

	if _, err := snap.Ref.Update(ctx, []firestore.Update{
		{Path: "displayName", Value: tmpl.DisplayName},
	}); err != nil {
		return fmt.Errorf("while refreshing prompt %q metadata: %w", promptID, err)
	}

	db.promptCache.Invalidate(promptID)
	return nil
}
