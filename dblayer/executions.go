package dblayer

import (
	"context"
	"fmt"
	"time"

	"promptgallery/dbtypes"
	"promptgallery/dotprompt"
	"promptgallery/events"
	"promptgallery/promptapi"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreBatchLimit is the maximum number of writes per committed batch.
const firestoreBatchLimit = 500

// ExecutionResult is the tagged payload of a run: an uploaded image or a
// text snippet, never both.
type ExecutionResult struct {
	ImagePath string
	ImageURL  string
	Text      string
}

// ImageResult builds a result referencing an uploaded blob.
func ImageResult(objectPath, url string) ExecutionResult {
	return ExecutionResult{ImagePath: objectPath, ImageURL: url}
}

// TextResult builds a plain text result.
func TextResult(text string) ExecutionResult {
	return ExecutionResult{Text: text}
}

func (r ExecutionResult) isEmpty() bool {
	return r.Text == "" && r.ImageURL == ""
}

// RecordExecution persists one run of a prompt.  A result with no observable
// payload is rejected; RunPrompt filters those out before calling here.
func (db *DB) RecordExecution(ctx context.Context, promptID, creatorID string, variables map[string]any, result ExecutionResult) (*dbtypes.Execution, error) {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.RecordExecution")
	defer span.End()

	span.SetAttributes(attribute.String("prompt", promptID))

	if promptID == "" {
		return nil, fmt.Errorf("prompt ID must not be empty: %w", ErrInvalidArgument)
	}
	if creatorID == "" {
		return nil, fmt.Errorf("creator must not be empty: %w", ErrInvalidArgument)
	}
	if result.isEmpty() {
		return nil, fmt.Errorf("execution result carries neither image nor text: %w", ErrInvalidArgument)
	}

	ref := db.fs.Collection(executionsCollection).NewDoc()
	exec := &dbtypes.Execution{
		ID:          ref.ID,
		PromptID:    promptID,
		CreatorID:   creatorID,
		CreatedAt:   time.Now(),
		Variables:   variables,
		ImagePath:   result.ImagePath,
		ImageURL:    result.ImageURL,
		TextContent: result.Text,
		Visible:     true,
	}
	if _, err := ref.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("while recording execution for prompt %q: %w", promptID, err)
	}

	db.invalidateExecutionLists(promptID)
	return exec, nil
}

// RunPrompt executes a template upstream with the given variables and
// records the outcome.
//
// A run that yields neither text nor an image records nothing and returns
// (nil, nil); the caller sees an empty success.  This mirrors the gallery's
// long-standing silent-drop behavior for empty model responses.
func (db *DB) RunPrompt(ctx context.Context, promptID, userID string, variables map[string]any) (*dbtypes.Execution, error) {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.RunPrompt")
	defer span.End()

	span.SetAttributes(attribute.String("prompt", promptID))

	if userID == "" {
		return nil, fmt.Errorf("user must not be empty: %w", ErrInvalidArgument)
	}

	detail, err := db.GetPrompt(ctx, promptID)
	if err != nil {
		return nil, err
	}

	if err := dotprompt.ValidateVariables(detail.InputSchema, variables); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidArgument)
	}

	run, err := db.upstream.Run(ctx, promptID, variables)
	if err != nil {
		return nil, fmt.Errorf("while running template upstream: %w", err)
	}

	result, ok, err := db.resultFromRun(ctx, run)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	return db.RecordExecution(ctx, promptID, userID, variables, result)
}

// resultFromRun extracts the persistable payload from a run, uploading an
// inline image to the blob store when present.  ok is false when the run
// produced nothing extractable.
func (db *DB) resultFromRun(ctx context.Context, run *promptapi.RunResult) (result ExecutionResult, ok bool, err error) {
	if run.Image != nil && run.Image.Data != "" {
		objectPath, url, err := db.blobs.UploadImage(ctx, run.Image.Data, run.Image.ContentType)
		if err != nil {
			return ExecutionResult{}, false, fmt.Errorf("while uploading image result: %w", err)
		}
		return ImageResult(objectPath, url), true, nil
	}

	if run.Text != "" {
		return TextResult(run.Text), true, nil
	}

	return ExecutionResult{}, false, nil
}

// executionListKey builds the cache key for a prompt's execution list.  The
// limit is part of the key so a page fetched with a small limit is never
// served to a caller asking for a larger one.  Invalidation goes through
// invalidateExecutionLists, which drops every limit variant for the prompt.
func executionListKey(promptID string, limit int) string {
	return fmt.Sprintf("%s/%d", promptID, limit)
}

func (db *DB) invalidateExecutionLists(promptID string) {
	db.executionListCache.InvalidatePrefix(promptID + "/")
}

// ListExecutions returns the visible executions of a prompt ordered by like
// count then recency, each joined with its creator's profile.  Results are
// cached per prompt and limit for the cache TTL.
func (db *DB) ListExecutions(ctx context.Context, promptID string, limit int) ([]*dbtypes.ExecutionView, error) {
	return db.executionListCache.GetOrFetch(executionListKey(promptID, limit), func() ([]*dbtypes.ExecutionView, error) {
		return db.fetchExecutions(ctx, promptID, limit)
	})
}

func (db *DB) fetchExecutions(ctx context.Context, promptID string, limit int) ([]*dbtypes.ExecutionView, error) {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.fetchExecutions")
	defer span.End()

	span.SetAttributes(attribute.String("prompt", promptID))

	query := db.fs.Collection(executionsCollection).
		Where("promptId", "==", promptID).
		Where("visible", "==", true).
		OrderBy("likes", firestore.Desc).
		OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var execs []*dbtypes.Execution
	iter := query.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while iterating executions for prompt %q: %w", promptID, err)
		}

		exec := &dbtypes.Execution{}
		if err := snap.DataTo(exec); err != nil {
			return nil, fmt.Errorf("while unmarshaling execution %q: %w", snap.Ref.ID, err)
		}
		if !exec.HasResult() {
			// Records without an observable payload should not exist, but any
			// that do are invisible to the gallery.
			continue
		}

		execs = append(execs, exec)
	}

	creatorIDs := make([]string, 0, len(execs))
	for _, e := range execs {
		creatorIDs = append(creatorIDs, e.CreatorID)
	}
	profiles, err := db.getProfiles(ctx, creatorIDs)
	if err != nil {
		return nil, err
	}

	views := make([]*dbtypes.ExecutionView, 0, len(execs))
	for _, e := range execs {
		views = append(views, &dbtypes.ExecutionView{
			Execution: *e,
			Creator:   profiles[e.CreatorID],
		})
	}

	return views, nil
}

// DeleteExecution removes an execution on behalf of its creator.  The blob
// cleanup runs as a detached cascade.
func (db *DB) DeleteExecution(ctx context.Context, executionID, requesterID string) error {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.DeleteExecution")
	defer span.End()

	span.SetAttributes(attribute.String("execution", executionID))

	snap, err := db.executionDoc(executionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("execution %q: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("while retrieving execution %q: %w", executionID, err)
	}

	exec := &dbtypes.Execution{}
	if err := snap.DataTo(exec); err != nil {
		return fmt.Errorf("while unmarshaling execution %q: %w", executionID, err)
	}

	if exec.CreatorID != requesterID {
		return fmt.Errorf("execution %q belongs to another user: %w", executionID, ErrPermissionDenied)
	}

	if _, err := snap.Ref.Delete(ctx); err != nil {
		return fmt.Errorf("while deleting execution %q: %w", executionID, err)
	}

	db.invalidateExecutionLists(exec.PromptID)

	db.fireCascade(func(ctx context.Context) {
		db.cascades.OnExecutionDeleted(ctx, events.ExecutionDeleted{
			ExecutionID: executionID,
			BlobPath:    exec.ImagePath,
		})
	})

	return nil
}

// PurgeExecutionsForPrompt deletes every execution referencing promptID in
// batched writes and returns the blob paths the deleted records carried.
// It implements events.ExecutionPurger.
func (db *DB) PurgeExecutionsForPrompt(ctx context.Context, promptID string) ([]string, error) {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.PurgeExecutionsForPrompt")
	defer span.End()

	span.SetAttributes(attribute.String("prompt", promptID))

	iter := db.fs.Collection(executionsCollection).Where("promptId", "==", promptID).Documents(ctx)
	defer iter.Stop()

	var blobPaths []string
	batch := db.fs.Batch()
	batched := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while iterating executions for prompt %q: %w", promptID, err)
		}

		exec := &dbtypes.Execution{}
		if err := snap.DataTo(exec); err != nil {
			return nil, fmt.Errorf("while unmarshaling execution %q: %w", snap.Ref.ID, err)
		}
		if exec.ImagePath != "" {
			blobPaths = append(blobPaths, exec.ImagePath)
		}

		batch.Delete(snap.Ref)
		batched++
		if batched == firestoreBatchLimit {
			if _, err := batch.Commit(ctx); err != nil {
				return nil, fmt.Errorf("while committing execution deletes for prompt %q: %w", promptID, err)
			}
			batch = db.fs.Batch()
			batched = 0
		}
	}
	if batched > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return nil, fmt.Errorf("while committing execution deletes for prompt %q: %w", promptID, err)
		}
	}

	db.invalidateExecutionLists(promptID)
	return blobPaths, nil
}
