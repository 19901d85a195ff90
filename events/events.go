// Package events holds the background reactions to primary deletes: a
// removed prompt sheds its executions, and a removed execution sheds its
// image blob.  Handlers are invoked fire-and-forget; failures are logged,
// never surfaced to the caller that performed the primary delete.
package events

import (
	"context"

	"promptgallery/blobstore"

	"github.com/golang/glog"
)

// PromptDeleted announces that a prompt's metadata record was removed.
type PromptDeleted struct {
	PromptID string
}

// ExecutionDeleted announces that an execution record was removed.  BlobPath
// is empty for text executions.
type ExecutionDeleted struct {
	ExecutionID string
	BlobPath    string
}

// ExecutionPurger deletes every execution record referencing a prompt and
// returns the blob paths those records carried.
type ExecutionPurger interface {
	PurgeExecutionsForPrompt(ctx context.Context, promptID string) (blobPaths []string, err error)
}

// BlobDeleter removes a stored blob by path.
type BlobDeleter interface {
	Delete(ctx context.Context, objectPath string) error
}

// Handler reacts to delete events.
type Handler struct {
	executions ExecutionPurger
	blobs      BlobDeleter
}

// NewHandler wires a Handler over the execution store and blob store.
func NewHandler(executions ExecutionPurger, blobs BlobDeleter) *Handler {
	return &Handler{
		executions: executions,
		blobs:      blobs,
	}
}

// OnPromptDeleted removes every execution referencing the deleted prompt,
// then fans out to blob deletion for any image executions among them.
func (h *Handler) OnPromptDeleted(ctx context.Context, ev PromptDeleted) {
	blobPaths, err := h.executions.PurgeExecutionsForPrompt(ctx, ev.PromptID)
	if err != nil {
		glog.Errorf("Cascading execution delete for prompt %q failed: %v", ev.PromptID, err)
		return
	}

	for _, p := range blobPaths {
		h.OnExecutionDeleted(ctx, ExecutionDeleted{BlobPath: p})
	}
}

// OnExecutionDeleted removes the execution's image blob, if it had one.  A
// blob that is already gone is fine; any other storage failure is logged and
// dropped.
func (h *Handler) OnExecutionDeleted(ctx context.Context, ev ExecutionDeleted) {
	if ev.BlobPath == "" {
		return
	}

	if err := h.blobs.Delete(ctx, ev.BlobPath); err != nil {
		if blobstore.IsNotFound(err) {
			glog.Infof("Blob %q was already gone when cascading from execution %q", ev.BlobPath, ev.ExecutionID)
			return
		}
		glog.Errorf("Cascading blob delete %q for execution %q failed: %v", ev.BlobPath, ev.ExecutionID, err)
	}
}
