package dblayer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"promptgallery/dbtypes"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LikeKind selects which entity family a like applies to.  Both kinds share
// the same toggle algorithm against different collection pairs.
type LikeKind int

const (
	LikePrompt LikeKind = iota
	LikeExecution
)

// ParseLikeKind maps the wire names to a LikeKind.
func ParseLikeKind(s string) (LikeKind, error) {
	switch s {
	case "prompt":
		return LikePrompt, nil
	case "execution":
		return LikeExecution, nil
	default:
		return 0, fmt.Errorf("unknown like kind %q: %w", s, ErrInvalidArgument)
	}
}

func (k LikeKind) String() string {
	if k == LikeExecution {
		return "execution"
	}
	return "prompt"
}

func (k LikeKind) entityCollection() string {
	if k == LikeExecution {
		return executionsCollection
	}
	return promptsCollection
}

func (k LikeKind) markerSubcollection() string {
	if k == LikeExecution {
		return executionLikesSubcollection
	}
	return likesSubcollection
}

// nextLikeCount computes the entity's stored count after a toggle.  wasLiked
// is whether the user's marker existed before the toggle.  The count is
// floored at zero so a stray marker delete can never drive it negative.
func nextLikeCount(wasLiked bool, current int64) int64 {
	if wasLiked {
		if current <= 0 {
			return 0
		}
		return current - 1
	}
	return current + 1
}

// ToggleLike flips whether userID likes the given entity and returns the new
// liked state.  The marker check, marker write, and counter update happen in
// one Firestore transaction, so concurrent toggles by different users can
// never lose an update.
func (db *DB) ToggleLike(ctx context.Context, kind LikeKind, entityID, userID string) (nowLiked bool, err error) {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.ToggleLike")
	defer span.End()

	span.SetAttributes(attribute.String("kind", kind.String()), attribute.String("entity", entityID))

	if entityID == "" {
		return false, fmt.Errorf("entity ID must not be empty: %w", ErrInvalidArgument)
	}
	if userID == "" {
		return false, fmt.Errorf("user must not be empty: %w", ErrInvalidArgument)
	}

	entityRef := db.fs.Collection(kind.entityCollection()).Doc(entityID)
	markerRef := db.userDoc(userID).Collection(kind.markerSubcollection()).Doc(entityID)

	var promptToInvalidate string

	err = db.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		entitySnap, err := tx.Get(entityRef)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%s %q: %w", kind, entityID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("while reading %s %q: %w", kind, entityID, err)
		}

		wasLiked := true
		_, err = tx.Get(markerRef)
		if status.Code(err) == codes.NotFound {
			wasLiked = false
		} else if err != nil {
			return fmt.Errorf("while reading like marker: %w", err)
		}

		var current int64
		if v, err := entitySnap.DataAt("likes"); err == nil {
			if n, ok := v.(int64); ok {
				current = n
			}
		}

		if kind == LikeExecution {
			if v, err := entitySnap.DataAt("promptId"); err == nil {
				if s, ok := v.(string); ok {
					promptToInvalidate = s
				}
			}
		}

		if wasLiked {
			if err := tx.Delete(markerRef); err != nil {
				return fmt.Errorf("while deleting like marker: %w", err)
			}
		} else {
			if err := tx.Set(markerRef, &dbtypes.LikeMarker{CreatedAt: time.Now()}); err != nil {
				return fmt.Errorf("while creating like marker: %w", err)
			}
		}

		if err := tx.Update(entityRef, []firestore.Update{
			{Path: "likes", Value: nextLikeCount(wasLiked, current)},
		}); err != nil {
			return fmt.Errorf("while updating like count: %w", err)
		}

		nowLiked = !wasLiked
		return nil
	})
	if err != nil {
		return false, err
	}

	switch kind {
	case LikePrompt:
		db.promptCache.Invalidate(entityID)
	case LikeExecution:
		if promptToInvalidate != "" {
			db.invalidateExecutionLists(promptToInvalidate)
		}
	}

	return nowLiked, nil
}

// ListUserLikes returns the IDs of every entity of the given kind that the
// user currently likes.  It is read once per session to hydrate UI state and
// is deliberately uncached.
func (db *DB) ListUserLikes(ctx context.Context, userID string, kind LikeKind) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("user must not be empty: %w", ErrInvalidArgument)
	}

	var ids []string
	iter := db.userDoc(userID).Collection(kind.markerSubcollection()).DocumentRefs(ctx)
	for {
		ref, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while iterating %s likes for user %q: %w", kind, userID, err)
		}
		ids = append(ids, ref.ID)
	}

	sort.Strings(ids)
	return ids, nil
}
