package dblayer

import (
	"context"
	"fmt"
	"sort"
	"strings"
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

// normalizeTags trims, drops empties, deduplicates, and sorts a tag list.
func normalizeTags(tags []string) []string {
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		seen[t] = true
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// unionTags computes the union of several prompts' tag sets and counts how
// many of them carried at least one tag.
func unionTags(sets [][]string) (union []string, taggedCount int) {
	seen := map[string]bool{}
	for _, set := range sets {
		normalized := normalizeTags(set)
		if len(normalized) == 0 {
			continue
		}
		taggedCount++
		for _, t := range normalized {
			seen[t] = true
		}
	}

	union = make([]string, 0, len(seen))
	for t := range seen {
		union = append(union, t)
	}
	sort.Strings(union)
	return union, taggedCount
}

// MergeTags unions newTags into the metadata/tags registry document.  The
// write uses Firestore's atomic array-union, so concurrent merges from
// different writers never lose tags.  An empty input is a no-op.
func (db *DB) MergeTags(ctx context.Context, newTags []string) error {
	tags := normalizeTags(newTags)
	if len(tags) == 0 {
		return nil
	}

	vals := make([]interface{}, len(tags))
	for i, t := range tags {
		vals[i] = t
	}

	_, err := db.tagsDoc().Set(ctx, map[string]interface{}{
		"tags":        firestore.ArrayUnion(vals...),
		"lastUpdated": firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("while merging tags into registry: %w", err)
	}

	return nil
}

// RebuildTags recomputes the registry from every prompt's tag set and
// overwrites the registry document.  It scans the whole prompts collection,
// so it is meant for administrative use, never the hot path.  It returns the
// resulting tag count and the number of prompts that carried tags.
func (db *DB) RebuildTags(ctx context.Context) (tagCount, taggedPrompts int, err error) {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.RebuildTags")
	defer span.End()

	var sets [][]string
	iter := db.fs.Collection(promptsCollection).Select("tags").Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, 0, fmt.Errorf("while scanning prompt tags: %w", err)
		}

		prompt := &dbtypes.Prompt{}
		if err := snap.DataTo(prompt); err != nil {
			return 0, 0, fmt.Errorf("while unmarshaling prompt %q: %w", snap.Ref.ID, err)
		}
		sets = append(sets, prompt.Tags)
	}

	union, tagged := unionTags(sets)
	span.SetAttributes(attribute.Int("tags", len(union)), attribute.Int("taggedPrompts", tagged))

	now := time.Now()
	registry := &dbtypes.TagRegistry{
		Tags:         union,
		LastUpdated:  now,
		LastRebuild:  now,
		PromptsCount: int64(tagged),
	}
	if _, err := db.tagsDoc().Set(ctx, registry); err != nil {
		return 0, 0, fmt.Errorf("while writing rebuilt tag registry: %w", err)
	}

	return len(union), tagged, nil
}

// GetTags returns the current registry.  A registry that has never been
// written reads as empty.
func (db *DB) GetTags(ctx context.Context) (*dbtypes.TagRegistry, error) {
	snap, err := db.tagsDoc().Get(ctx)
	if status.Code(err) == codes.NotFound {
		return &dbtypes.TagRegistry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("while retrieving tag registry: %w", err)
	}

	registry := &dbtypes.TagRegistry{}
	if err := snap.DataTo(registry); err != nil {
		return nil, fmt.Errorf("while unmarshaling tag registry: %w", err)
	}
	return registry, nil
}

// SubscribeTags pushes every change of the registry document to callback
// until ctx is canceled.  It blocks; run it on its own goroutine.
func (db *DB) SubscribeTags(ctx context.Context, callback func(*dbtypes.TagRegistry)) error {
	snaps := db.tagsDoc().Snapshots(ctx)
	defer snaps.Stop()

	for {
		snap, err := snaps.Next()
		if status.Code(err) == codes.Canceled || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("while watching tag registry: %w", err)
		}
		if !snap.Exists() {
			continue
		}

		registry := &dbtypes.TagRegistry{}
		if err := snap.DataTo(registry); err != nil {
			return fmt.Errorf("while unmarshaling tag registry: %w", err)
		}
		callback(registry)
	}
}
