package dblayer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"promptgallery/dbtypes"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
)

// PromptSort selects the gallery ordering.
type PromptSort string

const (
	SortRecency PromptSort = "recency"
	SortLikes   PromptSort = "likes"
	SortViews   PromptSort = "views"
)

func (s PromptSort) orderField() (string, error) {
	switch s {
	case SortRecency:
		return "createdAt", nil
	case SortLikes:
		return "likes", nil
	case SortViews:
		return "views", nil
	default:
		return "", fmt.Errorf("unknown sort %q: %w", string(s), ErrInvalidArgument)
	}
}

const (
	// maxTagFilter is the query engine's cap on array-contains-any values.
	maxTagFilter = 10

	defaultPageSize = 20
	maxPageSize     = 100
)

// GalleryQuery describes one page request over the prompt gallery.
type GalleryQuery struct {
	Sort PromptSort
	// Tags filters to prompts carrying at least one of these tags.
	Tags   []string
	Author string
	// Cursor is the opaque token from the previous page, or empty.
	Cursor   string
	PageSize int
}

// GalleryPage is one page of gallery results.  Cursor is passed back
// verbatim to fetch the next page.  HasMore is a heuristic: it is true iff
// the page came back full, so the final page of an exactly-divisible result
// set reports one spurious extra page.
type GalleryPage struct {
	Prompts []*dbtypes.Prompt
	Cursor  string
	HasMore bool
}

// pageCursor is the decoded form of the opaque pagination token: the sort it
// was minted under, the last document's sort value, and its ID as the
// tiebreaker.
type pageCursor struct {
	Sort  PromptSort `json:"s"`
	Time  time.Time  `json:"t,omitempty"`
	Count int64      `json:"n,omitempty"`
	DocID string     `json:"id"`
}

func encodeCursor(sort PromptSort, last *dbtypes.Prompt) (string, error) {
	c := pageCursor{Sort: sort, DocID: last.ID}
	switch sort {
	case SortRecency:
		c.Time = last.CreatedAt
	case SortLikes:
		c.Count = last.Likes
	case SortViews:
		c.Count = last.Views
	}

	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("while encoding page cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// decodeCursor returns the StartAfter values for the query's two order-by
// clauses.  A cursor minted under a different sort is rejected.
func decodeCursor(encoded string, sort PromptSort) ([]interface{}, error) {
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed page cursor: %w", ErrInvalidArgument)
	}

	c := pageCursor{}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("malformed page cursor: %w", ErrInvalidArgument)
	}
	if c.Sort != sort {
		return nil, fmt.Errorf("page cursor was minted under sort %q, not %q: %w", c.Sort, sort, ErrInvalidArgument)
	}

	switch sort {
	case SortRecency:
		return []interface{}{c.Time, c.DocID}, nil
	default:
		return []interface{}{c.Count, c.DocID}, nil
	}
}

// assemblePage packages one fetched page.  HasMore is inferred from the page
// being full; the last item seeds the next cursor.
func assemblePage(prompts []*dbtypes.Prompt, pageSize int, sort PromptSort) (*GalleryPage, error) {
	page := &GalleryPage{
		Prompts: prompts,
		HasMore: len(prompts) == pageSize,
	}
	if len(prompts) > 0 {
		cursor, err := encodeCursor(sort, prompts[len(prompts)-1])
		if err != nil {
			return nil, err
		}
		page.Cursor = cursor
	}
	return page, nil
}

// ListPrompts runs one filtered, sorted, limited gallery query.
func (db *DB) ListPrompts(ctx context.Context, q GalleryQuery) (*GalleryPage, error) {
	tracer := otel.Tracer("promptgallery/dblayer")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "DB.ListPrompts")
	defer span.End()

	sort := q.Sort
	if sort == "" {
		sort = SortRecency
	}
	field, err := sort.orderField()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("sort", string(sort)))

	if len(q.Tags) > maxTagFilter {
		return nil, fmt.Errorf("at most %d tag filters are supported, got %d: %w", maxTagFilter, len(q.Tags), ErrInvalidArgument)
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := db.fs.Collection(promptsCollection).Query.Where("visible", "==", true)
	if len(q.Tags) > 0 {
		query = query.Where("tags", "array-contains-any", q.Tags)
	}
	if q.Author != "" {
		query = query.Where("ownerId", "==", q.Author)
	}
	query = query.OrderBy(field, firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	if q.Cursor != "" {
		startAfter, err := decodeCursor(q.Cursor, sort)
		if err != nil {
			return nil, err
		}
		query = query.StartAfter(startAfter...)
	}

	query = query.Limit(pageSize)

	var prompts []*dbtypes.Prompt
	iter := query.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while iterating gallery prompts: %w", err)
		}

		prompt := &dbtypes.Prompt{}
		if err := snap.DataTo(prompt); err != nil {
			return nil, fmt.Errorf("while unmarshaling prompt %q: %w", snap.Ref.ID, err)
		}
		prompts = append(prompts, prompt)
	}

	return assemblePage(prompts, pageSize, sort)
}
