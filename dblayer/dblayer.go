// Package dblayer packages up most actual Firestore accesses, plus the
// orchestration between the upstream prompt API, the metadata store, and the
// blob store.
package dblayer

import (
	"context"
	"errors"
	"time"

	"promptgallery/blobstore"
	"promptgallery/cache"
	"promptgallery/dbtypes"
	"promptgallery/events"
	"promptgallery/promptapi"

	"cloud.google.com/go/firestore"
)

const (
	promptsCollection    = "prompts"
	executionsCollection = "executions"
	usersCollection      = "users"

	likesSubcollection          = "likes"
	executionLikesSubcollection = "executionLikes"

	metadataCollection = "metadata"
	tagsDocument       = "tags"
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
)

// DB is the gallery's data layer.  All Firestore reads and writes, upstream
// template calls, and cache bookkeeping go through it.
type DB struct {
	fs       *firestore.Client
	upstream *promptapi.Client
	blobs    *blobstore.Store
	cascades *events.Handler

	promptCache        *cache.Cache[*dbtypes.PromptDetail]
	executionListCache *cache.Cache[[]*dbtypes.ExecutionView]
	profileCache       *cache.Cache[*dbtypes.UserProfile]
}

// New wires a DB over its three backing stores.
func New(fs *firestore.Client, upstream *promptapi.Client, blobs *blobstore.Store) *DB {
	db := &DB{
		fs:       fs,
		upstream: upstream,
		blobs:    blobs,

		promptCache:        cache.New[*dbtypes.PromptDetail](cache.DefaultTTL, time.Now),
		executionListCache: cache.New[[]*dbtypes.ExecutionView](cache.DefaultTTL, time.Now),
		profileCache:       cache.New[*dbtypes.UserProfile](cache.DefaultTTL, time.Now),
	}
	db.cascades = events.NewHandler(db, blobs)
	return db
}

func (db *DB) promptDoc(id string) *firestore.DocumentRef {
	return db.fs.Collection(promptsCollection).Doc(id)
}

func (db *DB) executionDoc(id string) *firestore.DocumentRef {
	return db.fs.Collection(executionsCollection).Doc(id)
}

func (db *DB) userDoc(id string) *firestore.DocumentRef {
	return db.fs.Collection(usersCollection).Doc(id)
}

func (db *DB) tagsDoc() *firestore.DocumentRef {
	return db.fs.Collection(metadataCollection).Doc(tagsDocument)
}

// fireCascade runs a delete side effect in the background.  The primary
// delete has already succeeded; the cascade is best-effort and detached from
// the caller's context.
func (db *DB) fireCascade(f func(ctx context.Context)) {
	go f(context.Background())
}
