package dblayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promptgallery/dbtypes"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UpsertProfile writes the identity provider's current view of a user and
// stamps the sign-in time.  It is called on every sign-in.
func (db *DB) UpsertProfile(ctx context.Context, profile *dbtypes.UserProfile) error {
	if profile.ID == "" {
		return fmt.Errorf("user ID must not be empty: %w", ErrInvalidArgument)
	}

	stamped := *profile
	stamped.LastLogin = time.Now()

	if _, err := db.userDoc(profile.ID).Set(ctx, &stamped); err != nil {
		return fmt.Errorf("while upserting profile %q: %w", profile.ID, err)
	}

	db.profileCache.Invalidate(profile.ID)
	return nil
}

// GetProfile returns a user's profile, cached for the cache TTL.
func (db *DB) GetProfile(ctx context.Context, userID string) (*dbtypes.UserProfile, error) {
	return db.profileCache.GetOrFetch(userID, func() (*dbtypes.UserProfile, error) {
		snap, err := db.userDoc(userID).Get(ctx)
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("user %q: %w", userID, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("while retrieving profile %q: %w", userID, err)
		}

		profile := &dbtypes.UserProfile{}
		if err := snap.DataTo(profile); err != nil {
			return nil, fmt.Errorf("while unmarshaling profile %q: %w", userID, err)
		}
		return profile, nil
	})
}

// getProfiles fetches the profiles for a set of user IDs, deduplicated.
// Users without a stored profile are simply absent from the result.
func (db *DB) getProfiles(ctx context.Context, userIDs []string) (map[string]*dbtypes.UserProfile, error) {
	unique := map[string]bool{}
	for _, id := range userIDs {
		if id != "" {
			unique[id] = true
		}
	}

	ids := make([]string, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}

	profiles := make([]*dbtypes.UserProfile, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			profile, err := db.GetProfile(ctx, id)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			profiles[i] = profile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]*dbtypes.UserProfile, len(ids))
	for i, id := range ids {
		if profiles[i] != nil {
			byID[id] = profiles[i]
		}
	}
	return byID, nil
}
