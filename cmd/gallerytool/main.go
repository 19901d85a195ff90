// gallerytool is a utility program for administrative operations on the
// gallery's data: rebuilding the tag registry and reconciling prompt
// metadata against the upstream template API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"promptgallery/blobstore"
	"promptgallery/dblayer"
	"promptgallery/promptapi"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	googleopt "google.golang.org/api/option"
)

var cmdRoot = &cobra.Command{
	Use: "gallerytool",
}

var (
	dataProject       string
	imagesBucket      string
	promptAPIEndpoint string
)

func init() {
	cmdRoot.PersistentFlags().StringVar(&dataProject, "data-project", "", "GCP project for cloud resources.")
	cmdRoot.PersistentFlags().StringVar(&imagesBucket, "images-bucket", "", "GCS bucket for execution image blobs.")
	cmdRoot.PersistentFlags().StringVar(&promptAPIEndpoint, "prompt-api-endpoint", "", "Base URL of the upstream prompt-template API.")
}

func newDB(ctx context.Context) (*dblayer.DB, error) {
	fstore, err := firestore.NewClient(ctx, dataProject)
	if err != nil {
		return nil, fmt.Errorf("while creating Firestore client: %w", err)
	}

	gcs, err := storage.NewClient(ctx, googleopt.WithGRPCConnectionPool(1))
	if err != nil {
		return nil, fmt.Errorf("while creating GCS client: %w", err)
	}

	upstream := promptapi.New(&http.Client{Timeout: 60 * time.Second}, promptAPIEndpoint, os.Getenv("PROMPT_API_KEY"))
	return dblayer.New(fstore, upstream, blobstore.New(gcs, imagesBucket)), nil
}

var cmdRebuildTags = &cobra.Command{
	Use:   "rebuild-tags",
	Short: "Recompute the tag registry from every prompt's tag set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		db, err := newDB(ctx)
		if err != nil {
			return err
		}

		tagCount, taggedPrompts, err := db.RebuildTags(ctx)
		if err != nil {
			return fmt.Errorf("while rebuilding tag registry: %w", err)
		}

		fmt.Printf("Rebuilt tag registry: %d tags across %d tagged prompts\n", tagCount, taggedPrompts)
		return nil
	},
}

var syncOwner string

var cmdSyncPrompts = &cobra.Command{
	Use:   "sync-prompts TEMPLATE_ID...",
	Short: "Reconcile metadata records against the upstream template API.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncOwner == "" {
			return fmt.Errorf("--owner is required to seed records for unindexed templates")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		db, err := newDB(ctx)
		if err != nil {
			return err
		}

		failed := 0
		for _, res := range db.SyncPrompts(ctx, args, syncOwner) {
			if res.Err != nil {
				failed++
				fmt.Printf("%s: ERROR: %v\n", res.PromptID, res.Err)
				continue
			}
			fmt.Printf("%s: ok\n", res.PromptID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d templates failed to sync", failed, len(args))
		}
		return nil
	},
}

func init() {
	cmdSyncPrompts.Flags().StringVar(&syncOwner, "owner", "", "User ID to own metadata records seeded during the sync.")

	cmdRoot.AddCommand(cmdRebuildTags)
	cmdRoot.AddCommand(cmdSyncPrompts)
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		glog.Exitf("Error: %v", err)
	}
}
