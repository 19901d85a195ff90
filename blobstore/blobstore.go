// Package blobstore fronts the GCS bucket that holds generated image
// results.
package blobstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const imageKeyPrefix = "executions/"

// Store wraps the bucket that execution image blobs are written to.
type Store struct {
	gcs    *storage.Client
	bucket string
}

// New creates a Store over the named bucket.
func New(gcs *storage.Client, bucket string) *Store {
	return &Store{
		gcs:    gcs,
		bucket: bucket,
	}
}

// IsNotFound reports whether err means the blob was already gone.  Deletes of
// missing blobs are treated as successes by callers.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrObjectNotExist)
}

// extForContentType maps the image content types the run API produces to a
// file extension.  Unknown types get ".bin".
func extForContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}

func objectName(contentType string) string {
	return path.Join(imageKeyPrefix, uuid.NewString()+extForContentType(contentType))
}

// publicURL forms the canonical public URL for an object in bucket.
func publicURL(bucket, object string) string {
	return "https://storage.googleapis.com/" + bucket + "/" + object
}

// UploadImage decodes a base64 image payload, writes it under a fresh
// object name, and returns the object path plus its public URL.
func (s *Store) UploadImage(ctx context.Context, dataB64, contentType string) (objectPath, url string, err error) {
	tracer := otel.Tracer("promptgallery/blobstore")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Store.UploadImage")
	defer span.End()

	data, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		err := fmt.Errorf("while decoding image payload: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", "", err
	}

	objectPath = objectName(contentType)
	span.SetAttributes(attribute.String("object", objectPath))

	w := s.gcs.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		err := fmt.Errorf("while writing object %q: %w", objectPath, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", "", err
	}
	if err := w.Close(); err != nil {
		err := fmt.Errorf("while finalizing object %q: %w", objectPath, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", "", err
	}

	span.SetStatus(codes.Ok, "")
	return objectPath, publicURL(s.bucket, objectPath), nil
}

// Delete removes the object at objectPath.  A missing object is reported via
// an error for which IsNotFound returns true; callers decide whether to
// swallow it.
func (s *Store) Delete(ctx context.Context, objectPath string) error {
	tracer := otel.Tracer("promptgallery/blobstore")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Store.Delete")
	defer span.End()

	span.SetAttributes(attribute.String("object", objectPath))

	if err := s.gcs.Bucket(s.bucket).Object(objectPath).Delete(ctx); err != nil {
		if IsNotFound(err) {
			span.SetStatus(codes.Ok, "")
			return fmt.Errorf("object %q already absent: %w", objectPath, err)
		}
		err := fmt.Errorf("while deleting object %q: %w", objectPath, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
