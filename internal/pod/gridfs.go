package pod

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ukydev/freight-ledger/internal/apperr"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BucketName is the GridFS bucket attachments are written to.
const BucketName = "pod"

// GridFSStore keeps blobs in a GridFS bucket next to the trip collection.
type GridFSStore struct {
	bucket *gridfs.Bucket
}

// NewGridFSStore opens the attachment bucket of database.
func NewGridFSStore(database *mongo.Database) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(database, options.GridFSBucket().SetName(BucketName))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &GridFSStore{bucket: bucket}, nil
}

// Put uploads a new revision and then drops the older ones, so the key
// always resolves to the latest upload.
func (s *GridFSStore) Put(ctx context.Context, key string, r io.Reader) error {
	id, err := s.bucket.UploadFromStream(key, r)
	if err != nil {
		return fmt.Errorf("upload pod %s: %w", key, err)
	}

	cursor, err := s.bucket.FindContext(ctx, bson.M{"filename": key, "_id": bson.M{"$ne": id}})
	if err != nil {
		return fmt.Errorf("find old pod revisions: %w", err)
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var f gridfs.File
		if err := cursor.Decode(&f); err != nil {
			return err
		}
		if err := s.bucket.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("delete old pod revision: %w", err)
		}
	}
	return cursor.Err()
}

func (s *GridFSStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	stream, err := s.bucket.OpenDownloadStreamByName(key)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, fmt.Errorf("pod %s: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open pod %s: %w", key, err)
	}
	return stream, nil
}
