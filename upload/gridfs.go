package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"

	"crm-chat/backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSStore keeps uploads in the "uploads" GridFS bucket.
type GridFSStore struct {
	bucket   *gridfs.Bucket
	baseURL  string
	maxBytes int64
}

func NewGridFSStore(db *mongo.Database, baseURL string, maxBytes int64) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("uploads"))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	return &GridFSStore{bucket: bucket, baseURL: baseURL, maxBytes: maxBytes}, nil
}

func (s *GridFSStore) Store(ctx context.Context, blob Blob) (string, error) {
	if err := prepare(&blob, s.maxBytes); err != nil {
		return "", err
	}
	name := contentName(blob)

	if id, ok, err := s.findByName(ctx, name); err != nil {
		return "", err
	} else if ok {
		return fileURL(s.baseURL, id.Hex()), nil
	}

	opts := options.GridFSUpload().SetMetadata(bson.M{
		"contentType":  blob.ContentType,
		"originalName": blob.Name,
	})
	id, err := s.bucket.UploadFromStream(name, bytes.NewReader(blob.Data), opts)
	if err != nil {
		log.Printf("Error uploading %s to gridfs: %v", blob.Name, err)
		return "", models.StoreError(fmt.Errorf("upload file: %w", err))
	}
	log.Printf("Stored upload %s (%d bytes) as %s", blob.Name, len(blob.Data), id.Hex())
	return fileURL(s.baseURL, id.Hex()), nil
}

func (s *GridFSStore) findByName(ctx context.Context, name string) (primitive.ObjectID, bool, error) {
	cursor, err := s.bucket.Find(bson.M{"filename": name})
	if err != nil {
		return primitive.NilObjectID, false, models.StoreError(fmt.Errorf("find upload: %w", err))
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		return primitive.NilObjectID, false, nil
	}
	var doc struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.Decode(&doc); err != nil {
		return primitive.NilObjectID, false, models.StoreError(fmt.Errorf("decode upload: %w", err))
	}
	return doc.ID, true, nil
}

func (s *GridFSStore) Open(_ context.Context, id string) (File, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return File{}, models.NewError(models.CodeNotFound, "file %s not found", id)
	}

	stream, err := s.bucket.OpenDownloadStream(oid)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return File{}, models.NewError(models.CodeNotFound, "file %s not found", id)
	}
	if err != nil {
		return File{}, models.StoreError(fmt.Errorf("open upload %s: %w", id, err))
	}

	meta := stream.GetFile()
	contentType := "application/octet-stream"
	if ct, ok := meta.Metadata.Lookup("contentType").StringValueOK(); ok && ct != "" {
		contentType = ct
	}
	name := meta.Name
	if original, ok := meta.Metadata.Lookup("originalName").StringValueOK(); ok && original != "" {
		name = original
	}
	return File{Name: name, ContentType: contentType, Size: meta.Length, Body: stream}, nil
}
