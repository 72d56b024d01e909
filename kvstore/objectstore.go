package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tesseract-hub/go-messaging/apperrors"
	"github.com/tesseract-hub/go-messaging/config"
)

// BlobStore keeps large payloads in the JetStream object store, for data
// that does not fit the message-size ceiling of a subject.
type BlobStore struct {
	js  jetstream.JetStream
	cfg config.BlobConfig

	mu sync.Mutex
	os jetstream.ObjectStore
}

// NewBlobStore builds a blob store over the configured bucket.
func NewBlobStore(js jetstream.JetStream, cfg config.BlobConfig) *BlobStore {
	return &BlobStore{js: js, cfg: cfg}
}

func (b *BlobStore) bucket(ctx context.Context) (jetstream.ObjectStore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.os != nil {
		return b.os, nil
	}

	os, err := b.js.ObjectStore(ctx, b.cfg.BucketName)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		os, err = b.js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket: b.cfg.BucketName,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open blob bucket %s: %w", b.cfg.BucketName, err)
	}
	b.os = os
	return os, nil
}

// PutBytes stores raw bytes under name.
func (b *BlobStore) PutBytes(ctx context.Context, name string, data []byte) error {
	os, err := b.bucket(ctx)
	if err != nil {
		return err
	}
	if _, err := os.Put(ctx, jetstream.ObjectMeta{Name: name}, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store blob %s: %w", name, err)
	}
	return nil
}

// GetBytes reads the blob stored under name.
func (b *BlobStore) GetBytes(ctx context.Context, name string) ([]byte, error) {
	os, err := b.bucket(ctx)
	if err != nil {
		return nil, err
	}
	obj, err := os.Get(ctx, name)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, apperrors.NotFound("Blob.NotFound", "no blob named "+name)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", name, err)
	}
	return data, nil
}

// Delete removes the named blob. Deleting an absent blob is not an error.
func (b *BlobStore) Delete(ctx context.Context, name string) error {
	os, err := b.bucket(ctx)
	if err != nil {
		return err
	}
	if err := os.Delete(ctx, name); err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}

// Exists reports whether a blob is stored under name.
func (b *BlobStore) Exists(ctx context.Context, name string) (bool, error) {
	os, err := b.bucket(ctx)
	if err != nil {
		return false, err
	}
	_, err = os.GetInfo(ctx, name)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", name, err)
	}
	return true, nil
}

// PutJSON stores a value as a JSON blob.
func PutJSON[T any](ctx context.Context, b *BlobStore, name string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode blob %s: %w", name, err)
	}
	return b.PutBytes(ctx, name, data)
}

// GetJSON reads a JSON blob into a typed pointer.
func GetJSON[T any](ctx context.Context, b *BlobStore, name string) (*T, error) {
	data, err := b.GetBytes(ctx, name)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode blob %s: %w", name, err)
	}
	return &v, nil
}
