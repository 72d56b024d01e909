package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tesseract-hub/go-messaging/apperrors"
)

// StateStore persists saga run state between steps, so an operator can
// inspect where a run is and what it has completed.
type StateStore[T any] interface {
	Save(ctx context.Context, state *State[T]) error
	Load(ctx context.Context, id string) (*State[T], error)
}

// KVStateStore keeps saga state in a JetStream key-value bucket under
// "saga.{id}". KV key charset has no colon, so segments join with dots like
// subjects do.
type KVStateStore[T any] struct {
	kv jetstream.KeyValue
}

// NewKVStateStore binds the store to an existing bucket.
func NewKVStateStore[T any](kv jetstream.KeyValue) *KVStateStore[T] {
	return &KVStateStore[T]{kv: kv}
}

// EnsureBucket opens or creates the saga state bucket.
func EnsureBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		return nil, fmt.Errorf("open saga state bucket %s: %w", bucket, err)
	}
	return kv, nil
}

func stateKey(id string) string { return "saga." + id }

// Save writes the state under its key.
func (s *KVStateStore[T]) Save(ctx context.Context, state *State[T]) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode saga state %s: %w", state.ID, err)
	}
	if _, err := s.kv.Put(ctx, stateKey(state.ID), data); err != nil {
		return fmt.Errorf("save saga state %s: %w", state.ID, err)
	}
	return nil
}

// Load reads the state for one run id.
func (s *KVStateStore[T]) Load(ctx context.Context, id string) (*State[T], error) {
	entry, err := s.kv.Get(ctx, stateKey(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, apperrors.NotFound("Saga.StateNotFound", "no state for saga run "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("load saga state %s: %w", id, err)
	}
	var state State[T]
	if err := json.Unmarshal(entry.Value(), &state); err != nil {
		return nil, fmt.Errorf("decode saga state %s: %w", id, err)
	}
	return &state, nil
}

// MemoryStateStore is an in-process StateStore for tests and single-node
// tooling.
type MemoryStateStore[T any] struct {
	mu     sync.RWMutex
	states map[string]State[T]
}

// NewMemoryStateStore builds an empty in-memory store.
func NewMemoryStateStore[T any]() *MemoryStateStore[T] {
	return &MemoryStateStore[T]{states: make(map[string]State[T])}
}

func (s *MemoryStateStore[T]) Save(ctx context.Context, state *State[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = *state
	return nil
}

func (s *MemoryStateStore[T]) Load(ctx context.Context, id string) (*State[T], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[id]
	if !ok {
		return nil, apperrors.NotFound("Saga.StateNotFound", "no state for saga run "+id)
	}
	return &state, nil
}
