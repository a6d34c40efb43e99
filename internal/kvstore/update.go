package kvstore

import (
	"context"
	"errors"
)

// UpdateFunc maps the current value of a key to its replacement. found is
// false when the key is unset. Returning a nil slice deletes the key. The
// function may run more than once when a backend retries.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Updater is implemented by stores that can read and replace a key as one
// step, so processes sharing the store do not overwrite each other.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// Update applies fn atomically when the store supports it and falls back to
// Get followed by Set otherwise.
func Update(ctx context.Context, store Store, key string, fn UpdateFunc) error {
	if updater, ok := store.(Updater); ok {
		return updater.Update(ctx, key, fn)
	}
	current, err := store.Get(ctx, key)
	found := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	if next == nil {
		return store.Delete(ctx, key)
	}
	return store.Set(ctx, key, next)
}
