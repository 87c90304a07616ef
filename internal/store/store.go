// Package store holds the client-side key/value stores that keep a screening
// session alive across page loads. A scope is one browser session (or the
// single terminal profile); keys inside a scope are plain strings.
package store

import (
	"context"
	"errors"
)

// Store is implemented by every backend. Load reports absence through ok,
// never through err.
type Store interface {
	Save(ctx context.Context, scope, key, value string) error
	Load(ctx context.Context, scope, key string) (value string, ok bool, err error)
}

var ErrEmptyScope = errors.New("store: empty scope")

func validate(scope, key string) error {
	if scope == "" {
		return ErrEmptyScope
	}
	if key == "" {
		return errors.New("store: empty key")
	}
	return nil
}
