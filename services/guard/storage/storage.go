// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the narrow save/load collaborator the guard
// core delegates persistence to. The core itself never mandates a
// concrete engine; audit events and rollback snapshots go through this
// interface and tolerate its absence.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound indicates the key does not exist in the store.
var ErrNotFound = errors.New("key not found")

// Store is the persistence collaborator injected into guard components.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Save writes value under key, overwriting any previous value.
	Save(ctx context.Context, key string, value []byte) error

	// Load returns the value stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases the store's resources.
	Close() error
}
