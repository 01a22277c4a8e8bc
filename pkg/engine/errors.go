// pkg/engine/errors.go
package engine

import "errors"

var (
	// ErrLocked is returned by Open when another process already holds
	// the engine directory's writer lock.
	ErrLocked = errors.New("engine: directory locked by another process")
	// ErrClosed is returned by any operation on a closed Engine.
	ErrClosed = errors.New("engine: closed")
	// ErrKeyExists is returned by Insert when RejectDuplicates is set and
	// the key is already present.
	ErrKeyExists = errors.New("engine: key already exists")
	// ErrKeyNotFound is returned by Get and Delete for an absent key.
	ErrKeyNotFound = errors.New("engine: key not found")
	// ErrInvalidRange is returned by Range when lo > hi.
	ErrInvalidRange = errors.New("engine: lo > hi")
)
