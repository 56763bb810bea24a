package storage

import "errors"

var (
	ErrQdrantUnreachable = errors.New("qdrant server unreachable")
	ErrUpstream          = errors.New("vector store request failed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
