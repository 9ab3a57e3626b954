package storage

import (
	"fmt"

	"audiogene/internal/model"
)

func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}

// tail keeps the last limit records; limit <= 0 keeps everything.
func tail(records []model.GenerationRecord, limit int) []model.GenerationRecord {
	if limit <= 0 || len(records) <= limit {
		return records
	}
	return records[len(records)-limit:]
}
