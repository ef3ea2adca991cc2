package engine

import (
	"errors"
	"fmt"
)

// Migrate copies every record from src into dst, preserving ids and
// timestamps. Records whose id already exists in dst are skipped.
// It returns the number of records copied.
func Migrate(src RecordReader, dst RecordWriter) (int, error) {
	records, err := src.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list assessments: %w", err)
	}

	copied := 0
	for _, rec := range records {
		if _, err := dst.Create(rec); err != nil {
			if errors.Is(err, ErrDuplicateID) {
				continue
			}
			return copied, fmt.Errorf("failed to copy assessment %s: %w", rec.ID, err)
		}
		copied++
	}
	return copied, nil
}
