// Package reconcile merges freshly ingested batches into a user's
// collections with at most one record per natural key.
package reconcile

import "github.com/pavelanni/lsattracker/internal/model"

// RowKey is the natural key of a question record.
type RowKey struct {
	ExamNumber string
	Section    int
	Question   int
}

// MetaKey is the natural key of an exam's metadata.
type MetaKey struct {
	ExamNumber string
}

// KeyOfRow returns the natural key of r.
func KeyOfRow(r model.QuestionRecord) RowKey {
	return RowKey{ExamNumber: r.ExamNumber, Section: r.Section, Question: r.Question}
}

// KeyOfMeta returns the natural key of m.
func KeyOfMeta(m model.ExamMeta) MetaKey {
	return MetaKey{ExamNumber: m.ExamNumber}
}

// Rows merges incoming into existing. An incoming record fully replaces the
// existing record with the same key; on collisions within incoming the later
// entry wins. Neither input is modified.
func Rows(existing, incoming []model.QuestionRecord) []model.QuestionRecord {
	return merge(existing, incoming, KeyOfRow)
}

// Metas merges incoming metadata into existing with the same rules as Rows.
func Metas(existing, incoming []model.ExamMeta) []model.ExamMeta {
	return merge(existing, incoming, KeyOfMeta)
}

// Batch collapses duplicate keys inside a batch, keeping the last entry.
func Batch(b model.Batch) model.Batch {
	return model.Batch{
		Rows:  Rows(nil, b.Rows),
		Metas: Metas(nil, b.Metas),
	}
}

// merge keeps the order of existing and appends new keys in incoming order,
// so the same inputs always produce the same output.
func merge[K comparable, T any](existing, incoming []T, key func(T) K) []T {
	out := make([]T, 0, len(existing)+len(incoming))
	index := make(map[K]int, len(existing)+len(incoming))

	put := func(rec T) {
		k := key(rec)
		if i, ok := index[k]; ok {
			out[i] = rec
			return
		}
		index[k] = len(out)
		out = append(out, rec)
	}

	for _, rec := range existing {
		put(rec)
	}
	for _, rec := range incoming {
		put(rec)
	}
	return out
}
