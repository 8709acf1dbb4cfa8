// Package resolve locates stored entities from free-text names written in
// Romanian, where the same noun shows up with article and plural endings
// ("mere", "merele", "laptele").
package resolve

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrNotFound is returned when neither the id nor any name form matches.
var ErrNotFound = errors.New("resolve: not found")

// suffixes are tried longest first; at most one is stripped.
var suffixes = []string{"urile", "ele", "ule", "ul", "le", "ii", "a"}

// Normalize lowercases and trims name, then strips the first known inflection
// suffix the word is more than two runes longer than. A suffix that matches
// but fails the length check falls through to the shorter ones, so "apele"
// becomes "ape" via "le".
func Normalize(name string) string {
	term := strings.ToLower(strings.TrimSpace(name))
	n := utf8.RuneCountInString(term)
	for _, suf := range suffixes {
		if !strings.HasSuffix(term, suf) {
			continue
		}
		if n > utf8.RuneCountInString(suf)+2 {
			return strings.TrimSuffix(term, suf)
		}
	}
	return term
}

// Match returns the first item, in the given order, whose name contains the
// normalized term case-insensitively. When nothing matches it retries with
// the raw term. Callers pass items sorted by ascending id so ties resolve
// deterministically.
func Match[T any](term string, items []T, name func(T) string) (T, bool) {
	var zero T
	raw := strings.ToLower(strings.TrimSpace(term))
	if raw == "" {
		return zero, false
	}
	for _, needle := range []string{Normalize(term), raw} {
		if needle == "" {
			continue
		}
		for _, it := range items {
			if strings.Contains(strings.ToLower(name(it)), needle) {
				return it, true
			}
		}
	}
	return zero, false
}

// Query identifies an entity by explicit id or by name. A positive ID wins.
type Query struct {
	ID   int64
	Name string
}

func (q Query) Empty() bool {
	return q.ID <= 0 && strings.TrimSpace(q.Name) == ""
}

// Source adapts a store table to the resolver. ByID must return an error
// wrapping ErrNotFound when the id is unknown. Active lists the entities
// that are still open (not completed, purchased or cancelled) by ascending id.
type Source[T any] struct {
	ByID   func(ctx context.Context, id int64) (T, error)
	Active func(ctx context.Context) ([]T, error)
	Name   func(T) string
}

// Resolve applies the id path, then the normalized and raw name paths.
func Resolve[T any](ctx context.Context, src Source[T], q Query) (T, error) {
	var zero T
	if q.ID > 0 {
		return src.ByID(ctx, q.ID)
	}
	if strings.TrimSpace(q.Name) == "" {
		return zero, ErrNotFound
	}
	items, err := src.Active(ctx)
	if err != nil {
		return zero, err
	}
	if it, ok := Match(q.Name, items, src.Name); ok {
		return it, nil
	}
	return zero, ErrNotFound
}
