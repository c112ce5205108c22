// Package resolver expands short ID prefixes typed on the command line into
// full artifact and gate request IDs.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// Scanner returns the full IDs that start with prefix.
type Scanner func(ctx context.Context, prefix string) ([]string, error)

// ArtifactIDs is the store lookup behind ResolveArtifactID.
type ArtifactIDs interface {
	ArtifactIDsWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// GateIDs is the store lookup behind ResolveGateID.
type GateIDs interface {
	GateIDsWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// ResolveArtifactID resolves an artifact ID or unique prefix.
func ResolveArtifactID(ctx context.Context, s ArtifactIDs, shortID string) (string, error) {
	return Resolve(ctx, "artifact", s.ArtifactIDsWithPrefix, shortID)
}

// ResolveGateID resolves a gate request ID or unique prefix.
func ResolveGateID(ctx context.Context, s GateIDs, shortID string) (string, error) {
	return Resolve(ctx, "gate request", s.GateIDsWithPrefix, shortID)
}

// Resolve returns the full ID for shortID if exactly one ID matches.
//
// A full UUID (36 chars, 4 hyphens) must match exactly. Anything else must
// be at least MinShortIDLength long and a prefix of a single ID.
func Resolve(ctx context.Context, kind string, scan Scanner, shortID string) (string, error) {
	full := len(shortID) == 36 && strings.Count(shortID, "-") == 4
	if !full && len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	matches, err := scan(ctx, shortID)
	if err != nil {
		return "", fmt.Errorf("failed to search for %s: %w", kind, err)
	}
	if full {
		for _, m := range matches {
			if m == shortID {
				return m, nil
			}
		}
		return "", &NotFoundError{Kind: kind, ShortID: shortID}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Kind: kind, ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Kind: kind, ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no IDs matched the short ID.
type NotFoundError struct {
	Kind    string
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s found matching '%s'", e.Kind, e.ShortID)
}

// AmbiguousError indicates multiple IDs matched the short ID.
type AmbiguousError struct {
	Kind    string
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d %ss", e.ShortID, len(e.Matches), e.Kind)
}

// FormatAmbiguousError lists the matching IDs (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ambiguous short ID '%s' matches %d %ss:\n", err.ShortID, len(err.Matches), err.Kind)

	displayCount := min(len(err.Matches), 10)
	for _, m := range err.Matches[:displayCount] {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	fmt.Fprintf(&b, "\nUse a longer prefix to uniquely identify the %s.", err.Kind)
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var amb *AmbiguousError
	return errors.As(err, &amb)
}
