// Package catalog lists and shows generated artifacts from the store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dyluth/reelforge/internal/store"
	"github.com/dyluth/reelforge/internal/timespec"
	"github.com/dyluth/reelforge/pkg/blackboard"
)

// OutputFormat specifies how to format the artifact list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with truncated parameters
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete artifacts as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Source is the artifact storage the catalog reads.
type Source interface {
	ListArtifacts(ctx context.Context, projectID string) ([]blackboard.Artifact, error)
	GetArtifact(ctx context.Context, artifactID string) (*blackboard.Artifact, error)
}

// FilterCriteria narrows a listing. All filters are ANDed together.
type FilterCriteria struct {
	Range    timespec.Range            // on CreatedAt
	TypeGlob string                    // glob on the artifact type, empty = no filter
	Status   blackboard.ArtifactStatus // exact match, empty = no filter
}

func (fc *FilterCriteria) matches(a *blackboard.Artifact) bool {
	if !fc.Range.Contains(a.CreatedAt) {
		return false
	}
	if fc.TypeGlob != "" {
		matched, err := filepath.Match(fc.TypeGlob, string(a.Type))
		if err != nil || !matched {
			return false
		}
	}
	if fc.Status != "" && a.Status != fc.Status {
		return false
	}
	return true
}

// ListArtifacts writes a project's artifacts (every project when projectID
// is empty), oldest first, that pass filters.
func ListArtifacts(ctx context.Context, src Source, projectID string, format OutputFormat, filters *FilterCriteria, w io.Writer) error {
	if format != OutputFormatDefault && format != OutputFormatJSONL {
		return fmt.Errorf("unknown output format: %s", format)
	}
	if filters != nil && filters.TypeGlob != "" {
		if _, err := filepath.Match(filters.TypeGlob, ""); err != nil {
			return fmt.Errorf("invalid type pattern %q: %w", filters.TypeGlob, err)
		}
	}

	all, err := src.ListArtifacts(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}
	artifacts := all[:0]
	for i := range all {
		if filters == nil || filters.matches(&all[i]) {
			artifacts = append(artifacts, all[i])
		}
	}

	if format == OutputFormatJSONL {
		if err := FormatJSONL(w, artifacts); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
		return nil
	}
	scope := "all projects"
	if projectID != "" {
		scope = fmt.Sprintf("project '%s'", projectID)
	}
	FormatTable(w, artifacts, scope, time.Now())
	return nil
}

// GetArtifact writes one artifact as indented JSON.
func GetArtifact(ctx context.Context, src Source, artifactID string, w io.Writer) error {
	a, err := src.GetArtifact(ctx, artifactID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ArtifactNotFoundError{ArtifactID: artifactID}
		}
		return fmt.Errorf("failed to fetch artifact: %w", err)
	}
	if err := FormatSingleJSON(w, a); err != nil {
		return fmt.Errorf("failed to format artifact: %w", err)
	}
	return nil
}

// ArtifactNotFoundError reports a missing artifact.
type ArtifactNotFoundError struct {
	ArtifactID string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("artifact with ID '%s' not found", e.ArtifactID)
}

// IsNotFound returns true if the error is an ArtifactNotFoundError.
func IsNotFound(err error) bool {
	var nf *ArtifactNotFoundError
	return errors.As(err, &nf)
}
