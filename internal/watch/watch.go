// Package watch follows generation activity on the event stream and waits
// for human gates to open.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/reelforge/internal/events"
	"github.com/dyluth/reelforge/internal/timespec"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/redis/go-redis/v9"
)

// OutputFormat selects how StreamActivity renders events.
type OutputFormat string

const (
	// OutputFormatDefault is one human-readable line per event.
	OutputFormatDefault OutputFormat = "default"
	// OutputFormatJSON is line-delimited JSON.
	OutputFormatJSON OutputFormat = "json"
)

// Options controls which events StreamActivity emits.
type Options struct {
	ProjectID string         // empty means all projects
	Range     timespec.Range // bounds on the stream entry time
	Follow    bool           // keep waiting for new entries
	Block     time.Duration  // per-read wait while following
	BatchSize int64
}

// StreamActivity reads events from stream and writes them to w until ctx is
// cancelled, the Until bound is passed, or (without Follow) the stream is
// exhausted. Malformed entries are skipped.
func StreamActivity(ctx context.Context, rdb redis.Cmdable, stream string, opts Options, format OutputFormat, w io.Writer) error {
	if format != OutputFormatDefault && format != OutputFormatJSON {
		return fmt.Errorf("unknown output format: %s", format)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	block := time.Duration(-1)
	if opts.Follow {
		block = opts.Block
		if block <= 0 {
			block = 5 * time.Second
		}
	}

	last := startID(opts)
	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, last},
			Count:   opts.BatchSize,
			Block:   block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			if !opts.Follow {
				return nil
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read %s: %w", stream, err)
		}

		n := 0
		for _, s := range streams {
			for _, msg := range s.Messages {
				n++
				last = msg.ID
				at, err := entryTime(msg.ID)
				if err != nil {
					continue
				}
				if !opts.Range.Until.IsZero() && !at.Before(opts.Range.Until) {
					return nil
				}
				e, err := events.Decode(msg.ID, msg.Values)
				if err != nil {
					continue
				}
				if opts.ProjectID != "" && e.ProjectID != opts.ProjectID {
					continue
				}
				if err := write(w, e, format); err != nil {
					return err
				}
			}
		}
		if n == 0 && !opts.Follow {
			return nil
		}
	}
}

// startID picks the exclusive XREAD cursor for opts.
func startID(opts Options) string {
	switch {
	case !opts.Range.Since.IsZero():
		// Entries at exactly Since are included: start just before it.
		ms := opts.Range.Since.UnixMilli()
		if ms <= 0 {
			return "0"
		}
		return fmt.Sprintf("%d-0", ms-1)
	case opts.Follow:
		return "$"
	default:
		return "0"
	}
}

// entryTime extracts the millisecond time from a stream entry ID.
func entryTime(id string) (time.Time, error) {
	msPart, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("malformed stream id %q", id)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stream id %q: %w", id, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func write(w io.Writer, e events.Event, format OutputFormat) error {
	if format == OutputFormatJSON {
		return json.NewEncoder(w).Encode(struct {
			ID string `json:"id"`
			events.Event
		}{e.ID, e})
	}
	_, err := fmt.Fprintln(w, FormatEvent(e))
	return err
}

// FormatEvent renders one event as a single human-readable line.
func FormatEvent(e events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s project=%s", e.Timestamp.UTC().Format("15:04:05"), icon(e), e.Type, e.ProjectID)
	if e.ShotID != "" {
		fmt.Fprintf(&b, " shot=%s", e.ShotID)
	}
	if e.ModelID != "" {
		fmt.Fprintf(&b, " model=%s", e.ModelID)
	}
	switch {
	case e.CacheHit:
		b.WriteString(" (cache hit)")
	case e.Cost != nil:
		fmt.Fprintf(&b, " cost=%s", e.Cost)
	}
	if e.Status != "" {
		fmt.Fprintf(&b, " status=%s", e.Status)
	}
	return b.String()
}

func icon(e events.Event) string {
	if e.CacheHit {
		return "♻️"
	}
	switch e.Type {
	case events.TypeImageGenerated:
		return "🖼️"
	case events.TypeVideoGenerated:
		return "🎬"
	case events.TypeVoiceGenerated:
		return "🎙️"
	case events.TypeMusicGenerated:
		return "🎵"
	case events.TypeTextGenerated:
		return "📝"
	case events.TypeShotCompleted:
		return "✅"
	case events.TypeProjectStatusChanged:
		return "📌"
	default:
		return "•"
	}
}

// PendingLister finds open gate requests for a project.
type PendingLister interface {
	PendingForProject(ctx context.Context, projectID string) ([]blackboard.HumanGateRequest, error)
}

// PollForGate polls every 200ms until a pending gate request exists for
// projectID, returning the oldest one.
func PollForGate(ctx context.Context, gates PendingLister, projectID string, timeout time.Duration) (*blackboard.HumanGateRequest, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reqs, err := gates.PendingForProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to query gate requests: %w", err)
		}
		if len(reqs) > 0 {
			return &reqs[0], nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for gate request after %v", timeout)
		case <-ticker.C:
		}
	}
}
