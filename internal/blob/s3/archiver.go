package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// Archiver writes raw sport payloads and per-pass opportunity snapshots to
// a BlobWriter. Keys are partitioned by UTC day:
//
//	raw/{sport}/2026/10/14/{unix_nano}.json
//	opportunities/2026/10/14/{unix_nano}.jsonl
type Archiver struct {
	writer domain.BlobWriter
}

// NewArchiver creates an Archiver over writer.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

// ArchiveRaw uploads one sport's payload as fetched and returns its key.
func (a *Archiver) ArchiveRaw(ctx context.Context, sport string, payload []byte, at time.Time) (string, error) {
	path := rawPath(sport, at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(payload), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive raw %s: %w", sport, err)
	}
	return path, nil
}

// ArchiveOpportunities uploads a pass's opportunities as JSONL. Nothing is
// written for an empty slice.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, opps []domain.Opportunity, at time.Time) (string, error) {
	if len(opps) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}

	path := opportunitiesPath(at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive opportunities upload: %w", err)
	}
	return path, nil
}

func rawPath(sport string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("raw/%s/%s/%d.json", sport, at.Format("2006/01/02"), at.UnixNano())
}

func opportunitiesPath(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("opportunities/%s/%d.jsonl", at.Format("2006/01/02"), at.UnixNano())
}

// marshalJSONL encodes records as newline-delimited compact JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
