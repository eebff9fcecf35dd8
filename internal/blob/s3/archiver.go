package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mintbay/marketd/internal/domain"
	"github.com/mintbay/marketd/internal/service"
)

// Narrow store interfaces required by the archiver. The archiver only needs
// the time-ranged read methods it actually calls, not the full store
// interfaces; the Postgres stores satisfy these implicitly.

// EventArchiveStore provides read access to market events for archival.
type EventArchiveStore interface {
	// ListBefore returns all events that occurred strictly before the
	// cutoff, oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.MarketEvent, error)
}

// AuditArchiveStore provides read access to audit entries for archival.
type AuditArchiveStore interface {
	// ListBefore returns all audit entries created strictly before the
	// cutoff, oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// records, serializing them to JSONL, and uploading the result to object
// storage.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here. That is a separate, explicit step to be executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	events EventArchiveStore
	trail  AuditArchiveStore
	audit  domain.AuditStore
	prefix string
}

// NewArchiver creates a new ArchiveImpl. Uploads are keyed under the given
// prefix ("archive" when empty).
func NewArchiver(
	writer domain.BlobWriter,
	events EventArchiveStore,
	trail AuditArchiveStore,
	audit domain.AuditStore,
	prefix string,
) *ArchiveImpl {
	if prefix == "" {
		prefix = "archive"
	}
	return &ArchiveImpl{
		writer: writer,
		events: events,
		trail:  trail,
		audit:  audit,
		prefix: prefix,
	}
}

// ArchiveEvents queries all market events before the cutoff, serializes
// their wire form to JSONL, and uploads the file at
// <prefix>/events/YYYY-MM.jsonl. The archival itself is recorded in the
// audit log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	wires := make([]service.EventWire, 0, len(events))
	for _, evt := range events {
		wires = append(wires, service.ToWire(evt))
	}

	buf, err := marshalJSONL(wires)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := a.archivePath("events", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(events))

	if err := a.audit.Log(ctx, "archive.events", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive events audit log: %w", err)
	}

	return count, nil
}

// ArchiveAudit queries all audit entries before the cutoff, serializes them
// to JSONL, and uploads the file at <prefix>/audit/YYYY-MM.jsonl. The count
// of archived records is returned.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.trail.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := a.archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))

	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit trail log: %w", err)
	}

	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/events/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func (a *ArchiveImpl) archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("%s/%s/%s.jsonl", a.prefix, kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
