package s3blob

import (
	"bytes"
	"context"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintbay/marketd/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

type fakeEventArchive struct {
	events []domain.MarketEvent
}

func (f *fakeEventArchive) ListBefore(context.Context, time.Time) ([]domain.MarketEvent, error) {
	return f.events, nil
}

type fakeAuditArchive struct {
	entries []domain.AuditEntry
}

func (f *fakeAuditArchive) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) {
	return f.entries, nil
}

type recordingAudit struct {
	events []string
}

func (r *recordingAudit) Log(_ context.Context, event string, _ map[string]any) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveEventsWritesJSONL(t *testing.T) {
	w := newMemWriter()
	audit := &recordingAudit{}
	events := &fakeEventArchive{events: []domain.MarketEvent{
		{
			ID:         "e1",
			Type:       domain.EventPurchase,
			ListingID:  1,
			Collection: common.HexToAddress("0x2000000000000000000000000000000000000001"),
			AssetID:    "9",
			Currency:   domain.NativeCurrency,
			Amount:     big.NewInt(5000),
			OccurredAt: time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:         "e2",
			Type:       domain.EventCreditIssued,
			Currency:   domain.NativeCurrency,
			Amount:     big.NewInt(900),
			OccurredAt: time.Date(2026, 7, 5, 0, 0, 0, 0, time.UTC),
		},
	}}

	a := NewArchiver(w, events, &fakeAuditArchive{}, audit, "")
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	n, err := a.ArchiveEvents(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := w.objects["archive/events/2026-08.jsonl"]
	require.True(t, ok, "expected events archive object, got %v", w.objects)
	assert.Equal(t, "application/x-ndjson", w.types["archive/events/2026-08.jsonl"])

	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"amount":"5000"`)

	assert.Equal(t, []string{"archive.events"}, audit.events)
}

func TestArchiveEventsEmptyIsNoop(t *testing.T) {
	w := newMemWriter()
	audit := &recordingAudit{}
	a := NewArchiver(w, &fakeEventArchive{}, &fakeAuditArchive{}, audit, "cold")

	n, err := a.ArchiveEvents(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
	assert.Empty(t, audit.events)
}

func TestArchiveAuditUsesPrefix(t *testing.T) {
	w := newMemWriter()
	audit := &recordingAudit{}
	trail := &fakeAuditArchive{entries: []domain.AuditEntry{
		{ID: 1, Event: "pause", CreatedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
	}}

	a := NewArchiver(w, &fakeEventArchive{}, trail, audit, "cold")
	cutoff := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	n, err := a.ArchiveAudit(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var keys []string
	for k := range w.objects {
		keys = append(keys, k)
	}
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "cold/audit/"), keys[0])
}
