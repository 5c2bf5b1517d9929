package audit

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	store, err := NewStore(dbPath, 1000)
	if err != nil {
		t.Fatal(err)
	}

	store.Record(Event{
		Type:    EventJoinProposed,
		Group:   "prod.payments.db-writer",
		Actor:   "alice@example.com",
		Summary: "join proposed",
		Detail:  map[string]any{"expiry": "PT2H"},
	})
	store.Record(Event{
		Type:    EventApprovalGranted,
		Group:   "prod.payments.db-writer",
		Actor:   "bob@example.com",
		Summary: "approved alice",
	})

	events := store.Query(Filter{Group: "prod.payments.db-writer"})
	if len(events) != 2 {
		t.Fatalf("expected 2 events in memory, got %d", len(events))
	}
	if c := store.Count(); c != 2 {
		t.Fatalf("expected 2 persisted events, got %d", c)
	}

	store.Close()

	// Reopen and verify persistence.
	store2, err := NewStore(dbPath, 1000)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	events = store2.Query(Filter{Group: "prod.payments.db-writer"})
	if len(events) != 2 {
		t.Fatalf("expected 2 events after reopen, got %d", len(events))
	}
}

func TestStoreQueryPersisted(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), 100)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	store.Record(Event{Type: EventJoinProposed, Group: "prod.pay.g1", Actor: "a", Summary: "s1"})
	store.Record(Event{Type: EventPolicyLoaded, Actor: "system", Summary: "s2"})
	store.Record(Event{Type: EventJoinCommitted, Group: "prod.pay.g1", Actor: "c", Summary: "s3"})

	events, err := store.QueryPersisted(Filter{Group: "prod.pay.g1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for the group, got %d", len(events))
	}

	events, err = store.QueryPersisted(Filter{Type: EventPolicyLoaded})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 policy.loaded event, got %d", len(events))
	}
}

func TestStoreSince(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), 100)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	store.Record(Event{Type: EventJoinDenied, Group: "g", Summary: "old"})
	time.Sleep(50 * time.Millisecond)
	cutoff := time.Now().UTC()
	time.Sleep(50 * time.Millisecond)
	store.Record(Event{Type: EventJoinDenied, Group: "g", Summary: "new"})

	events, err := store.QueryPersisted(Filter{Since: cutoff})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event since cutoff, got %d", len(events))
	}
	if events[0].Summary != "new" {
		t.Fatalf("expected 'new', got %q", events[0].Summary)
	}
}

func TestStoreNonExistentDir(t *testing.T) {
	if _, err := NewStore("/nonexistent/path/audit.db", 100); err == nil {
		t.Fatal("expected error for nonexistent directory")
	}
}

func TestStoreCursorPagination(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), 100)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 1; i <= 5; i++ {
		store.Record(Event{
			ID:        fmt.Sprintf("evt-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Type:      EventJoinCommitted,
			Group:     "prod.pay.g1",
			Summary:   fmt.Sprintf("event-%d", i),
		})
	}

	page1, err := store.QueryPersisted(Filter{Group: "prod.pay.g1", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 2 || page1[0].ID != "evt-5" || page1[1].ID != "evt-4" {
		t.Fatalf("unexpected first page: %+v", page1)
	}

	page2, err := store.QueryPersisted(Filter{Group: "prod.pay.g1", Cursor: page1[1].ID, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 2 || page2[0].ID != "evt-3" || page2[1].ID != "evt-2" {
		t.Fatalf("unexpected second page: %+v", page2)
	}
}

func TestStorePurge(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), 100)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now().UTC()
	store.Record(Event{ID: "old-1", Timestamp: now.Add(-72 * time.Hour), Type: EventJoinDenied, Summary: "old-1"})
	store.Record(Event{ID: "old-2", Timestamp: now.Add(-48 * time.Hour), Type: EventJoinDenied, Summary: "old-2"})
	store.Record(Event{ID: "new-1", Timestamp: now.Add(-1 * time.Hour), Type: EventJoinDenied, Summary: "new-1"})

	deleted, err := store.Purge(24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted rows, got %d", deleted)
	}

	events, err := store.QueryPersisted(Filter{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].ID != "new-1" {
		t.Fatalf("expected only new-1 after purge, got %+v", events)
	}
}

func TestStoreStreamJSONL(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), 100)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	base := time.Now().UTC().Add(-time.Minute)
	store.Record(Event{Type: EventJoinProposed, Timestamp: base, Group: "g", Actor: "alice@example.com", Summary: "s1"})
	store.Record(Event{Type: EventJoinCommitted, Timestamp: base.Add(time.Second), Group: "g", Actor: "alice@example.com", Summary: "s2"})

	var buf bytes.Buffer
	if err := store.StreamJSONL(context.Background(), &buf, Filter{}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "join.committed") {
		t.Errorf("expected newest first, got %s", lines[0])
	}
}

func TestStoreStreamCSV(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), 100)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	store.Record(Event{Type: EventApprovalDenied, Group: "g", Actor: "eve@example.com", Summary: "denied"})

	var buf bytes.Buffer
	if err := store.StreamCSV(context.Background(), &buf, Filter{}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,timestamp,type,group,actor,summary") {
		t.Errorf("unexpected header: %s", lines[0])
	}
}

func TestStoreSchemaDowngrade(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	store, err := NewStore(dbPath, 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.Exec(`UPDATE _schema_version SET version = ?`, schemaVersion+1); err != nil {
		t.Fatal(err)
	}
	store.Close()

	if _, err := NewStore(dbPath, 100); err == nil {
		t.Fatal("expected error opening a newer-schema store")
	}
}
