package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hazyhaar/teralink/dbopen"
)

func sampleSnapshot() Snapshot {
	return Snapshot{Records: []Record{
		{Name: "ndus", Value: "Y2xhdWRl", Domain: ".1024terabox.com", Path: "/", Expires: 1893456000.5, HTTPOnly: true, Secure: true, SameSite: "Lax"},
		{Name: "lang", Value: "en", Domain: ".1024terabox.com", Path: "/", Expires: -1, Session: true},
		{Name: "csrfToken", Value: "a=b;c", Domain: "www.1024terabox.com", Path: "/s"},
	}}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cookies.json")
	s := NewFileStore(path)

	want := sampleSnapshot()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip:\n got %+v\nwant %+v", got, want)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected only the snapshot file, found %d entries", len(entries))
	}
}

func TestFileStore_MissingIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !snap.Empty() {
		t.Fatalf("expected empty snapshot, got %d records", len(snap.Records))
	}
}

func TestFileStore_CorruptIsIOError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileStore(path).Load(context.Background())
	var ioe *IOError
	if !errors.As(err, &ioe) {
		t.Fatalf("expected *IOError, got %v", err)
	}
	if ioe.Op != "load" || ioe.Path != path {
		t.Fatalf("unexpected IOError fields: %+v", ioe)
	}
}

func TestFileStore_ReadsPuppeteerFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	raw := `[{"name":"ndus","value":"x","domain":".terabox.com","path":"/","expires":1700000000,"size":5,"httpOnly":true,"secure":true,"session":false,"sameSite":"None","priority":"Medium"}]`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	snap, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Records) != 1 || snap.Records[0].SameSite != "None" || !snap.Records[0].HTTPOnly {
		t.Fatalf("unexpected records: %+v", snap.Records)
	}
	if got := snap.Records[0].ExpiresAt(); !got.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("ExpiresAt: got %v", got)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	empty, err := s.Load(ctx)
	if err != nil || !empty.Empty() {
		t.Fatalf("Load on fresh db: %+v, %v", empty, err)
	}

	if err := s.Save(ctx, Snapshot{Records: []Record{{Name: "old", Value: "1"}}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := sampleSnapshot()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip:\n got %+v\nwant %+v", got, want)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "session.db")

	s, err := Open(Config{Backend: "sqlite", Path: path}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := sampleSnapshot()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(Config{Backend: "sqlite", Path: path}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("after reopen:\n got %+v\nwant %+v", got, want)
	}
}

func TestWatchedStore_ReloadsOnChange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cookies.json")
	fs := NewFileStore(path)
	if err := fs.Save(ctx, Snapshot{Records: []Record{{Name: "a", Value: "1"}}}); err != nil {
		t.Fatal(err)
	}

	ws, err := NewWatchedStore(fs, nil)
	if err != nil {
		t.Fatalf("NewWatchedStore: %v", err)
	}
	defer ws.Close()

	first, err := ws.Load(ctx)
	if err != nil || len(first.Records) != 1 {
		t.Fatalf("first Load: %+v, %v", first, err)
	}
	first.Records[0].Value = "mutated"
	again, _ := ws.Load(ctx)
	if again.Records[0].Value != "1" {
		t.Fatal("cached snapshot was mutated through a returned copy")
	}

	// Replace the file behind the store's back.
	other := NewFileStore(path)
	if err := other.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := ws.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(snap.Records) == len(sampleSnapshot().Records) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watched store never picked up the new snapshot")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, tc := range []struct {
		cfg  Config
		want string
	}{
		{Config{Path: filepath.Join(dir, "a.json")}, "*session.FileStore"},
		{Config{Backend: "file", Path: filepath.Join(dir, "b.json"), Watch: true}, "*session.WatchedStore"},
		{Config{Backend: "sqlite", Path: filepath.Join(dir, "c.db")}, "*session.SQLiteStore"},
	} {
		s, err := Open(tc.cfg, nil)
		if err != nil {
			t.Fatalf("Open(%+v): %v", tc.cfg, err)
		}
		if got := reflect.TypeOf(s).String(); got != tc.want {
			t.Fatalf("Open(%+v): got %s, want %s", tc.cfg, got, tc.want)
		}
		s.Close()
	}
	if _, err := Open(Config{Backend: "redis", Path: "x"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
