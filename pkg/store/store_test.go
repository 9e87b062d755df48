package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestAppendAndRead(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			v1, err := s.AppendVersion(ctx, AppendRequest{
				Namespace:   "app/web",
				Key:         "timeout",
				Environment: "production",
				Value:       NumberValue(30),
				ChangeType:  ChangeCreate,
				Author:      "alice",
			})
			if err != nil {
				t.Fatalf("append: %v", err)
			}
			if v1 != 1 {
				t.Errorf("first version = %d, want 1", v1)
			}

			v2, err := s.AppendVersion(ctx, AppendRequest{
				Namespace:       "app/web",
				Key:             "timeout",
				Environment:     "production",
				Value:           NumberValue(60),
				ChangeType:      ChangeUpdate,
				Author:          "bob",
				ExpectedVersion: 1,
			})
			if err != nil {
				t.Fatalf("second append: %v", err)
			}
			if v2 != 2 {
				t.Errorf("second version = %d, want 2", v2)
			}

			latest, err := s.Read(ctx, "app/web", "timeout", "production", LatestVersion)
			if err != nil {
				t.Fatalf("read latest: %v", err)
			}
			if latest.Version != 2 || latest.Value.Num != 60 || latest.Author != "bob" {
				t.Errorf("latest = %+v, want version 2 value 60 by bob", latest)
			}

			old, err := s.Read(ctx, "app/web", "timeout", "production", 1)
			if err != nil {
				t.Fatalf("read v1: %v", err)
			}
			if old.Value.Num != 30 || old.ChangeType != ChangeCreate {
				t.Errorf("v1 = %+v, want value 30 change create", old)
			}
		})
	}
}

func TestReadMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Read(ctx, "app", "nope", "production", LatestVersion); !errors.Is(err, ErrNotFound) {
				t.Errorf("missing entry: err = %v, want ErrNotFound", err)
			}

			if _, err := s.AppendVersion(ctx, AppendRequest{
				Namespace: "app", Key: "k", Environment: "production",
				Value: StringValue("v"), ChangeType: ChangeCreate, Author: "alice",
			}); err != nil {
				t.Fatalf("append: %v", err)
			}
			if _, err := s.Read(ctx, "app", "k", "production", 5); !errors.Is(err, ErrNotFound) {
				t.Errorf("missing version: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestVersionSequenceGapless(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i := int64(0); i < 5; i++ {
				if _, err := s.AppendVersion(ctx, AppendRequest{
					Namespace: "app", Key: "k", Environment: "dev",
					Value:      StringValue("v"),
					ChangeType: ChangeUpdate, Author: "alice",
					ExpectedVersion: i,
				}); err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
			}

			history, err := s.ListVersions(ctx, "app", "k", "dev")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(history) != 5 {
				t.Fatalf("history length = %d, want 5", len(history))
			}
			for i, cv := range history {
				if cv.Version != int64(i+1) {
					t.Errorf("history[%d].Version = %d, want %d", i, cv.Version, i+1)
				}
			}
		})
	}
}

func TestOptimisticConflict(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.AppendVersion(ctx, AppendRequest{
				Namespace: "app", Key: "k", Environment: "production",
				Value: StringValue("v1"), ChangeType: ChangeCreate, Author: "alice",
			}); err != nil {
				t.Fatalf("append: %v", err)
			}

			// Both writers read version 1; only one append can win.
			if _, err := s.AppendVersion(ctx, AppendRequest{
				Namespace: "app", Key: "k", Environment: "production",
				Value: StringValue("from-alice"), ChangeType: ChangeUpdate,
				Author: "alice", ExpectedVersion: 1,
			}); err != nil {
				t.Fatalf("first writer: %v", err)
			}

			_, err := s.AppendVersion(ctx, AppendRequest{
				Namespace: "app", Key: "k", Environment: "production",
				Value: StringValue("from-bob"), ChangeType: ChangeUpdate,
				Author: "bob", ExpectedVersion: 1,
			})
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("second writer: err = %v, want ConflictError", err)
			}
			if conflict.Expected != 1 || conflict.Actual != 2 {
				t.Errorf("conflict = %+v, want expected 1 actual 2", conflict)
			}
		})
	}
}

func TestConcurrentWritersNoCollision(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.AppendVersion(ctx, AppendRequest{
				Namespace: "app", Key: "k", Environment: "production",
				Value: StringValue("base"), ChangeType: ChangeCreate, Author: "alice",
			}); err != nil {
				t.Fatalf("seed: %v", err)
			}

			const writers = 8
			var wg sync.WaitGroup
			errs := make([]error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = s.AppendVersion(ctx, AppendRequest{
						Namespace: "app", Key: "k", Environment: "production",
						Value: StringValue("racer"), ChangeType: ChangeUpdate,
						Author: "racer", ExpectedVersion: 1,
					})
				}(i)
			}
			wg.Wait()

			won := 0
			for _, err := range errs {
				switch {
				case err == nil:
					won++
				default:
					var conflict *ConflictError
					if !errors.As(err, &conflict) {
						t.Errorf("unexpected error: %v", err)
					}
				}
			}
			if won != 1 {
				t.Errorf("winners = %d, want exactly 1", won)
			}

			history, err := s.ListVersions(ctx, "app", "k", "production")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(history) != 2 {
				t.Errorf("history length = %d, want 2", len(history))
			}
		})
	}
}

func TestTombstoneKeepsHistory(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.AppendVersion(ctx, AppendRequest{
				Namespace: "app", Key: "k", Environment: "production",
				Value: StringValue("v1"), ChangeType: ChangeCreate, Author: "alice",
			}); err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := s.AppendVersion(ctx, AppendRequest{
				Namespace: "app", Key: "k", Environment: "production",
				Value: Value{Kind: KindString}, ChangeType: ChangeDelete,
				Author: "alice", ExpectedVersion: 1,
			}); err != nil {
				t.Fatalf("delete: %v", err)
			}

			latest, err := s.Read(ctx, "app", "k", "production", LatestVersion)
			if err != nil {
				t.Fatalf("read latest: %v", err)
			}
			if !latest.Tombstone() {
				t.Error("expected latest version to be a tombstone")
			}

			// History, including the original value, remains readable.
			old, err := s.Read(ctx, "app", "k", "production", 1)
			if err != nil {
				t.Fatalf("read v1 after delete: %v", err)
			}
			if old.Value.Str != "v1" {
				t.Errorf("v1 value = %q, want %q", old.Value.Str, "v1")
			}
		})
	}
}

func TestRestoreReferencesTarget(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.AppendVersion(ctx, AppendRequest{
		Namespace: "app", Key: "k", Environment: "production",
		Value: StringValue("good"), ChangeType: ChangeCreate, Author: "alice",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AppendVersion(ctx, AppendRequest{
		Namespace: "app", Key: "k", Environment: "production",
		Value: StringValue("bad"), ChangeType: ChangeUpdate,
		Author: "bob", ExpectedVersion: 1,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	v3, err := s.AppendVersion(ctx, AppendRequest{
		Namespace: "app", Key: "k", Environment: "production",
		Value: StringValue("good"), ChangeType: ChangeRestore,
		Author: "alice", RestoreOf: 1, ExpectedVersion: 2,
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	restored, err := s.Read(ctx, "app", "k", "production", v3)
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if restored.ChangeType != ChangeRestore || restored.RestoreOf != 1 {
		t.Errorf("restored = %+v, want change restore of version 1", restored)
	}

	// The restore target itself is untouched.
	target, err := s.Read(ctx, "app", "k", "production", 1)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if target.ChangeType != ChangeCreate {
		t.Error("expected restore target unchanged")
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	structured := json.RawMessage(`{"hosts":["a","b"],"port":5432}`)
	values := []Value{
		StringValue("hello"),
		NumberValue(42.5),
		BoolValue(true),
		StructuredValue(structured),
	}

	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %v: %v", v.Kind, err)
		}
		var got Value
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %v: %v", v.Kind, err)
		}
		if got.Kind != v.Kind {
			t.Errorf("kind = %v, want %v", got.Kind, v.Kind)
		}
	}

	var bad Value
	if err := json.Unmarshal([]byte(`{"kind":"mystery"}`), &bad); err == nil {
		t.Error("expected unknown kind to fail")
	}
}

func TestVersionMetadata(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.AppendVersion(ctx, AppendRequest{
				Namespace:   "app/web",
				Key:         "timeout",
				Environment: "production",
				Value:       NumberValue(30),
				ChangeType:  ChangeCreate,
				Author:      "alice",
				Description: "raise timeout for slow upstream",
				Tags:        []string{"incident-42", "temporary"},
			}); err != nil {
				t.Fatalf("append: %v", err)
			}

			cv, err := s.Read(ctx, "app/web", "timeout", "production", LatestVersion)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if cv.Description != "raise timeout for slow upstream" {
				t.Errorf("description = %q", cv.Description)
			}
			if len(cv.Tags) != 2 || cv.Tags[0] != "incident-42" || cv.Tags[1] != "temporary" {
				t.Errorf("tags = %v", cv.Tags)
			}
		})
	}
}
