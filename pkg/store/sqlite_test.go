package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// setupTestStore creates a temporary SQLite database for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
		os.Remove(dbPath)
	})

	return store
}

func createTestDevice(t *testing.T, s *Store, id string, counter uint64) {
	t.Helper()
	err := s.CreateDevice(context.Background(), &Device{
		ID:             id,
		PublicKey:      []byte("pkix-" + id),
		KeyFingerprint: "fp-" + id,
		Counter:        counter,
		Model:          "iPhone 15 Pro",
	})
	if err != nil {
		t.Fatalf("CreateDevice(%s) failed: %v", id, err)
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	createTestDevice(t, s, "dev-1", 0)
	s.Close()

	t.Log("Reopening database to verify migrations are idempotent")
	s, err = Open(dbPath)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s.Close()

	d, err := s.GetDevice(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if d == nil {
		t.Fatal("device missing after reopen")
	}
}

func TestDeviceCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		createTestDevice(t, s, "dev-1", 5)

		d, err := s.GetDevice(ctx, "dev-1")
		if err != nil {
			t.Fatalf("GetDevice failed: %v", err)
		}
		if d.Counter != 5 {
			t.Errorf("expected counter 5, got %d", d.Counter)
		}
		if d.AttestationLevel != AttestationUnverified {
			t.Errorf("expected default level unverified, got %s", d.AttestationLevel)
		}
		if d.Model != "iPhone 15 Pro" {
			t.Errorf("expected model 'iPhone 15 Pro', got '%s'", d.Model)
		}
		if d.LastSeen != nil {
			t.Errorf("expected nil last_seen for fresh device, got %v", d.LastSeen)
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := s.CreateDevice(ctx, &Device{ID: "dev-1", PublicKey: []byte("x"), KeyFingerprint: "x"})
		if !errors.Is(err, ErrDeviceExists) {
			t.Errorf("expected ErrDeviceExists, got %v", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		d, err := s.GetDevice(ctx, "nope")
		if err != nil {
			t.Fatalf("GetDevice failed: %v", err)
		}
		if d != nil {
			t.Errorf("expected nil for missing device, got %+v", d)
		}
	})

	t.Run("UpdateDeviceAttestation", func(t *testing.T) {
		at := time.Unix(1700000000, 0)
		if err := s.UpdateDeviceAttestation(ctx, "dev-1", AttestationHardwareVerified, []byte("new-key"), "fp-new", at); err != nil {
			t.Fatalf("UpdateDeviceAttestation failed: %v", err)
		}
		d, _ := s.GetDevice(ctx, "dev-1")
		if d.AttestationLevel != AttestationHardwareVerified {
			t.Errorf("expected hardware_verified, got %s", d.AttestationLevel)
		}
		if d.AttestedAt == nil || !d.AttestedAt.Equal(at) {
			t.Errorf("expected attested_at %v, got %v", at, d.AttestedAt)
		}
		if string(d.PublicKey) != "new-key" || d.KeyFingerprint != "fp-new" {
			t.Errorf("expected key to be replaced, got %q / %q", d.PublicKey, d.KeyFingerprint)
		}

		if err := s.UpdateDeviceAttestation(ctx, "nope", AttestationHardwareVerified, nil, "", at); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing device, got %v", err)
		}
		if err := s.UpdateDeviceAttestation(ctx, "dev-1", "bogus", nil, "", at); err == nil {
			t.Error("expected error for invalid level")
		}
	})

	t.Run("List", func(t *testing.T) {
		createTestDevice(t, s, "dev-2", 0)
		devices, err := s.ListDevices(ctx)
		if err != nil {
			t.Fatalf("ListDevices failed: %v", err)
		}
		if len(devices) != 2 {
			t.Errorf("expected 2 devices, got %d", len(devices))
		}
	})
}

func TestAdmitSubmission_CounterOrdering(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		stored  uint64
		counter uint64
		wantErr error
	}{
		{"greater is admitted", 10, 11, nil},
		{"equal is rejected", 10, 10, ErrCounterNotIncreased},
		{"lower is rejected", 10, 9, ErrCounterNotIncreased},
		{"jump ahead is admitted", 10, 500, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := setupTestStore(t)
			createTestDevice(t, s, "dev", tc.stored)

			t.Logf("Admitting counter %d against stored %d", tc.counter, tc.stored)
			err := s.AdmitSubmission(ctx, &Admission{
				ID: "adm-1", DeviceID: "dev", Counter: tc.counter, CorrelationID: "corr-1",
			})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}

			d, _ := s.GetDevice(ctx, "dev")
			want := tc.stored
			if tc.wantErr == nil {
				want = tc.counter
			}
			if d.Counter != want {
				t.Errorf("expected stored counter %d, got %d", want, d.Counter)
			}

			adm, err := s.GetAdmission(ctx, "adm-1")
			if err != nil {
				t.Fatalf("GetAdmission failed: %v", err)
			}
			if (adm != nil) != (tc.wantErr == nil) {
				t.Errorf("admission row presence = %v, want %v", adm != nil, tc.wantErr == nil)
			}
		})
	}
}

func TestAdmitSubmission_UnknownDevice(t *testing.T) {
	s := setupTestStore(t)
	err := s.AdmitSubmission(context.Background(), &Admission{ID: "a", DeviceID: "ghost", Counter: 1, CorrelationID: "c"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAdmitSubmission_ConcurrentSameCounter(t *testing.T) {
	s := setupTestStore(t)
	createTestDevice(t, s, "dev", 0)

	const workers = 8
	var admitted, rejected atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	t.Logf("Racing %d submissions carrying counter 1", workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := s.AdmitSubmission(context.Background(), &Admission{
				ID:            "adm-" + string(rune('a'+i)),
				DeviceID:      "dev",
				Counter:       1,
				CorrelationID: "corr",
			})
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, ErrCounterNotIncreased):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if admitted.Load() != 1 {
		t.Errorf("expected exactly 1 admission, got %d", admitted.Load())
	}
	if rejected.Load() != workers-1 {
		t.Errorf("expected %d rejections, got %d", workers-1, rejected.Load())
	}
}

func TestChallengeLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	created := time.UnixMilli(1700000000000)
	expires := created.Add(5 * time.Minute)

	newChallenge := func(id string) {
		t.Helper()
		err := s.CreateChallenge(ctx, &Challenge{ID: id, Nonce: []byte("nonce-" + id), CreatedAt: created, ExpiresAt: expires})
		if err != nil {
			t.Fatalf("CreateChallenge failed: %v", err)
		}
	}

	t.Run("ConsumeOnce", func(t *testing.T) {
		newChallenge("c1")
		c, err := s.ConsumeChallenge(ctx, "c1", created.Add(time.Minute))
		if err != nil {
			t.Fatalf("ConsumeChallenge failed: %v", err)
		}
		if string(c.Nonce) != "nonce-c1" {
			t.Errorf("unexpected nonce %q", c.Nonce)
		}

		_, err = s.ConsumeChallenge(ctx, "c1", created.Add(time.Minute))
		if !errors.Is(err, ErrChallengeConsumed) {
			t.Errorf("expected ErrChallengeConsumed on reuse, got %v", err)
		}
	})

	t.Run("ExpiryBoundaryInclusive", func(t *testing.T) {
		newChallenge("c2")
		if _, err := s.ConsumeChallenge(ctx, "c2", expires); err != nil {
			t.Errorf("expected consume at exact expiry to succeed, got %v", err)
		}
	})

	t.Run("Expired", func(t *testing.T) {
		newChallenge("c3")
		_, err := s.ConsumeChallenge(ctx, "c3", expires.Add(time.Millisecond))
		if !errors.Is(err, ErrChallengeExpired) {
			t.Errorf("expected ErrChallengeExpired, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.ConsumeChallenge(ctx, "missing", created)
		if !errors.Is(err, ErrChallengeNotFound) {
			t.Errorf("expected ErrChallengeNotFound, got %v", err)
		}
	})

	t.Run("Cleanup", func(t *testing.T) {
		newChallenge("c4")
		n, err := s.CleanupExpiredChallenges(ctx, expires.Add(time.Second))
		if err != nil {
			t.Fatalf("CleanupExpiredChallenges failed: %v", err)
		}
		if n != 4 {
			t.Errorf("expected 4 challenges removed, got %d", n)
		}
		c, _ := s.GetChallenge(ctx, "c4")
		if c != nil {
			t.Error("expected c4 to be removed")
		}
	})
}

func TestEvidence_AppendOnly(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	createTestDevice(t, s, "dev", 0)

	if err := s.AdmitSubmission(ctx, &Admission{ID: "adm", DeviceID: "dev", Counter: 1, CorrelationID: "corr"}); err != nil {
		t.Fatalf("AdmitSubmission failed: %v", err)
	}

	rec := &EvidenceRecord{
		ID:          "ev-1",
		AdmissionID: "adm",
		DeviceID:    "dev",
		CaptureKey:  "dev/cap-1",
		MediaDigest: "sha256:abc",
		Package:     []byte(`{"confidence":"HIGH"}`),
		Confidence:  "HIGH",
		Manifest:    []byte(`{"payloadType":"x"}`),
	}
	if err := s.InsertEvidence(ctx, rec); err != nil {
		t.Fatalf("InsertEvidence failed: %v", err)
	}

	got, err := s.GetEvidence(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvidence failed: %v", err)
	}
	if got.Confidence != "HIGH" || string(got.Package) != string(rec.Package) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	t.Log("Attempting to mutate stored evidence")
	if _, err := s.DB().Exec(`UPDATE evidence SET confidence = 'LOW' WHERE id = 'ev-1'`); err == nil {
		t.Error("expected update to be rejected")
	}
	if _, err := s.DB().Exec(`DELETE FROM evidence WHERE id = 'ev-1'`); err == nil {
		t.Error("expected delete to be rejected")
	}

	list, err := s.ListEvidenceByDevice(ctx, "dev", 10)
	if err != nil {
		t.Fatalf("ListEvidenceByDevice failed: %v", err)
	}
	if len(list) != 1 || list[0].Confidence != "HIGH" {
		t.Errorf("expected unchanged record, got %+v", list)
	}
}

func TestAuditEntries(t *testing.T) {
	s := setupTestStore(t)
	base := time.UnixMilli(1700000000000)

	entries := []*AuditEntry{
		{Timestamp: base, Action: "submission.admitted", Severity: 6, ActorID: "dev", CorrelationID: "c1"},
		{Timestamp: base.Add(time.Second), Action: "auth.replay_detected", Severity: 4, ActorID: "dev", CorrelationID: "c2",
			Details: map[string]string{"counter": "7"}},
		{Timestamp: base.Add(2 * time.Second), Action: "submission.admitted", Severity: 6, ActorID: "other", CorrelationID: "c3"},
	}
	for _, e := range entries {
		if _, err := s.InsertAuditEntry(e); err != nil {
			t.Fatalf("InsertAuditEntry failed: %v", err)
		}
	}

	got, err := s.QueryAuditEntries(AuditFilter{Action: "submission.admitted"})
	if err != nil {
		t.Fatalf("QueryAuditEntries failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].CorrelationID != "c3" {
		t.Errorf("expected newest first, got %s", got[0].CorrelationID)
	}

	got, _ = s.QueryAuditEntries(AuditFilter{CorrelationID: "c2"})
	if len(got) != 1 || got[0].Details["counter"] != "7" {
		t.Errorf("expected replay entry with details, got %+v", got)
	}

	got, _ = s.QueryAuditEntries(AuditFilter{Since: base.Add(time.Second), Limit: 1})
	if len(got) != 1 {
		t.Errorf("expected limit to apply, got %d", len(got))
	}
}
