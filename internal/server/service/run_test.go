package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"dirtree/internal/server/config"
	"dirtree/internal/server/database"
	"dirtree/internal/server/storage"

	"golang.org/x/crypto/bcrypt"
)

// --- Test doubles ---

type memoryRepo struct {
	mu        sync.Mutex
	runs      map[string]*database.Run
	createErr error
}

// stuckStore is a store whose transcripts cannot be removed.
type stuckStore struct {
	*storage.FileSystemStore
}

func (stuckStore) Delete(runID string) error {
	return errors.New("permission denied")
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{runs: make(map[string]*database.Run)}
}

func (m *memoryRepo) Create(ctx context.Context, run *database.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memoryRepo) GetByID(ctx context.Context, id string) (*database.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, database.ErrRunNotFound
	}
	return run, nil
}

func (m *memoryRepo) GetByHash(ctx context.Context, hash string) (*database.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *database.Run
	now := time.Now()
	for _, run := range m.runs {
		if run.ScriptHash != hash || run.ExpiresAt.Before(now) {
			continue
		}
		if newest == nil || run.ExecutedAt.After(newest.ExecutedAt) {
			newest = run
		}
	}
	return newest, nil
}

func (m *memoryRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return database.ErrRunNotFound
	}
	delete(m.runs, id)
	return nil
}

func (m *memoryRepo) GetStats(ctx context.Context) (*database.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &database.Stats{TotalRuns: int64(len(m.runs))}
	for _, run := range m.runs {
		stats.TotalLines += int64(run.LineCount)
		stats.TranscriptBytes += run.TranscriptSize
	}
	return stats, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MaxScriptSize:       1024,
		RunRetention:        time.Hour,
		BaseURL:             "http://dirtree.test",
		TranscriptCacheSize: 8,
	}
}

func newTestService(t *testing.T) (*RunService, *memoryRepo, *storage.FileSystemStore) {
	t.Helper()
	repo := newMemoryRepo()
	store := storage.NewFileSystemStore(t.TempDir())
	svc, err := NewRunService(repo, store, testConfig())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	svc.tokenCost = bcrypt.MinCost
	return svc, repo, store
}

const fruitScript = "CREATE fruits\nCREATE grains\nCREATE fruits/strawberries\nMOVE fruits grains\nLIST"

// --- Execute ---

func TestExecute(t *testing.T) {
	t.Run("returns transcript and records run", func(t *testing.T) {
		svc, repo, store := newTestService(t)

		result, err := svc.Execute(context.Background(), fruitScript)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !strings.HasSuffix(result.Transcript, "LIST\ngrains\n  fruits\n    strawberries\n") {
			t.Errorf("unexpected transcript %q", result.Transcript)
		}
		if result.TranscriptURL != "http://dirtree.test/r/"+result.ID {
			t.Errorf("unexpected transcript URL %s", result.TranscriptURL)
		}
		if !strings.HasPrefix(result.DeletionToken, "del_") {
			t.Errorf("expected deletion token prefix, got %s", result.DeletionToken)
		}
		if result.Stats.Dirs != 3 || result.Stats.Lines != 5 {
			t.Errorf("unexpected stats %+v", result.Stats)
		}

		run, ok := repo.runs[result.ID]
		if !ok {
			t.Fatal("expected run to be recorded")
		}
		if run.DeletionTokenHash == result.DeletionToken {
			t.Error("expected deletion token to be stored hashed")
		}
		if run.TranscriptSize != int64(len(result.Transcript)) {
			t.Errorf("expected transcript size %d, got %d", len(result.Transcript), run.TranscriptSize)
		}

		if _, err := store.GetPath(result.ID); err != nil {
			t.Errorf("expected transcript on disk: %v", err)
		}
	})

	t.Run("identical scripts hit the cache", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		first, err := svc.Execute(context.Background(), fruitScript)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := svc.Execute(context.Background(), fruitScript)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if first.Cached || !second.Cached {
			t.Errorf("expected miss then hit, got %v then %v", first.Cached, second.Cached)
		}
		if first.Transcript != second.Transcript {
			t.Error("expected identical transcripts")
		}
		if first.ID == second.ID {
			t.Error("expected distinct run IDs")
		}
	})

	t.Run("rejects oversize script", func(t *testing.T) {
		svc, repo, _ := newTestService(t)

		_, err := svc.Execute(context.Background(), strings.Repeat("LIST\n", 300))

		if !errors.Is(err, ErrScriptTooLarge) {
			t.Errorf("expected ErrScriptTooLarge, got %v", err)
		}
		if len(repo.runs) != 0 {
			t.Error("expected nothing recorded")
		}
	})

	t.Run("rejects blank script", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.Execute(context.Background(), " \n\t\n")

		if !errors.Is(err, ErrEmptyScript) {
			t.Errorf("expected ErrEmptyScript, got %v", err)
		}
	})

	t.Run("removes transcript when the record fails", func(t *testing.T) {
		dir := t.TempDir()
		repo := newMemoryRepo()
		repo.createErr = errors.New("db down")
		svc, err := NewRunService(repo, storage.NewFileSystemStore(dir), testConfig())
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}
		svc.tokenCost = bcrypt.MinCost

		if _, err := svc.Execute(context.Background(), "LIST"); err == nil {
			t.Fatal("expected error")
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("failed to read dir: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected no transcripts left, got %d entries", len(entries))
		}
	})

	t.Run("logs a transcript it cannot remove", func(t *testing.T) {
		var logs bytes.Buffer
		prev := slog.Default()
		slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
		defer slog.SetDefault(prev)

		repo := newMemoryRepo()
		repo.createErr = errors.New("db down")
		store := stuckStore{storage.NewFileSystemStore(t.TempDir())}
		svc, err := NewRunService(repo, store, testConfig())
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}
		svc.tokenCost = bcrypt.MinCost

		if _, err := svc.Execute(context.Background(), "LIST"); err == nil {
			t.Fatal("expected error")
		}

		if !strings.Contains(logs.String(), "failed to remove orphaned transcript") {
			t.Errorf("expected removal failure to be logged, got %q", logs.String())
		}
	})

	t.Run("links to the previous run of the same script", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		first, err := svc.Execute(context.Background(), fruitScript)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := svc.Execute(context.Background(), fruitScript)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		other, err := svc.Execute(context.Background(), "LIST")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if first.PreviousRunID != "" {
			t.Errorf("expected no previous run, got %s", first.PreviousRunID)
		}
		if second.PreviousRunID != first.ID {
			t.Errorf("expected previous run %s, got %s", first.ID, second.PreviousRunID)
		}
		if other.PreviousRunID != "" {
			t.Errorf("expected no previous run for a new script, got %s", other.PreviousRunID)
		}
	})
}

// --- Archive ---

func TestArchive(t *testing.T) {
	svc, repo, _ := newTestService(t)

	data, err := svc.Archive(context.Background(), fruitScript)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("invalid zip: %v", err)
	}

	var names []string
	for _, f := range reader.File {
		names = append(names, f.Name)
	}
	want := "grains/ grains/fruits/ grains/fruits/strawberries/"
	if strings.Join(names, " ") != want {
		t.Errorf("expected entries %q, got %q", want, strings.Join(names, " "))
	}
	if len(repo.runs) != 0 {
		t.Error("expected archive not to record a run")
	}
}

func TestArchive_UnsafeNames(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Archive(context.Background(), "CREATE ..\nCREATE ../etc")
	if !errors.Is(err, ErrUnarchivable) {
		t.Errorf("expected ErrUnarchivable, got %v", err)
	}
}

// --- Lookups ---

func TestGetInfoAndTranscript(t *testing.T) {
	t.Run("live run", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		result, _ := svc.Execute(context.Background(), fruitScript)

		info, err := svc.GetInfo(context.Background(), result.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.LineCount != 5 || info.DirCount != 3 {
			t.Errorf("unexpected info %+v", info)
		}

		rc, err := svc.Transcript(context.Background(), result.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer rc.Close()
		data, _ := io.ReadAll(rc)
		if string(data) != result.Transcript {
			t.Errorf("expected stored transcript to match, got %q", data)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		if _, err := svc.GetInfo(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := svc.Transcript(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("expired run", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		result, _ := svc.Execute(context.Background(), "LIST")
		repo.runs[result.ID].ExpiresAt = time.Now().Add(-time.Minute)

		if _, err := svc.GetInfo(context.Background(), result.ID); !errors.Is(err, ErrExpired) {
			t.Errorf("expected ErrExpired, got %v", err)
		}
	})

	t.Run("transcript gone from storage", func(t *testing.T) {
		svc, _, store := newTestService(t)
		result, _ := svc.Execute(context.Background(), "LIST")
		store.Delete(result.ID)

		if _, err := svc.Transcript(context.Background(), result.ID); !errors.Is(err, ErrTranscriptMissing) {
			t.Errorf("expected ErrTranscriptMissing, got %v", err)
		}
	})
}

// --- Delete ---

func TestDeleteRun(t *testing.T) {
	t.Run("valid token", func(t *testing.T) {
		svc, repo, store := newTestService(t)
		result, _ := svc.Execute(context.Background(), "LIST")

		if err := svc.DeleteRun(context.Background(), result.ID, result.DeletionToken); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := repo.runs[result.ID]; ok {
			t.Error("expected run record removed")
		}
		if _, err := store.GetPath(result.ID); !errors.Is(err, storage.ErrNotStored) {
			t.Errorf("expected transcript removed, got %v", err)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		result, _ := svc.Execute(context.Background(), "LIST")

		err := svc.DeleteRun(context.Background(), result.ID, "del_wrong")

		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
		if _, ok := repo.runs[result.ID]; !ok {
			t.Error("expected run record kept")
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		if err := svc.DeleteRun(context.Background(), "nope", "del_x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// --- Token generation ---

func TestGenerateSecureToken(t *testing.T) {
	t.Run("generates correct length", func(t *testing.T) {
		for _, length := range []int{8, 16, 24, 32} {
			token, err := generateSecureToken(length)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(token) != length {
				t.Errorf("expected length %d, got %d", length, len(token))
			}
		}
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			token, err := generateSecureToken(16)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if seen[token] {
				t.Fatalf("duplicate token generated: %s", token)
			}
			seen[token] = true
		}
	})
}

func TestHashScript(t *testing.T) {
	if hashScript("LIST") != hashScript("LIST") {
		t.Error("expected stable hash")
	}
	if hashScript("LIST") == hashScript("list") {
		t.Error("expected different scripts to hash differently")
	}
	if len(hashScript("")) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(hashScript("")))
	}
}
