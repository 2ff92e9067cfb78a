package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"dirtree/internal/core"
	"dirtree/internal/server/config"
	"dirtree/internal/server/database"
	"dirtree/internal/server/storage"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound          = errors.New("run not found")
	ErrExpired           = errors.New("run has expired")
	ErrInvalidToken      = errors.New("invalid deletion token")
	ErrScriptTooLarge    = errors.New("script exceeds maximum allowed size")
	ErrEmptyScript       = errors.New("script is empty")
	ErrTranscriptMissing = errors.New("transcript is no longer stored")
	ErrUnarchivable      = errors.New("tree cannot be archived")
)

// RunRepository is the persistence the service needs.
type RunRepository interface {
	Create(ctx context.Context, run *database.Run) error
	GetByID(ctx context.Context, id string) (*database.Run, error)
	GetByHash(ctx context.Context, hash string) (*database.Run, error)
	Delete(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*database.Stats, error)
}

// RunResult is returned after a script has been executed and recorded.
type RunResult struct {
	ID            string     `json:"id"`
	Transcript    string     `json:"transcript"`
	TranscriptURL string     `json:"transcript_url"`
	DeletionToken string     `json:"deletion_token"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Stats         core.Stats `json:"stats"`
	Cached        bool       `json:"cached"`
	PreviousRunID string     `json:"previous_run_id,omitempty"`
}

// RunInfo is returned for metadata queries.
type RunInfo struct {
	ID             string    `json:"id"`
	ScriptHash     string    `json:"script_hash"`
	ScriptSize     int64     `json:"script_size"`
	TranscriptSize int64     `json:"transcript_size"`
	LineCount      int       `json:"line_count"`
	AppliedCount   int       `json:"applied_count"`
	DirCount       int       `json:"dir_count"`
	ExecutedAt     time.Time `json:"executed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// execution is what the transcript cache remembers per script hash.
// Scripts are deterministic, so a hit can skip the interpreter.
type execution struct {
	transcript string
	stats      core.Stats
}

// RunService executes scripts and keeps a history of their transcripts.
type RunService struct {
	repo      RunRepository
	store     storage.Store
	cfg       *config.Config
	cache     *lru.Cache[string, execution]
	tokenCost int
}

func NewRunService(repo RunRepository, store storage.Store, cfg *config.Config) (*RunService, error) {
	size := cfg.TranscriptCacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[string, execution](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript cache: %w", err)
	}

	return &RunService{
		repo:      repo,
		store:     store,
		cfg:       cfg,
		cache:     cache,
		tokenCost: bcrypt.DefaultCost,
	}, nil
}

// Execute runs script on a fresh tree, stores the transcript and records
// the run.
func (s *RunService) Execute(ctx context.Context, script string) (*RunResult, error) {
	if err := s.validateScript(script); err != nil {
		return nil, err
	}

	scriptHash := hashScript(script)
	exec, cached := s.execute(scriptHash, script)

	var previousRunID string
	existing, err := s.repo.GetByHash(ctx, scriptHash)
	if err != nil {
		slog.Warn("previous run lookup failed", "hash", scriptHash, "error", err)
	} else if existing != nil {
		previousRunID = existing.ID
	}

	runID, err := generateSecureToken(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	deletionToken, err := generateSecureToken(24)
	if err != nil {
		return nil, fmt.Errorf("failed to generate deletion token: %w", err)
	}
	deletionToken = "del_" + deletionToken

	tokenHash, err := bcrypt.GenerateFromPassword([]byte(deletionToken), s.tokenCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash deletion token: %w", err)
	}

	storedBytes, err := s.store.Save(runID, strings.NewReader(exec.transcript))
	if err != nil {
		return nil, fmt.Errorf("failed to store transcript: %w", err)
	}

	now := time.Now().UTC()
	run := &database.Run{
		ID:                runID,
		ScriptHash:        scriptHash,
		ScriptSize:        int64(len(script)),
		TranscriptSize:    storedBytes,
		LineCount:         exec.stats.Lines,
		AppliedCount:      exec.stats.Applied,
		DirCount:          exec.stats.Dirs,
		ExecutedAt:        now,
		ExpiresAt:         now.Add(s.cfg.RunRetention),
		DeletionTokenHash: string(tokenHash),
		CreatedAt:         now,
	}

	if err := s.repo.Create(ctx, run); err != nil {
		if delErr := s.store.Delete(runID); delErr != nil {
			slog.Error("failed to remove orphaned transcript", "id", runID, "error", delErr)
		}
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	slog.Info("script executed",
		"id", runID,
		"lines", exec.stats.Lines,
		"applied", exec.stats.Applied,
		"dirs", exec.stats.Dirs,
		"cached", cached,
		"previous_run", previousRunID,
	)

	return &RunResult{
		ID:            runID,
		Transcript:    exec.transcript,
		TranscriptURL: fmt.Sprintf("%s/r/%s", s.cfg.BaseURL, runID),
		DeletionToken: deletionToken,
		ExpiresAt:     run.ExpiresAt,
		Stats:         exec.stats,
		Cached:        cached,
		PreviousRunID: previousRunID,
	}, nil
}

// Archive runs script on a fresh tree and returns the final tree as a zip
// archive. Nothing is recorded.
func (s *RunService) Archive(ctx context.Context, script string) ([]byte, error) {
	if err := s.validateScript(script); err != nil {
		return nil, err
	}

	ft := core.NewFiletree()
	core.Execute(ft, script)

	data, err := ft.ToZipBytes()
	if errors.Is(err, core.ErrUnsafeArchivePath) {
		return nil, fmt.Errorf("%w: %v", ErrUnarchivable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to archive tree: %w", err)
	}
	return data, nil
}

// GetInfo returns metadata about a live run.
func (s *RunService) GetInfo(ctx context.Context, id string) (*RunInfo, error) {
	run, err := s.getLiveRun(ctx, id)
	if err != nil {
		return nil, err
	}

	return &RunInfo{
		ID:             run.ID,
		ScriptHash:     run.ScriptHash,
		ScriptSize:     run.ScriptSize,
		TranscriptSize: run.TranscriptSize,
		LineCount:      run.LineCount,
		AppliedCount:   run.AppliedCount,
		DirCount:       run.DirCount,
		ExecutedAt:     run.ExecutedAt,
		ExpiresAt:      run.ExpiresAt,
	}, nil
}

// Transcript opens the stored transcript of a live run.
func (s *RunService) Transcript(ctx context.Context, id string) (io.ReadCloser, error) {
	if _, err := s.getLiveRun(ctx, id); err != nil {
		return nil, err
	}

	rc, err := s.store.Open(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotStored) {
			return nil, ErrTranscriptMissing
		}
		return nil, err
	}
	return rc, nil
}

// DeleteRun removes a run when token matches the one handed out by Execute.
func (s *RunService) DeleteRun(ctx context.Context, id string, token string) error {
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return ErrNotFound
		}
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(run.DeletionTokenHash), []byte(token)) != nil {
		return ErrInvalidToken
	}

	if err := s.store.Delete(id); err != nil {
		// Continue with DB deletion even if the transcript removal fails
		slog.Error("failed to delete transcript", "id", id, "error", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete run record: %w", err)
	}

	slog.Info("run deleted", "id", id)
	return nil
}

// GetStats returns aggregate server statistics.
func (s *RunService) GetStats(ctx context.Context) (*database.Stats, error) {
	return s.repo.GetStats(ctx)
}

// --- Helpers ---

func (s *RunService) validateScript(script string) error {
	if int64(len(script)) > s.cfg.MaxScriptSize {
		return ErrScriptTooLarge
	}
	if strings.TrimSpace(script) == "" {
		return ErrEmptyScript
	}
	return nil
}

// execute returns the cached execution for scriptHash or runs the script.
func (s *RunService) execute(scriptHash, script string) (execution, bool) {
	if exec, ok := s.cache.Get(scriptHash); ok {
		return exec, true
	}

	result := core.ExecuteReport(core.NewFiletree(), script)
	exec := execution{
		transcript: result.Transcript,
		stats:      result.Stats(),
	}
	s.cache.Add(scriptHash, exec)
	return exec, false
}

func (s *RunService) getLiveRun(ctx context.Context, id string) (*database.Run, error) {
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if time.Now().After(run.ExpiresAt) {
		return nil, ErrExpired
	}
	return run, nil
}

func hashScript(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
