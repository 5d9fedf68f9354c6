package contract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSyncInProgress is returned when a run is already going on in this process.
var ErrSyncInProgress = errors.New("contract sync already in progress")

// ContractLister is satisfied by *upstream.Client.
type ContractLister interface {
	Login(ctx context.Context) (string, error)
	PageFetcher
}

// SyncResult summarizes a finished run.
type SyncResult struct {
	SyncID                  string `json:"syncId"`
	TotalContractsProcessed int    `json:"totalContractsProcessed"`
	TotalContracts          int    `json:"totalContracts"`
	PagesProcessed          int    `json:"pagesProcessed"`
	ContractsSaved          int    `json:"contractsSaved"`
}

// SyncConfig tunes the sync job.
type SyncConfig struct {
	BatchSize int
	PageSize  int
}

// Syncer copies every Group contract from AMG into amg_contracts. Only one
// run may be active per process.
type Syncer struct {
	client    ContractLister
	contracts Repository
	status    SyncStatusRepository
	cfg       SyncConfig
	now       func() time.Time
	logger    zerolog.Logger

	mu      sync.Mutex
	running bool
}

func NewSyncer(client ContractLister, contracts Repository, status SyncStatusRepository, cfg SyncConfig, logger zerolog.Logger) *Syncer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	return &Syncer{
		client:    client,
		contracts: contracts,
		status:    status,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With().Str("component", "contract-sync").Logger(),
	}
}

func (s *Syncer) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Syncer) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Running reports whether a run is active in this process.
func (s *Syncer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Run synchronizes and waits for the result.
func (s *Syncer) Run(ctx context.Context) (*SyncResult, error) {
	if !s.acquire() {
		return nil, ErrSyncInProgress
	}
	defer s.release()

	run, err := s.status.StartRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("record sync start: %w", err)
	}
	return s.execute(ctx, run)
}

// Start records a new run and synchronizes in the background. The returned
// run is in progress; its outcome is read back through the status table.
func (s *Syncer) Start(ctx context.Context) (*SyncRun, error) {
	if !s.acquire() {
		return nil, ErrSyncInProgress
	}
	run, err := s.status.StartRun(ctx)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("record sync start: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		defer s.release()
		if _, err := s.execute(bg, run); err != nil {
			s.logger.Error().Err(err).Str("sync_id", run.ID.String()).Msg("background contract sync failed")
		}
	}()
	return run, nil
}

// NeedsSync reports whether the cache is empty, the last run failed, or the
// last completed run is older than maxAge. A run in progress never needs
// another one.
func (s *Syncer) NeedsSync(ctx context.Context, maxAge time.Duration) (bool, error) {
	if s.Running() {
		return false, nil
	}
	n, err := s.contracts.Count(ctx)
	if err != nil {
		return false, err
	}
	last, err := s.status.Latest(ctx)
	if err != nil {
		return false, err
	}
	switch {
	case n == 0 || last == nil:
		return true, nil
	case last.Status == SyncFailed:
		return true, nil
	case last.Status == SyncInProgress:
		return false, nil
	case last.CompletedAt == nil:
		return true, nil
	}
	return s.now().Sub(*last.CompletedAt) > maxAge, nil
}

// StartIfStale starts a background run when NeedsSync says so. It returns
// nil when the cache is fresh or another run holds the lock.
func (s *Syncer) StartIfStale(ctx context.Context, maxAge time.Duration) (*SyncRun, error) {
	need, err := s.NeedsSync(ctx, maxAge)
	if err != nil || !need {
		return nil, err
	}
	run, err := s.Start(ctx)
	if errors.Is(err, ErrSyncInProgress) {
		return nil, nil
	}
	return run, err
}

func (s *Syncer) execute(ctx context.Context, run *SyncRun) (*SyncResult, error) {
	log := s.logger.With().Str("sync_id", run.ID.String()).Logger()
	log.Info().Msg("starting contract synchronization")

	var progress SyncProgress
	saved, err := s.copyContracts(ctx, run, &progress, log)

	result := &SyncResult{
		SyncID:                  run.ID.String(),
		TotalContractsProcessed: progress.ContractsSynced,
		TotalContracts:          progress.TotalContracts,
		PagesProcessed:          progress.PagesProcessed,
		ContractsSaved:          saved,
	}

	if err != nil {
		msg := err.Error()
		if ferr := s.status.FinishRun(ctx, run.ID, SyncFailed, progress, &msg); ferr != nil {
			log.Error().Err(ferr).Msg("failed to record sync failure")
		}
		log.Error().Err(err).Int("pages", progress.PagesProcessed).Msg("contract synchronization failed")
		return result, err
	}

	if err := s.status.FinishRun(ctx, run.ID, SyncCompleted, progress, nil); err != nil {
		return result, fmt.Errorf("record sync completion: %w", err)
	}
	log.Info().
		Int("processed", progress.ContractsSynced).
		Int("total", progress.TotalContracts).
		Int("pages", progress.PagesProcessed).
		Int("saved", saved).
		Msg("contract synchronization completed")
	return result, nil
}

func (s *Syncer) copyContracts(ctx context.Context, run *SyncRun, progress *SyncProgress, log zerolog.Logger) (int, error) {
	token, err := s.client.Login(ctx)
	if err != nil {
		return 0, err
	}

	saved := 0
	pending := make([]*CachedContract, 0, s.cfg.BatchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.contracts.UpsertBatch(ctx, pending); err != nil {
			return fmt.Errorf("upsert batch of %d contracts: %w", len(pending), err)
		}
		saved += len(pending)
		log.Debug().Int("batch", len(pending)).Int("saved", saved).Msg("contract batch saved")
		pending = make([]*CachedContract, 0, s.cfg.BatchSize)
		return s.status.UpdateProgress(ctx, run.ID, *progress)
	}

	next := s.client.ContractPageURL(s.cfg.PageSize)
	for next != "" {
		bundle, err := s.client.ContractPage(ctx, token, next)
		if err != nil {
			if ferr := flush(); ferr != nil {
				log.Error().Err(ferr).Msg("failed to save contracts read before page error")
			}
			return saved, fmt.Errorf("contract page %d: %w", progress.PagesProcessed+1, err)
		}
		progress.PagesProcessed++
		progress.TotalContracts = bundle.TotalCount()

		contracts, err := bundle.Contracts()
		if err != nil {
			return saved, fmt.Errorf("decode contract page %d: %w", progress.PagesProcessed, err)
		}
		progress.ContractsSynced += len(contracts)

		now := s.now()
		for _, c := range contracts {
			if row, ok := ToCached(c, now); ok {
				pending = append(pending, row)
			}
		}
		log.Debug().
			Int("page", progress.PagesProcessed).
			Int("in_page", len(contracts)).
			Int("processed", progress.ContractsSynced).
			Int("total", progress.TotalContracts).
			Msg("contract page read")

		if len(pending) >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return saved, err
			}
		}
		current := next
		if next = bundle.NextURL(); next == current {
			log.Warn().Str("url", next).Msg("next link repeats the current page, stopping")
			break
		}
	}

	return saved, flush()
}
