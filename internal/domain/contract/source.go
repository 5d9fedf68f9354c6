package contract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/amgpay/portal/internal/domain/coverage"
	"github.com/amgpay/portal/internal/platform/fhir"
)

// CachedSource reads the contract table filled by the sync job.
type CachedSource struct {
	repo Repository
}

func NewCachedSource(repo Repository) *CachedSource {
	return &CachedSource{repo: repo}
}

func (s *CachedSource) Source() coverage.Source { return coverage.SourceCachedContract }

func (s *CachedSource) Lookup(ctx context.Context, sub coverage.Subject) (*coverage.Policy, error) {
	if sub.GroupID == "" {
		return nil, nil
	}
	row, err := s.repo.FindLatestByGroup(ctx, sub.GroupID)
	if err != nil {
		return nil, fmt.Errorf("cached contract for group %s: %w", sub.GroupID, err)
	}
	if row == nil {
		return nil, nil
	}
	var c fhir.Contract
	if err := fhir.Unmarshal(row.Data, &c); err != nil {
		return nil, fmt.Errorf("decode cached contract %s: %w", row.ID, err)
	}
	return ToPolicy(coverage.SourceCachedContract, &c), nil
}

// PageFetcher is satisfied by *upstream.Client.
type PageFetcher interface {
	ContractPageURL(count int) string
	ContractPage(ctx context.Context, token, pageURL string) (*fhir.Bundle, error)
}

// ScanSource walks the most recently updated contracts upstream looking for
// a paid, in-period contract of the subject's group. It reads at most
// maxPages pages and is disabled when maxPages is 0.
type ScanSource struct {
	client   PageFetcher
	maxPages int
	pageSize int
	now      func() time.Time
	logger   zerolog.Logger
}

func NewScanSource(client PageFetcher, maxPages, pageSize int, logger zerolog.Logger) *ScanSource {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &ScanSource{
		client:   client,
		maxPages: maxPages,
		pageSize: pageSize,
		now:      time.Now,
		logger:   logger.With().Str("component", "contract-scan").Logger(),
	}
}

func (s *ScanSource) Source() coverage.Source { return coverage.SourceFHIRContract }

func (s *ScanSource) Lookup(ctx context.Context, sub coverage.Subject) (*coverage.Policy, error) {
	if s.maxPages <= 0 || sub.GroupID == "" {
		return nil, nil
	}

	now := s.now()
	next := s.client.ContractPageURL(s.pageSize)
	scanned := 0
	for page := 1; next != "" && page <= s.maxPages; page++ {
		bundle, err := s.client.ContractPage(ctx, sub.Token, next)
		if err != nil {
			return nil, fmt.Errorf("contract page %d: %w", page, err)
		}
		contracts, err := bundle.Contracts()
		if err != nil {
			return nil, fmt.Errorf("decode contract page %d: %w", page, err)
		}
		scanned += len(contracts)
		for _, c := range contracts {
			if !strings.Contains(c.SubjectReference(), sub.GroupID) {
				continue
			}
			ev, ok := Evaluate(c, now)
			if !ok || !ev.IsActive() {
				continue
			}
			s.logger.Debug().Str("group_id", sub.GroupID).Str("contract_id", c.ID).
				Int("page", page).Msg("active contract found")
			return ToPolicy(coverage.SourceFHIRContract, c), nil
		}
		next = bundle.NextURL()
	}

	s.logger.Debug().Str("group_id", sub.GroupID).Int("scanned", scanned).
		Msg("no active contract in scanned pages")
	return nil, nil
}
