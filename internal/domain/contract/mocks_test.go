package contract

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amgpay/portal/internal/platform/fhir"
)

type mockRepo struct {
	mu       sync.Mutex
	rows     map[string]*CachedContract
	batches  []int
	failNext error
}

func newMockRepo() *mockRepo {
	return &mockRepo{rows: make(map[string]*CachedContract)}
}

func (m *mockRepo) UpsertBatch(ctx context.Context, contracts []*CachedContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.batches = append(m.batches, len(contracts))
	for _, c := range contracts {
		cp := *c
		m.rows[c.ID] = &cp
	}
	return nil
}

func (m *mockRepo) FindLatestByGroup(ctx context.Context, groupID string) (*CachedContract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []*CachedContract
	for _, c := range m.rows {
		if c.GroupID == groupID {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].IsActive != matches[j].IsActive {
			return matches[i].IsActive
		}
		return matches[i].ID < matches[j].ID
	})
	return matches[0], nil
}

func (m *mockRepo) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows), nil
}

type mockStatusRepo struct {
	mu       sync.Mutex
	runs     []*SyncRun
	progress []SyncProgress
}

func (m *mockStatusRepo) StartRun(ctx context.Context) (*SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &SyncRun{ID: uuid.New(), Status: SyncInProgress, StartedAt: time.Now()}
	m.runs = append(m.runs, run)
	cp := *run
	return &cp, nil
}

func (m *mockStatusRepo) find(id uuid.UUID) *SyncRun {
	for _, r := range m.runs {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *mockStatusRepo) UpdateProgress(ctx context.Context, id uuid.UUID, p SyncProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, p)
	run := m.find(id)
	if run == nil {
		return errors.New("unknown run")
	}
	run.TotalContracts, run.ContractsSynced, run.PagesProcessed = p.TotalContracts, p.ContractsSynced, p.PagesProcessed
	return nil
}

func (m *mockStatusRepo) FinishRun(ctx context.Context, id uuid.UUID, status string, p SyncProgress, errText *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.find(id)
	if run == nil {
		return errors.New("unknown run")
	}
	done := time.Now()
	run.Status = status
	run.CompletedAt = &done
	run.TotalContracts, run.ContractsSynced, run.PagesProcessed = p.TotalContracts, p.ContractsSynced, p.PagesProcessed
	run.Error = errText
	return nil
}

func (m *mockStatusRepo) Latest(ctx context.Context) (*SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return nil, nil
	}
	cp := *m.runs[len(m.runs)-1]
	return &cp, nil
}

// fakeAMG serves contract pages keyed by URL.
type fakeAMG struct {
	mu       sync.Mutex
	pages    map[string]string
	errAt    map[string]error
	loginErr error
	fetched  []string
	block    chan struct{}
}

func (f *fakeAMG) Login(ctx context.Context) (string, error) {
	if f.block != nil {
		<-f.block
	}
	return "tok", f.loginErr
}

func (f *fakeAMG) ContractPageURL(count int) string {
	return "page-1"
}

func (f *fakeAMG) ContractPage(ctx context.Context, token, pageURL string) (*fhir.Bundle, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, pageURL)
	f.mu.Unlock()
	if err := f.errAt[pageURL]; err != nil {
		return nil, err
	}
	body, ok := f.pages[pageURL]
	if !ok {
		return nil, errors.New("unexpected page " + pageURL)
	}
	return fhir.ParseBundle([]byte(body))
}
