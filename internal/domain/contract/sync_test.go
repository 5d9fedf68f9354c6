package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bundleJSON(total int, next string, contracts ...string) string {
	entries := make([]string, 0, len(contracts))
	for _, c := range contracts {
		entries = append(entries, `{"resource":`+c+`}`)
	}
	link := ""
	if next != "" {
		link = fmt.Sprintf(`"link":[{"relation":"next","url":%q}],`, next)
	}
	return fmt.Sprintf(`{"resourceType":"Bundle","type":"searchset","total":%d,%s"entry":[%s]}`,
		total, link, strings.Join(entries, ","))
}

func newTestSyncer(amg *fakeAMG, batch int) (*Syncer, *mockRepo, *mockStatusRepo) {
	repo := newMockRepo()
	status := &mockStatusRepo{}
	s := NewSyncer(amg, repo, status, SyncConfig{BatchSize: batch, PageSize: 2}, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s, repo, status
}

func TestSyncer_Run_PagesAndBatches(t *testing.T) {
	amg := &fakeAMG{pages: map[string]string{
		"page-1": bundleJSON(5, "https%3A%2F%2Famg.test%2Fpage-2",
			contractJSON("c1", "Group/G-1", "2024-01-01", "2025-12-31", "R1"),
			contractJSON("c2", "Patient/P-1", "2024-01-01", "2025-12-31", "R2")),
		"https://amg.test/page-2": bundleJSON(5, "page-3",
			contractJSON("c3", "Group/G-2", "2024-01-01", "2025-12-31", ""),
			contractJSON("c4", "Group/G-3", "2020-01-01", "2020-12-31", "R4")),
		"page-3": bundleJSON(5, "",
			contractJSON("c5", "Group/G-1", "2023-01-01", "2023-12-31", "R5")),
	}}
	s, repo, status := newTestSyncer(amg, 2)

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"page-1", "https://amg.test/page-2", "page-3"}, amg.fetched)
	assert.Equal(t, 5, res.TotalContractsProcessed)
	assert.Equal(t, 5, res.TotalContracts)
	assert.Equal(t, 3, res.PagesProcessed)
	assert.Equal(t, 4, res.ContractsSaved)
	assert.Equal(t, []int{3, 1}, repo.batches)

	assert.True(t, repo.rows["c1"].IsActive)
	assert.False(t, repo.rows["c3"].IsActive, "unpaid")
	assert.False(t, repo.rows["c4"].IsActive, "expired")
	_, patient := repo.rows["c2"]
	assert.False(t, patient)

	last, _ := status.Latest(context.Background())
	assert.Equal(t, SyncCompleted, last.Status)
	assert.Nil(t, last.Error)
	assert.Equal(t, 3, last.PagesProcessed)
	assert.NotEmpty(t, status.progress)
	assert.False(t, s.Running())
}

func TestSyncer_Run_PageErrorMarksFailed(t *testing.T) {
	amg := &fakeAMG{
		pages: map[string]string{
			"page-1": bundleJSON(4, "page-2", contractJSON("c1", "Group/G-1", "2024-01-01", "2025-12-31", "R1")),
		},
		errAt: map[string]error{"page-2": errors.New("502 bad gateway")},
	}
	s, repo, status := newTestSyncer(amg, 100)

	res, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract page 2")
	assert.Equal(t, 1, res.PagesProcessed)
	assert.Len(t, repo.rows, 1, "contracts read before the failure are kept")

	last, _ := status.Latest(context.Background())
	assert.Equal(t, SyncFailed, last.Status)
	require.NotNil(t, last.Error)
	assert.Contains(t, *last.Error, "502 bad gateway")
}

func TestSyncer_Run_LoginError(t *testing.T) {
	amg := &fakeAMG{loginErr: errors.New("invalid credentials")}
	s, _, status := newTestSyncer(amg, 10)

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, amg.fetched)

	last, _ := status.Latest(context.Background())
	assert.Equal(t, SyncFailed, last.Status)
}

func TestSyncer_Run_UpsertError(t *testing.T) {
	amg := &fakeAMG{pages: map[string]string{
		"page-1": bundleJSON(1, "", contractJSON("c1", "Group/G-1", "2024-01-01", "2025-12-31", "R1")),
	}}
	s, repo, status := newTestSyncer(amg, 10)
	repo.failNext = errors.New("disk full")

	_, err := s.Run(context.Background())
	require.Error(t, err)
	last, _ := status.Latest(context.Background())
	assert.Equal(t, SyncFailed, last.Status)
}

func TestSyncer_Run_StopsOnRepeatedNextLink(t *testing.T) {
	amg := &fakeAMG{pages: map[string]string{
		"page-1": bundleJSON(1, "page-1", contractJSON("c1", "Group/G-1", "2024-01-01", "2025-12-31", "R1")),
	}}
	s, _, _ := newTestSyncer(amg, 10)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.PagesProcessed)
}

func TestSyncer_Start_RejectsConcurrentRun(t *testing.T) {
	amg := &fakeAMG{
		block: make(chan struct{}),
		pages: map[string]string{"page-1": bundleJSON(0, "")},
	}
	s, _, status := newTestSyncer(amg, 10)

	run, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncInProgress, run.Status)

	_, err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(amg.block)
	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 10*time.Millisecond)

	last, _ := status.Latest(context.Background())
	assert.Equal(t, SyncCompleted, last.Status)
	assert.Equal(t, run.ID, last.ID)
}

func TestSyncer_NeedsSync(t *testing.T) {
	ctx := context.Background()
	s, repo, status := newTestSyncer(&fakeAMG{}, 10)

	need, err := s.NeedsSync(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, need, "empty cache")

	repo.rows["c1"] = &CachedContract{ID: "c1", GroupID: "G"}
	need, _ = s.NeedsSync(ctx, 24*time.Hour)
	assert.True(t, need, "no run recorded")

	run, _ := status.StartRun(ctx)
	need, _ = s.NeedsSync(ctx, 24*time.Hour)
	assert.False(t, need, "run in progress")

	_ = status.FinishRun(ctx, run.ID, SyncFailed, SyncProgress{}, nil)
	need, _ = s.NeedsSync(ctx, 24*time.Hour)
	assert.True(t, need, "last run failed")

	run, _ = status.StartRun(ctx)
	_ = status.FinishRun(ctx, run.ID, SyncCompleted, SyncProgress{}, nil)
	s.now = time.Now
	need, _ = s.NeedsSync(ctx, 24*time.Hour)
	assert.False(t, need, "fresh run")

	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	need, _ = s.NeedsSync(ctx, 24*time.Hour)
	assert.True(t, need, "stale run")
}

func TestSyncer_StartIfStale(t *testing.T) {
	ctx := context.Background()
	amg := &fakeAMG{pages: map[string]string{
		"page-1": bundleJSON(1, "", contractJSON("c1", "Group/G-1", "2024-01-01", "2025-12-31", "R1")),
	}}
	s, repo, _ := newTestSyncer(amg, 10)

	run, err := s.StartIfStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, run, "empty cache triggers a run")

	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 10*time.Millisecond)
	n, _ := repo.Count(ctx)
	assert.Equal(t, 1, n)

	s.now = time.Now
	run, err = s.StartIfStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, run, "fresh cache")
}
