package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amgpay/portal/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// -- amg_contracts --

type contractRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &contractRepoPG{pool: pool}
}

func (r *contractRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const contractCols = `id, group_id, contract_data, period_start, period_end,
	has_payment, is_active, last_updated`

const upsertContractSQL = `
	INSERT INTO amg_contracts (` + contractCols + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (id) DO UPDATE SET
		group_id = EXCLUDED.group_id,
		contract_data = EXCLUDED.contract_data,
		period_start = EXCLUDED.period_start,
		period_end = EXCLUDED.period_end,
		has_payment = EXCLUDED.has_payment,
		is_active = EXCLUDED.is_active,
		last_updated = EXCLUDED.last_updated`

func (r *contractRepoPG) UpsertBatch(ctx context.Context, contracts []*CachedContract) error {
	if len(contracts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range contracts {
		batch.Queue(upsertContractSQL,
			c.ID, c.GroupID, []byte(c.Data), c.PeriodStart, c.PeriodEnd,
			c.HasPayment, c.IsActive, c.LastUpdated)
	}

	br := r.conn(ctx).SendBatch(ctx, batch)
	for i := range contracts {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert contract %s: %w", contracts[i].ID, err)
		}
	}
	return br.Close()
}

func (r *contractRepoPG) FindLatestByGroup(ctx context.Context, groupID string) (*CachedContract, error) {
	var c CachedContract
	var data []byte
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+contractCols+` FROM amg_contracts
		WHERE group_id = $1
		ORDER BY is_active DESC, period_end DESC NULLS LAST, last_updated DESC
		LIMIT 1`, groupID).
		Scan(&c.ID, &c.GroupID, &data, &c.PeriodStart, &c.PeriodEnd,
			&c.HasPayment, &c.IsActive, &c.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Data = data
	return &c, nil
}

func (r *contractRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM amg_contracts`).Scan(&n)
	return n, err
}

// -- amg_sync_status --

type syncStatusRepoPG struct{ pool *pgxpool.Pool }

func NewSyncStatusRepoPG(pool *pgxpool.Pool) SyncStatusRepository {
	return &syncStatusRepoPG{pool: pool}
}

func (r *syncStatusRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const syncCols = `id, status, sync_started_at, sync_completed_at,
	total_contracts, contracts_synced, pages_processed, error`

func (r *syncStatusRepoPG) StartRun(ctx context.Context) (*SyncRun, error) {
	run := &SyncRun{
		ID:        uuid.New(),
		Status:    SyncInProgress,
		StartedAt: time.Now().UTC(),
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO amg_sync_status (id, status, sync_started_at)
		VALUES ($1,$2,$3)`,
		run.ID, run.Status, run.StartedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *syncStatusRepoPG) UpdateProgress(ctx context.Context, id uuid.UUID, p SyncProgress) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE amg_sync_status SET total_contracts=$2, contracts_synced=$3, pages_processed=$4
		WHERE id = $1`,
		id, p.TotalContracts, p.ContractsSynced, p.PagesProcessed)
	return err
}

func (r *syncStatusRepoPG) FinishRun(ctx context.Context, id uuid.UUID, status string, p SyncProgress, errText *string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE amg_sync_status SET status=$2, sync_completed_at=NOW(),
			total_contracts=$3, contracts_synced=$4, pages_processed=$5, error=$6
		WHERE id = $1`,
		id, status, p.TotalContracts, p.ContractsSynced, p.PagesProcessed, errText)
	return err
}

func (r *syncStatusRepoPG) Latest(ctx context.Context) (*SyncRun, error) {
	var run SyncRun
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+syncCols+` FROM amg_sync_status
		ORDER BY sync_started_at DESC, created_at DESC LIMIT 1`).
		Scan(&run.ID, &run.Status, &run.StartedAt, &run.CompletedAt,
			&run.TotalContracts, &run.ContractsSynced, &run.PagesProcessed, &run.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
