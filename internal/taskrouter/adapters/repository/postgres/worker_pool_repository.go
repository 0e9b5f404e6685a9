package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskrouterx/taskrouterx/internal/platform/database"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/repository"
)

// WorkerPoolRepository implements repository.WorkerPoolRepository on
// PostgreSQL. Pools are seeded once at startup; only
// current_load mutates afterward, via TaskRepository.Claim/Release.
type WorkerPoolRepository struct {
	db *database.DB
}

// NewWorkerPoolRepository constructs a WorkerPoolRepository.
func NewWorkerPoolRepository(db *database.DB) repository.WorkerPoolRepository {
	return &WorkerPoolRepository{db: db}
}

func (r *WorkerPoolRepository) Save(ctx context.Context, pool *model.WorkerPool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO taskrouter_worker_pools (name, region, resource_type, cost_per_unit, capacity, current_load)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			region = EXCLUDED.region,
			resource_type = EXCLUDED.resource_type,
			cost_per_unit = EXCLUDED.cost_per_unit,
			capacity = EXCLUDED.capacity`,
		pool.Name, string(pool.Region), string(pool.ResourceType), pool.CostPerUnit, pool.Capacity, pool.CurrentLoad)
	if err != nil {
		return fmt.Errorf("save worker pool: %w", err)
	}
	return nil
}

func (r *WorkerPoolRepository) FindByName(ctx context.Context, name string) (*model.WorkerPool, error) {
	var pool model.WorkerPool
	var region, resourceType string
	err := r.db.QueryRowContext(ctx, `
		SELECT name, region, resource_type, cost_per_unit, capacity, current_load
		FROM taskrouter_worker_pools WHERE name = $1`, name).Scan(
		&pool.Name, &region, &resourceType, &pool.CostPerUnit, &pool.Capacity, &pool.CurrentLoad)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrPoolNotFound
		}
		return nil, fmt.Errorf("find worker pool: %w", err)
	}
	pool.Region = model.Region(region)
	pool.ResourceType = model.ResourceType(resourceType)
	return &pool, nil
}

func (r *WorkerPoolRepository) Snapshot(ctx context.Context) ([]*model.WorkerPool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, region, resource_type, cost_per_unit, capacity, current_load
		FROM taskrouter_worker_pools ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("snapshot worker pools: %w", err)
	}
	defer rows.Close()

	var pools []*model.WorkerPool
	for rows.Next() {
		var pool model.WorkerPool
		var region, resourceType string
		if err := rows.Scan(&pool.Name, &region, &resourceType, &pool.CostPerUnit, &pool.Capacity, &pool.CurrentLoad); err != nil {
			return nil, fmt.Errorf("scan worker pool: %w", err)
		}
		pool.Region = model.Region(region)
		pool.ResourceType = model.ResourceType(resourceType)
		pools = append(pools, &pool)
	}
	return pools, nil
}

// ZeroAllLoads resets every pool's current_load to zero. Paired with
// TaskRepository.ResetOrphans at boot when a crash is suspected to have
// left stale claims behind.
func (r *WorkerPoolRepository) ZeroAllLoads(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `UPDATE taskrouter_worker_pools SET current_load = 0`)
	if err != nil {
		return fmt.Errorf("zero worker pool loads: %w", err)
	}
	return nil
}
