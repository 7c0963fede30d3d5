// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "living-world-engine/pkg/errors"

	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
)

// WorldRepository 世界仓储实现
type WorldRepository struct {
	client *Client
}

// NewWorldRepository 创建世界仓储
func NewWorldRepository(client *Client) *WorldRepository {
	return &WorldRepository{client: client}
}

// Create 创建世界
func (r *WorldRepository) Create(ctx context.Context, world *entity.World) error {
	ctx, span := tracer.Start(ctx, "postgres.WorldRepository.Create")
	defer span.End()

	if world.ID == "" {
		world.ID = uuid.NewString()
	}

	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO worlds (id, name, status, current_time_tick, flags, evolution_interval_ms,
			last_evolution_at, last_validated_tick, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := q.QueryRowContext(ctx, query,
		world.ID, world.Name, world.Status, world.CurrentTime, world.Flags,
		world.EvolutionInterval.Milliseconds(), world.LastEvolutionAt,
		world.LastValidatedTime, world.Version,
	).Scan(&world.CreatedAt, &world.UpdatedAt)

	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create world: %w", err)
	}

	return nil
}

// GetByID 根据 ID 获取世界
func (r *WorldRepository) GetByID(ctx context.Context, id string) (*entity.World, error) {
	ctx, span := tracer.Start(ctx, "postgres.WorldRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT id, name, status, current_time_tick, flags, evolution_interval_ms,
			last_evolution_at, last_validated_tick, version, created_at, updated_at
		FROM worlds
		WHERE id = $1
	`

	return scanWorld(q.QueryRowContext(ctx, query, id))
}

// Update 更新世界并递增写版本号
func (r *WorldRepository) Update(ctx context.Context, world *entity.World) error {
	ctx, span := tracer.Start(ctx, "postgres.WorldRepository.Update")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		UPDATE worlds
		SET current_time_tick = $2, flags = $3, evolution_interval_ms = $4,
			last_evolution_at = $5, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status != 'archived'
		RETURNING version, updated_at
	`

	err := q.QueryRowContext(ctx, query,
		world.ID, world.CurrentTime, world.Flags,
		world.EvolutionInterval.Milliseconds(), world.LastEvolutionAt,
	).Scan(&world.Version, &world.UpdatedAt)

	if err == sql.ErrNoRows {
		return apperrors.ErrWorldArchived
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update world: %w", err)
	}

	return nil
}

// UpdateStatus 状态机转移，带前置状态校验
func (r *WorldRepository) UpdateStatus(ctx context.Context, id string, from, to entity.WorldStatus) error {
	ctx, span := tracer.Start(ctx, "postgres.WorldRepository.UpdateStatus")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		UPDATE worlds
		SET status = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := q.ExecContext(ctx, query, id, from, to)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update world status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.ErrInvalidTransition.WithDetail(
			fmt.Sprintf("world %s is not in status %s", id, from))
	}

	return nil
}

// SetFlags 覆盖世界标记
func (r *WorldRepository) SetFlags(ctx context.Context, id string, flags entity.AttributeMap) error {
	ctx, span := tracer.Start(ctx, "postgres.WorldRepository.SetFlags")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		UPDATE worlds
		SET flags = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status != 'archived'
	`

	result, err := q.ExecContext(ctx, query, id, flags)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set world flags: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.ErrWorldArchived
	}

	return nil
}

// List 分页列出世界
func (r *WorldRepository) List(ctx context.Context, pagination repository.Pagination) (*repository.PagedResult[*entity.World], error) {
	ctx, span := tracer.Start(ctx, "postgres.WorldRepository.List")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM worlds`).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count worlds: %w", err)
	}

	query := `
		SELECT id, name, status, current_time_tick, flags, evolution_interval_ms,
			last_evolution_at, last_validated_tick, version, created_at, updated_at
		FROM worlds
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := q.QueryContext(ctx, query, pagination.Limit(), pagination.Offset())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list worlds: %w", err)
	}
	defer rows.Close()

	var worlds []*entity.World
	for rows.Next() {
		world, err := scanWorldFromRows(rows)
		if err != nil {
			return nil, err
		}
		worlds = append(worlds, world)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return repository.NewPagedResult(worlds, total, pagination), nil
}

// ListDueForEvolution 列出到期需要演化的活跃世界
func (r *WorldRepository) ListDueForEvolution(ctx context.Context, now time.Time, limit int) ([]*entity.World, error) {
	ctx, span := tracer.Start(ctx, "postgres.WorldRepository.ListDueForEvolution")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT id, name, status, current_time_tick, flags, evolution_interval_ms,
			last_evolution_at, last_validated_tick, version, created_at, updated_at
		FROM worlds
		WHERE status = 'active'
			AND last_evolution_at + (evolution_interval_ms * interval '1 millisecond') <= $1
		ORDER BY last_evolution_at ASC
		LIMIT $2
	`

	rows, err := q.QueryContext(ctx, query, now, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list due worlds: %w", err)
	}
	defer rows.Close()

	var worlds []*entity.World
	for rows.Next() {
		world, err := scanWorldFromRows(rows)
		if err != nil {
			return nil, err
		}
		worlds = append(worlds, world)
	}
	return worlds, rows.Err()
}

// SetLastValidated 记录一致性校验通过的检查点
func (r *WorldRepository) SetLastValidated(ctx context.Context, id string, worldTime int64) error {
	ctx, span := tracer.Start(ctx, "postgres.WorldRepository.SetLastValidated")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	_, err := q.ExecContext(ctx,
		`UPDATE worlds SET last_validated_tick = $2, updated_at = NOW() WHERE id = $1`,
		id, worldTime,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set last validated tick: %w", err)
	}
	return nil
}

// scanWorld 扫描单行世界
func scanWorld(row *sql.Row) (*entity.World, error) {
	var world entity.World
	var intervalMs int64

	err := row.Scan(
		&world.ID, &world.Name, &world.Status, &world.CurrentTime, &world.Flags,
		&intervalMs, &world.LastEvolutionAt, &world.LastValidatedTime,
		&world.Version, &world.CreatedAt, &world.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrWorldNotFound
		}
		return nil, fmt.Errorf("failed to scan world: %w", err)
	}

	world.EvolutionInterval = time.Duration(intervalMs) * time.Millisecond
	return &world, nil
}

// scanWorldFromRows 扫描多行结果中的一行
func scanWorldFromRows(rows *sql.Rows) (*entity.World, error) {
	var world entity.World
	var intervalMs int64

	err := rows.Scan(
		&world.ID, &world.Name, &world.Status, &world.CurrentTime, &world.Flags,
		&intervalMs, &world.LastEvolutionAt, &world.LastValidatedTime,
		&world.Version, &world.CreatedAt, &world.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan world: %w", err)
	}

	world.EvolutionInterval = time.Duration(intervalMs) * time.Millisecond
	return &world, nil
}
