// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "living-world-engine/pkg/errors"

	"living-world-engine/internal/domain/entity"
)

// TimelineRepository 时间轴仓储实现
type TimelineRepository struct {
	client *Client
}

// NewTimelineRepository 创建时间轴仓储
func NewTimelineRepository(client *Client) *TimelineRepository {
	return &TimelineRepository{client: client}
}

// Create 创建时间轴；entity_id 唯一约束冲突映射为 DuplicateTimeline
func (r *TimelineRepository) Create(ctx context.Context, timeline *entity.Timeline) error {
	ctx, span := tracer.Start(ctx, "postgres.TimelineRepository.Create")
	defer span.End()

	if timeline.ID == "" {
		timeline.ID = uuid.NewString()
	}

	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO timelines (id, world_id, entity_id, entity_kind, last_world_time, last_seq,
			event_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := q.QueryRowContext(ctx, query,
		timeline.ID, timeline.WorldID, timeline.EntityID, timeline.EntityKind,
		timeline.LastKey.WorldTime, timeline.LastKey.Seq, timeline.EventCount,
	).Scan(&timeline.CreatedAt, &timeline.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.ErrDuplicateTimeline.WithDetail(
				fmt.Sprintf("entity %s already has a timeline", timeline.EntityID))
		}
		span.RecordError(err)
		return fmt.Errorf("failed to create timeline: %w", err)
	}

	return nil
}

// GetByID 根据 ID 获取时间轴
func (r *TimelineRepository) GetByID(ctx context.Context, id string) (*entity.Timeline, error) {
	ctx, span := tracer.Start(ctx, "postgres.TimelineRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT id, world_id, entity_id, entity_kind, last_world_time, last_seq,
			event_count, created_at, updated_at
		FROM timelines
		WHERE id = $1
	`

	return scanTimeline(q.QueryRowContext(ctx, query, id))
}

// GetByEntity 根据实体 ID 获取时间轴
func (r *TimelineRepository) GetByEntity(ctx context.Context, entityID string) (*entity.Timeline, error) {
	ctx, span := tracer.Start(ctx, "postgres.TimelineRepository.GetByEntity")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT id, world_id, entity_id, entity_kind, last_world_time, last_seq,
			event_count, created_at, updated_at
		FROM timelines
		WHERE entity_id = $1
	`

	return scanTimeline(q.QueryRowContext(ctx, query, entityID))
}

// ListByWorld 列出世界内全部时间轴
func (r *TimelineRepository) ListByWorld(ctx context.Context, worldID string) ([]*entity.Timeline, error) {
	ctx, span := tracer.Start(ctx, "postgres.TimelineRepository.ListByWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT id, world_id, entity_id, entity_kind, last_world_time, last_seq,
			event_count, created_at, updated_at
		FROM timelines
		WHERE world_id = $1
		ORDER BY entity_id ASC
	`

	rows, err := q.QueryContext(ctx, query, worldID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list timelines: %w", err)
	}
	defer rows.Close()

	var timelines []*entity.Timeline
	for rows.Next() {
		var tl entity.Timeline
		err := rows.Scan(
			&tl.ID, &tl.WorldID, &tl.EntityID, &tl.EntityKind,
			&tl.LastKey.WorldTime, &tl.LastKey.Seq, &tl.EventCount,
			&tl.CreatedAt, &tl.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timeline: %w", err)
		}
		timelines = append(timelines, &tl)
	}
	return timelines, rows.Err()
}

// AdvanceCursor 推进尾部排序键；WHERE 条件保证只允许单调前进
func (r *TimelineRepository) AdvanceCursor(ctx context.Context, id string, key entity.OrderKey, appended int64) error {
	ctx, span := tracer.Start(ctx, "postgres.TimelineRepository.AdvanceCursor")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		UPDATE timelines
		SET last_world_time = $2, last_seq = $3, event_count = event_count + $4, updated_at = NOW()
		WHERE id = $1 AND (last_world_time, last_seq) < ($2, $3)
	`

	result, err := q.ExecContext(ctx, query, id, key.WorldTime, key.Seq, appended)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to advance timeline cursor: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.ErrOutOfOrderEvent.WithDetail(
			fmt.Sprintf("cursor for timeline %s did not advance", id))
	}

	return nil
}

// DeleteByWorld 删除世界全部时间轴，导入覆盖前的清场操作
func (r *TimelineRepository) DeleteByWorld(ctx context.Context, worldID string) error {
	ctx, span := tracer.Start(ctx, "postgres.TimelineRepository.DeleteByWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)
	if _, err := q.ExecContext(ctx, `DELETE FROM timelines WHERE world_id = $1`, worldID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete timelines: %w", err)
	}
	return nil
}

// scanTimeline 扫描单行时间轴
func scanTimeline(row *sql.Row) (*entity.Timeline, error) {
	var tl entity.Timeline
	err := row.Scan(
		&tl.ID, &tl.WorldID, &tl.EntityID, &tl.EntityKind,
		&tl.LastKey.WorldTime, &tl.LastKey.Seq, &tl.EventCount,
		&tl.CreatedAt, &tl.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrTimelineNotFound
		}
		return nil, fmt.Errorf("failed to scan timeline: %w", err)
	}
	return &tl, nil
}
