// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	apperrors "living-world-engine/pkg/errors"

	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
)

// EventRepository 事件仓储实现。
// 时间轴内的 FOLLOWS 链即 (world_time, seq) 键集；跨实体全序追加
// insert_seq 自增列作为最终平局裁决。
type EventRepository struct {
	client *Client
}

// NewEventRepository 创建事件仓储
func NewEventRepository(client *Client) *EventRepository {
	return &EventRepository{client: client}
}

const eventColumns = `
	id, timeline_id, world_id, entity_id, event_type, description, participants,
	location_id, world_time, seq, consequence_refs, emotional_impact, significance,
	payload, created_at`

// Append 追加单个事件
func (r *EventRepository) Append(ctx context.Context, event *entity.TimelineEvent) error {
	ctx, span := tracer.Start(ctx, "postgres.EventRepository.Append")
	defer span.End()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO timeline_events (id, timeline_id, world_id, entity_id, event_type,
			description, participants, location_id, world_time, seq, consequence_refs,
			emotional_impact, significance, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		RETURNING created_at
	`

	var locationID sql.NullString
	if event.LocationID != "" {
		locationID = sql.NullString{String: event.LocationID, Valid: true}
	}

	err := q.QueryRowContext(ctx, query,
		event.ID, event.TimelineID, event.WorldID, event.EntityID, event.EventType,
		event.Description, event.Participants, locationID, event.WorldTime, event.Seq,
		event.ConsequenceRefs, event.EmotionalImpact, event.Significance, event.Payload,
	).Scan(&event.CreatedAt)

	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// AppendBatch 批量追加；调用方负责置于事务中
func (r *EventRepository) AppendBatch(ctx context.Context, events []*entity.TimelineEvent) error {
	ctx, span := tracer.Start(ctx, "postgres.EventRepository.AppendBatch")
	defer span.End()

	for _, event := range events {
		if err := r.Append(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// GetByID 根据 ID 获取事件
func (r *EventRepository) GetByID(ctx context.Context, id string) (*entity.TimelineEvent, error) {
	ctx, span := tracer.Start(ctx, "postgres.EventRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `SELECT ` + eventColumns + ` FROM timeline_events WHERE id = $1`

	return scanEvent(q.QueryRowContext(ctx, query, id))
}

// ListByTimeline 按 (world_time, seq) 升序游标遍历
func (r *EventRepository) ListByTimeline(ctx context.Context, timelineID string, cursor repository.EventCursor) ([]*entity.TimelineEvent, error) {
	ctx, span := tracer.Start(ctx, "postgres.EventRepository.ListByTimeline")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT ` + eventColumns + `
		FROM timeline_events
		WHERE timeline_id = $1 AND (world_time, seq) > ($2, $3)
		ORDER BY world_time ASC, seq ASC
		LIMIT $4
	`

	rows, err := q.QueryContext(ctx, query, timelineID,
		cursor.After.WorldTime, cursor.After.Seq, cursor.Limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list timeline events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListByTimeRange 按逻辑时间区间查询
func (r *EventRepository) ListByTimeRange(ctx context.Context, timelineID string, startTime, endTime int64, cursor repository.EventCursor) ([]*entity.TimelineEvent, error) {
	ctx, span := tracer.Start(ctx, "postgres.EventRepository.ListByTimeRange")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT ` + eventColumns + `
		FROM timeline_events
		WHERE timeline_id = $1 AND world_time >= $2 AND world_time <= $3
			AND (world_time, seq) > ($4, $5)
		ORDER BY world_time ASC, seq ASC
		LIMIT $6
	`

	rows, err := q.QueryContext(ctx, query, timelineID, startTime, endTime,
		cursor.After.WorldTime, cursor.After.Seq, cursor.Limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list events by time range: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListByWorld 世界级全序遍历。
// 同一逻辑时间点的平局先按实体 ID、再按轴内序号裁决；seq 在
// (world_time, entity_id) 内随插入单调递增，因此该序与插入序一致，
// 且游标位置可以精确恢复。过滤条件必须是完整三元组的行比较，
// 只比 world_time 会在页界漏掉同一时间点其余时间轴的事件。
func (r *EventRepository) ListByWorld(ctx context.Context, worldID string, cursor repository.EventCursor) ([]*entity.TimelineEvent, error) {
	ctx, span := tracer.Start(ctx, "postgres.EventRepository.ListByWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT ` + eventColumns + `
		FROM timeline_events
		WHERE world_id = $1 AND (world_time, entity_id, seq) > ($2, $3, $4)
		ORDER BY world_time ASC, entity_id ASC, seq ASC
		LIMIT $5
	`

	rows, err := q.QueryContext(ctx, query, worldID,
		cursor.After.WorldTime, cursor.AfterEntity, cursor.After.Seq, cursor.Limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list world events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// CountByTimeline 统计时间轴事件数
func (r *EventRepository) CountByTimeline(ctx context.Context, timelineID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.EventRepository.CountByTimeline")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	var count int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM timeline_events WHERE timeline_id = $1`, timelineID,
	).Scan(&count)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count timeline events: %w", err)
	}
	return count, nil
}

// CountByWorld 统计世界事件数
func (r *EventRepository) CountByWorld(ctx context.Context, worldID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.EventRepository.CountByWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	var count int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM timeline_events WHERE world_id = $1`, worldID,
	).Scan(&count)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count world events: %w", err)
	}
	return count, nil
}

// CountByTypeForWorld 按类型统计世界事件数
func (r *EventRepository) CountByTypeForWorld(ctx context.Context, worldID string) (map[string]int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.EventRepository.CountByTypeForWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	rows, err := q.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM timeline_events WHERE world_id = $1 GROUP BY event_type`,
		worldID,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count events by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}

// DeleteByWorld 删除世界全部事件（仅供导入覆盖使用）
func (r *EventRepository) DeleteByWorld(ctx context.Context, worldID string) error {
	ctx, span := tracer.Start(ctx, "postgres.EventRepository.DeleteByWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	_, err := q.ExecContext(ctx, `DELETE FROM timeline_events WHERE world_id = $1`, worldID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete world events: %w", err)
	}
	return nil
}

// scanEvent 扫描单行事件
func scanEvent(row *sql.Row) (*entity.TimelineEvent, error) {
	var event entity.TimelineEvent
	var locationID sql.NullString

	err := row.Scan(
		&event.ID, &event.TimelineID, &event.WorldID, &event.EntityID, &event.EventType,
		&event.Description, &event.Participants, &locationID, &event.WorldTime, &event.Seq,
		&event.ConsequenceRefs, &event.EmotionalImpact, &event.Significance,
		&event.Payload, &event.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound.WithDetail("event not found")
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.LocationID = locationID.String
	return &event, nil
}

// collectEvents 收集多行事件
func collectEvents(rows *sql.Rows) ([]*entity.TimelineEvent, error) {
	var events []*entity.TimelineEvent
	for rows.Next() {
		var event entity.TimelineEvent
		var locationID sql.NullString

		err := rows.Scan(
			&event.ID, &event.TimelineID, &event.WorldID, &event.EntityID, &event.EventType,
			&event.Description, &event.Participants, &locationID, &event.WorldTime, &event.Seq,
			&event.ConsequenceRefs, &event.EmotionalImpact, &event.Significance,
			&event.Payload, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.LocationID = locationID.String
		events = append(events, &event)
	}
	return events, rows.Err()
}
