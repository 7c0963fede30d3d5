// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "living-world-engine/pkg/errors"

	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
)

// EntityRepository 世界实体仓储实现。
// 派生状态按 kind 序列化进单个 derived JSONB 列，读取时还原到对应载荷。
type EntityRepository struct {
	client *Client
}

// NewEntityRepository 创建实体仓储
func NewEntityRepository(client *Client) *EntityRepository {
	return &EntityRepository{client: client}
}

// Create 创建实体
func (r *EntityRepository) Create(ctx context.Context, e *entity.WorldEntity) error {
	ctx, span := tracer.Start(ctx, "postgres.EntityRepository.Create")
	defer span.End()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if !e.Kind.Valid() {
		return apperrors.ErrInvalidParam.WithDetail(
			fmt.Sprintf("unknown entity kind %q", e.Kind))
	}

	derived, err := marshalDerived(e)
	if err != nil {
		return err
	}

	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO world_entities (id, world_id, kind, name, timeline_id,
			last_world_time, last_seq, derived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	var timelineID sql.NullString
	if e.TimelineID != "" {
		timelineID = sql.NullString{String: e.TimelineID, Valid: true}
	}

	err = q.QueryRowContext(ctx, query,
		e.ID, e.WorldID, e.Kind, e.Name, timelineID,
		e.LastApplied.WorldTime, e.LastApplied.Seq, derived,
	).Scan(&e.CreatedAt, &e.UpdatedAt)

	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create entity: %w", err)
	}

	return nil
}

// GetByID 根据 ID 获取实体
func (r *EntityRepository) GetByID(ctx context.Context, id string) (*entity.WorldEntity, error) {
	ctx, span := tracer.Start(ctx, "postgres.EntityRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT id, world_id, kind, name, timeline_id, last_world_time, last_seq,
			derived, created_at, updated_at
		FROM world_entities
		WHERE id = $1
	`

	return scanWorldEntity(q.QueryRowContext(ctx, query, id))
}

// UpdateDerived 更新派生状态与 last_applied 游标。
// WHERE 条件保证游标单调前进，并发回放不会把状态写回到过去。
func (r *EntityRepository) UpdateDerived(ctx context.Context, e *entity.WorldEntity) error {
	ctx, span := tracer.Start(ctx, "postgres.EntityRepository.UpdateDerived")
	defer span.End()

	derived, err := marshalDerived(e)
	if err != nil {
		return err
	}

	q := getQuerier(ctx, r.client.db)

	query := `
		UPDATE world_entities
		SET derived = $2, last_world_time = $3, last_seq = $4, updated_at = NOW()
		WHERE id = $1 AND (last_world_time, last_seq) <= ($3, $4)
	`

	result, err := q.ExecContext(ctx, query,
		e.ID, derived, e.LastApplied.WorldTime, e.LastApplied.Seq)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update derived state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.ErrOutOfOrderEvent.WithDetail(
			fmt.Sprintf("derived cursor for entity %s did not advance", e.ID))
	}

	return nil
}

// ListByWorld 分页列出世界实体
func (r *EntityRepository) ListByWorld(ctx context.Context, worldID string, filter *repository.EntityFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.WorldEntity], error) {
	ctx, span := tracer.Start(ctx, "postgres.EntityRepository.ListByWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	where := `WHERE world_id = $1`
	args := []interface{}{worldID}
	if filter != nil {
		if filter.Kind != "" {
			args = append(args, filter.Kind)
			where += fmt.Sprintf(" AND kind = $%d", len(args))
		}
		if filter.Name != "" {
			args = append(args, "%"+filter.Name+"%")
			where += fmt.Sprintf(" AND name ILIKE $%d", len(args))
		}
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM world_entities ` + where
	if err := q.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}

	args = append(args, pagination.Limit(), pagination.Offset())
	query := fmt.Sprintf(`
		SELECT id, world_id, kind, name, timeline_id, last_world_time, last_seq,
			derived, created_at, updated_at
		FROM world_entities
		%s
		ORDER BY created_at ASC, id ASC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	entities, err := collectWorldEntities(rows)
	if err != nil {
		return nil, err
	}

	return repository.NewPagedResult(entities, total, pagination), nil
}

// ListAllByWorld 列出世界全部实体（导出/修复用）
func (r *EntityRepository) ListAllByWorld(ctx context.Context, worldID string) ([]*entity.WorldEntity, error) {
	ctx, span := tracer.Start(ctx, "postgres.EntityRepository.ListAllByWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT id, world_id, kind, name, timeline_id, last_world_time, last_seq,
			derived, created_at, updated_at
		FROM world_entities
		WHERE world_id = $1
		ORDER BY id ASC
	`

	rows, err := q.QueryContext(ctx, query, worldID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list all entities: %w", err)
	}
	defer rows.Close()

	return collectWorldEntities(rows)
}

// CountByKind 按种类统计世界实体数
func (r *EntityRepository) CountByKind(ctx context.Context, worldID string) (map[string]int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.EntityRepository.CountByKind")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	rows, err := q.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM world_entities WHERE world_id = $1 GROUP BY kind`,
		worldID,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count entities by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}

// ExistingIDs 返回给定 ID 中确实存在于该世界的子集
func (r *EntityRepository) ExistingIDs(ctx context.Context, worldID string, ids []string) (map[string]bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.EntityRepository.ExistingIDs")
	defer span.End()

	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	q := getQuerier(ctx, r.client.db)

	rows, err := q.QueryContext(ctx,
		`SELECT id FROM world_entities WHERE world_id = $1 AND id = ANY($2)`,
		worldID, pq.Array(ids),
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to check entity ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// DeleteByWorld 删除世界全部实体（仅供导入覆盖使用）
func (r *EntityRepository) DeleteByWorld(ctx context.Context, worldID string) error {
	ctx, span := tracer.Start(ctx, "postgres.EntityRepository.DeleteByWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	_, err := q.ExecContext(ctx, `DELETE FROM world_entities WHERE world_id = $1`, worldID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete world entities: %w", err)
	}
	return nil
}

// marshalDerived 将 kind 对应的载荷序列化为 JSONB
func marshalDerived(e *entity.WorldEntity) ([]byte, error) {
	var payload interface{}
	switch e.Kind {
	case entity.EntityKindCharacter:
		payload = e.Character
	case entity.EntityKindLocation:
		payload = e.Location
	case entity.EntityKindObject:
		payload = e.Object
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal derived state: %w", err)
	}
	return data, nil
}

// unmarshalDerived 将 JSONB 还原到 kind 对应的载荷
func unmarshalDerived(e *entity.WorldEntity, data []byte) error {
	switch e.Kind {
	case entity.EntityKindCharacter:
		e.Character = &entity.CharacterState{}
		return json.Unmarshal(data, e.Character)
	case entity.EntityKindLocation:
		e.Location = &entity.LocationState{}
		return json.Unmarshal(data, e.Location)
	case entity.EntityKindObject:
		e.Object = &entity.ObjectState{}
		return json.Unmarshal(data, e.Object)
	}
	return fmt.Errorf("unknown entity kind %q", e.Kind)
}

// scanWorldEntity 扫描单行实体
func scanWorldEntity(row *sql.Row) (*entity.WorldEntity, error) {
	var e entity.WorldEntity
	var timelineID sql.NullString
	var derived []byte

	err := row.Scan(
		&e.ID, &e.WorldID, &e.Kind, &e.Name, &timelineID,
		&e.LastApplied.WorldTime, &e.LastApplied.Seq, &derived,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	e.TimelineID = timelineID.String
	if err := unmarshalDerived(&e, derived); err != nil {
		return nil, err
	}
	return &e, nil
}

// collectWorldEntities 收集多行实体
func collectWorldEntities(rows *sql.Rows) ([]*entity.WorldEntity, error) {
	var entities []*entity.WorldEntity
	for rows.Next() {
		var e entity.WorldEntity
		var timelineID sql.NullString
		var derived []byte

		err := rows.Scan(
			&e.ID, &e.WorldID, &e.Kind, &e.Name, &timelineID,
			&e.LastApplied.WorldTime, &e.LastApplied.Seq, &derived,
			&e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}

		e.TimelineID = timelineID.String
		if err := unmarshalDerived(&e, derived); err != nil {
			return nil, err
		}
		entities = append(entities, &e)
	}
	return entities, rows.Err()
}
