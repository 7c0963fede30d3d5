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

// RelationRepository 关系边仓储实现
type RelationRepository struct {
	client *Client
}

// NewRelationRepository 创建关系仓储
func NewRelationRepository(client *Client) *RelationRepository {
	return &RelationRepository{client: client}
}

const relationColumns = `
	id, world_id, source_entity_id, target_entity_id, relation_type, strength,
	created_at, updated_at`

// Create 创建关系边
func (r *RelationRepository) Create(ctx context.Context, relation *entity.Relation) error {
	ctx, span := tracer.Start(ctx, "postgres.RelationRepository.Create")
	defer span.End()

	if relation.ID == "" {
		relation.ID = uuid.NewString()
	}

	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO relations (id, world_id, source_entity_id, target_entity_id,
			relation_type, strength, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := q.QueryRowContext(ctx, query,
		relation.ID, relation.WorldID, relation.SourceEntityID, relation.TargetEntityID,
		relation.RelationType, relation.Strength,
	).Scan(&relation.CreatedAt, &relation.UpdatedAt)

	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create relation: %w", err)
	}

	return nil
}

// GetByID 根据 ID 获取关系
func (r *RelationRepository) GetByID(ctx context.Context, id string) (*entity.Relation, error) {
	ctx, span := tracer.Start(ctx, "postgres.RelationRepository.GetByID")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `SELECT ` + relationColumns + ` FROM relations WHERE id = $1`

	return scanRelation(q.QueryRowContext(ctx, query, id))
}

// GetBetween 获取两实体间指定类型的边；无向边按两个方向匹配
func (r *RelationRepository) GetBetween(ctx context.Context, worldID, sourceID, targetID string, relType entity.RelationType) (*entity.Relation, error) {
	ctx, span := tracer.Start(ctx, "postgres.RelationRepository.GetBetween")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	var query string
	var args []interface{}
	if relType.Directed() {
		query = `
			SELECT ` + relationColumns + `
			FROM relations
			WHERE world_id = $1 AND source_entity_id = $2 AND target_entity_id = $3
				AND relation_type = $4
		`
		args = []interface{}{worldID, sourceID, targetID, relType}
	} else {
		query = `
			SELECT ` + relationColumns + `
			FROM relations
			WHERE world_id = $1 AND relation_type = $4
				AND ((source_entity_id = $2 AND target_entity_id = $3)
					OR (source_entity_id = $3 AND target_entity_id = $2))
		`
		args = []interface{}{worldID, sourceID, targetID, relType}
	}

	return scanRelation(q.QueryRowContext(ctx, query, args...))
}

// UpdateStrength 更新关系强度
func (r *RelationRepository) UpdateStrength(ctx context.Context, id string, strength float64) error {
	ctx, span := tracer.Start(ctx, "postgres.RelationRepository.UpdateStrength")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	result, err := q.ExecContext(ctx,
		`UPDATE relations SET strength = $2, updated_at = NOW() WHERE id = $1`,
		id, strength,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update relation strength: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.ErrNotFound.WithDetail(fmt.Sprintf("relation %s not found", id))
	}

	return nil
}

// ListByEntity 列出实体参与的全部边（作为源或目标）
func (r *RelationRepository) ListByEntity(ctx context.Context, entityID string) ([]*entity.Relation, error) {
	ctx, span := tracer.Start(ctx, "postgres.RelationRepository.ListByEntity")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT ` + relationColumns + `
		FROM relations
		WHERE source_entity_id = $1 OR target_entity_id = $1
		ORDER BY created_at ASC
	`

	rows, err := q.QueryContext(ctx, query, entityID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list entity relations: %w", err)
	}
	defer rows.Close()

	return collectRelations(rows)
}

// ListByWorld 列出世界内的边，可按类型与最小强度过滤
func (r *RelationRepository) ListByWorld(ctx context.Context, worldID string, filter *repository.RelationFilter) ([]*entity.Relation, error) {
	ctx, span := tracer.Start(ctx, "postgres.RelationRepository.ListByWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	where := `WHERE world_id = $1`
	args := []interface{}{worldID}
	if filter != nil {
		if filter.RelationType != "" {
			args = append(args, filter.RelationType)
			where += fmt.Sprintf(" AND relation_type = $%d", len(args))
		}
		if filter.MinStrength > 0 {
			args = append(args, filter.MinStrength)
			where += fmt.Sprintf(" AND strength >= $%d", len(args))
		}
	}

	query := `SELECT ` + relationColumns + ` FROM relations ` + where + ` ORDER BY created_at ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list world relations: %w", err)
	}
	defer rows.Close()

	return collectRelations(rows)
}

// ListByType 列出世界内指定类型的全部边
func (r *RelationRepository) ListByType(ctx context.Context, worldID string, relType entity.RelationType) ([]*entity.Relation, error) {
	return r.ListByWorld(ctx, worldID, &repository.RelationFilter{RelationType: relType})
}

// DeleteByEntity 删除实体相关的全部边
func (r *RelationRepository) DeleteByEntity(ctx context.Context, entityID string) error {
	ctx, span := tracer.Start(ctx, "postgres.RelationRepository.DeleteByEntity")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	_, err := q.ExecContext(ctx,
		`DELETE FROM relations WHERE source_entity_id = $1 OR target_entity_id = $1`,
		entityID,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete entity relations: %w", err)
	}
	return nil
}

// DeleteByWorld 删除世界全部边（仅供导入覆盖使用）
func (r *RelationRepository) DeleteByWorld(ctx context.Context, worldID string) error {
	ctx, span := tracer.Start(ctx, "postgres.RelationRepository.DeleteByWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	_, err := q.ExecContext(ctx, `DELETE FROM relations WHERE world_id = $1`, worldID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete world relations: %w", err)
	}
	return nil
}

// scanRelation 扫描单行关系
func scanRelation(row *sql.Row) (*entity.Relation, error) {
	var rel entity.Relation
	err := row.Scan(
		&rel.ID, &rel.WorldID, &rel.SourceEntityID, &rel.TargetEntityID,
		&rel.RelationType, &rel.Strength, &rel.CreatedAt, &rel.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound.WithDetail("relation not found")
		}
		return nil, fmt.Errorf("failed to scan relation: %w", err)
	}
	return &rel, nil
}

// collectRelations 收集多行关系
func collectRelations(rows *sql.Rows) ([]*entity.Relation, error) {
	var relations []*entity.Relation
	for rows.Next() {
		var rel entity.Relation
		err := rows.Scan(
			&rel.ID, &rel.WorldID, &rel.SourceEntityID, &rel.TargetEntityID,
			&rel.RelationType, &rel.Strength, &rel.CreatedAt, &rel.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		relations = append(relations, &rel)
	}
	return relations, rows.Err()
}
