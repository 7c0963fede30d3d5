// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"living-world-engine/internal/domain/entity"
)

// PreferenceRepository 玩家偏好仓储实现
type PreferenceRepository struct {
	client *Client
}

// NewPreferenceRepository 创建偏好仓储
func NewPreferenceRepository(client *Client) *PreferenceRepository {
	return &PreferenceRepository{client: client}
}

// Get 获取玩家在某世界的偏好向量，不存在时返回 nil
func (r *PreferenceRepository) Get(ctx context.Context, playerID, worldID string) (*entity.PlayerPreference, error) {
	ctx, span := tracer.Start(ctx, "postgres.PreferenceRepository.Get")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT player_id, world_id, bias, updated_at
		FROM player_preferences
		WHERE player_id = $1 AND world_id = $2
	`

	var pref entity.PlayerPreference
	err := q.QueryRowContext(ctx, query, playerID, worldID).Scan(
		&pref.PlayerID, &pref.WorldID, &pref.Bias, &pref.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get player preference: %w", err)
	}

	return &pref, nil
}

// Upsert 写入或更新偏好向量
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *entity.PlayerPreference) error {
	ctx, span := tracer.Start(ctx, "postgres.PreferenceRepository.Upsert")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		INSERT INTO player_preferences (player_id, world_id, bias, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (player_id, world_id)
		DO UPDATE SET bias = EXCLUDED.bias, updated_at = NOW()
		RETURNING updated_at
	`

	err := q.QueryRowContext(ctx, query, pref.PlayerID, pref.WorldID, pref.Bias).
		Scan(&pref.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert player preference: %w", err)
	}

	return nil
}

// ListByWorld 列出世界内全部玩家偏好（导出用）
func (r *PreferenceRepository) ListByWorld(ctx context.Context, worldID string) ([]*entity.PlayerPreference, error) {
	ctx, span := tracer.Start(ctx, "postgres.PreferenceRepository.ListByWorld")
	defer span.End()

	q := getQuerier(ctx, r.client.db)

	query := `
		SELECT player_id, world_id, bias, updated_at
		FROM player_preferences
		WHERE world_id = $1
		ORDER BY player_id ASC
	`

	rows, err := q.QueryContext(ctx, query, worldID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list player preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*entity.PlayerPreference
	for rows.Next() {
		var pref entity.PlayerPreference
		if err := rows.Scan(&pref.PlayerID, &pref.WorldID, &pref.Bias, &pref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan player preference: %w", err)
		}
		prefs = append(prefs, &pref)
	}
	return prefs, rows.Err()
}
