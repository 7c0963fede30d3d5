// Package postgres 提供 PostgreSQL 图存储适配器实现
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"living-world-engine/internal/config"
	"living-world-engine/internal/domain/repository"
	apperrors "living-world-engine/pkg/errors"
	"living-world-engine/pkg/logger"
)

// TxManager 事务管理器
type TxManager struct {
	client *Client
	retry  config.BackoffConfig
	limit  int
}

// NewTxManager 创建事务管理器
func NewTxManager(client *Client) *TxManager {
	cfg := client.config
	retry := cfg.RetryBackoff
	if retry.Initial <= 0 {
		retry = config.BackoffConfig{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2}
	}
	limit := cfg.RetryLimit
	if limit <= 0 {
		limit = 3
	}
	return &TxManager{client: client, retry: retry, limit: limit}
}

// WithTransaction 在事务中执行操作。
// 瞬时失败（串行化冲突、死锁、连接抖动）按退避重试，超出预算后作为
// PersistenceFailure 上抛。
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// 已在事务中，直接执行
	if tx := getTxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	var lastErr error
	backoff := m.retry.Initial
	for attempt := 0; attempt <= m.limit; attempt++ {
		if attempt > 0 {
			logger.Warn(ctx, "retrying transaction after transient failure",
				"attempt", attempt,
				"backoff", backoff.String(),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * m.retry.Multiplier)
			if backoff > m.retry.Max {
				backoff = m.retry.Max
			}
		}

		lastErr = m.runOnce(ctx, fn)
		if lastErr == nil || !isTransient(lastErr) {
			return lastErr
		}
	}
	// 重试预算耗尽按持久化失败上抛，调用方以错误码识别
	return apperrors.ErrPersistenceFailure.
		WithDetail("transaction retry budget exhausted").
		WithError(lastErr)
}

// runOnce 执行单次事务
func (m *TxManager) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := m.client.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// 将事务放入上下文
	txCtx := context.WithValue(ctx, repository.TxKey{}, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// isTransient 判断错误是否值得重试
func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57P03": // cannot_connect_now
			return true
		}
	}
	return false
}

// getTxFromContext 从上下文获取事务
func getTxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(repository.TxKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Querier 查询接口（支持普通连接和事务）
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// getQuerier 根据上下文获取查询器
func getQuerier(ctx context.Context, db *sql.DB) Querier {
	if tx := getTxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}
