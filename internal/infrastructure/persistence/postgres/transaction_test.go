package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"

	"living-world-engine/internal/config"
	apperrors "living-world-engine/pkg/errors"
)

// stubDriver 只支持开启与结束事务，测试回调自带失败
type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) { return stubConn{}, nil }

type stubConn struct{}

func (stubConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (stubConn) Close() error                        { return nil }
func (stubConn) Begin() (driver.Tx, error)           { return stubTx{}, nil }

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

var registerStubOnce sync.Once

func newStubTxManager(t *testing.T, retryLimit int) *TxManager {
	t.Helper()
	registerStubOnce.Do(func() { sql.Register("txstub", stubDriver{}) })

	db, err := sql.Open("txstub", "")
	if err != nil {
		t.Fatalf("open stub db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewTxManager(&Client{db: db, config: &config.PostgresConfig{
		RetryLimit: retryLimit,
		RetryBackoff: config.BackoffConfig{
			Initial:    time.Millisecond,
			Max:        2 * time.Millisecond,
			Multiplier: 2,
		},
	}})
}

func TestWithTransactionRetryExhaustion(t *testing.T) {
	m := newStubTxManager(t, 2)

	calls := 0
	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		calls++
		return &pq.Error{Code: "40001"} // serialization_failure
	})

	// 预算耗尽后上抛持久化失败错误码，调用方按码识别
	if !apperrors.Is(err, apperrors.CodePersistenceFailure) {
		t.Fatalf("err = %v, want persistence failure code", err)
	}
	if calls != 3 {
		t.Errorf("attempts = %d, want first try + 2 retries", calls)
	}
}

func TestWithTransactionDoesNotRetryPermanentErrors(t *testing.T) {
	m := newStubTxManager(t, 2)

	sentinel := errors.New("constraint violated")
	calls := 0
	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want the callback error", err)
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want exactly 1", calls)
	}
}
