// Package pgx implements the tenant-scoped graph store on PostgreSQL with
// pgvector. Neighbor expansion runs as a single recursive query.
package pgx

import (
	"context"
	"errors"

	"github.com/mirojs/graphrag-orchestration/pkg/common"
	"github.com/mirojs/graphrag-orchestration/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

var _ store.GraphStore = (*GraphDBStorage)(nil)

// GraphDBStorage implements store.GraphStore. Every statement filters on the
// tenant column.
type GraphDBStorage struct {
	conn      pgxIConn
	batchSize int
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithBatchSize sets how many rows one write statement carries.
func WithBatchSize(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewGraphDBStorageWithConnection wraps an existing pool or connection. The
// connection must have the pgvector types registered.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:      conn,
		batchSize: 250,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func newID() (string, error) {
	return gonanoid.New()
}

// wrap marks database failures as transport errors. Sentinels the store
// produces itself pass through unchanged.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrUnknownEntity) || errors.Is(err, common.ErrTransport) {
		return err
	}
	return common.NewTransportError(op, err)
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *GraphDBStorage) inTx(ctx context.Context, fn func(tx pgxv5.Tx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
