// Package db provides the Postgres-backed order and transaction stores.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitshopapp/checkout/internal/store"
)

func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.ConnConfig.Tracer = newQueryTracer()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Store bundles the Postgres stores behind the store.Store contract.
type Store struct {
	pool         *pgxpool.Pool
	orders       *OrderStore
	transactions *TransactionStore
}

func NewStore(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool is required")
	}
	return &Store{
		pool:         pool,
		orders:       NewOrderStore(pool),
		transactions: NewTransactionStore(pool),
	}, nil
}

func (s *Store) Orders() store.Orders             { return s.orders }
func (s *Store) Transactions() store.Transactions { return s.transactions }

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

var _ store.Store = (*Store)(nil)
