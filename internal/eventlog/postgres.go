package eventlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trade_events (
	id          BIGSERIAL PRIMARY KEY,
	ts          TIMESTAMPTZ      NOT NULL,
	run_id      TEXT             NOT NULL,
	event_type  TEXT             NOT NULL,
	symbol      TEXT             NOT NULL,
	price       DOUBLE PRECISION NOT NULL,
	quantity    DOUBLE PRECISION NOT NULL,
	pnl         DOUBLE PRECISION NOT NULL,
	reason      TEXT             NOT NULL
);
CREATE INDEX IF NOT EXISTS trade_events_symbol_ts ON trade_events (symbol, ts);
`

type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create trade_events: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trade_events (ts, run_id, event_type, symbol, price, quantity, pnl, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Timestamp, rec.RunID, string(rec.EventType), rec.Symbol,
		rec.Price, rec.Quantity, rec.PnL, rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert trade event: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
