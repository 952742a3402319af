package tradelog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Trade is one append-only history record, written for every executed
// entry and exit.
type Trade struct {
	Time         time.Time
	Symbol       string
	OptionSymbol string
	Side         string // buy_to_open / sell_to_close
	Quantity     int
	Price        float64
	Reason       string // entry / take_profit / stop_loss
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS trades (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_time    DATETIME NOT NULL,
	symbol        TEXT NOT NULL,
	option_symbol TEXT NOT NULL,
	side          TEXT NOT NULL,
	quantity      INTEGER NOT NULL,
	price         REAL NOT NULL,
	reason        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(trade_time);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
`

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening trade log: %w", err)
	}
	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, t Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (trade_time, symbol, option_symbol, side, quantity, price, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Time, t.Symbol, t.OptionSymbol, t.Side, t.Quantity, t.Price, t.Reason,
	)
	return err
}

func (s *Store) Recent(ctx context.Context, limit int) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_time, symbol, option_symbol, side, quantity, price, reason
		FROM trades ORDER BY trade_time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.Time, &t.Symbol, &t.OptionSymbol, &t.Side, &t.Quantity, &t.Price, &t.Reason); err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// RealizedSince sums realized P&L for round trips closed on or after
// cutoff. Each sell_to_close is measured against the most recent
// buy_to_open for the same contract, so an entry with no matching close
// contributes nothing. Closes without a recorded entry are ignored.
func (s *Store) RealizedSince(ctx context.Context, cutoff time.Time) (float64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM((c.price - (
			SELECT e.price FROM trades e
			WHERE e.option_symbol = c.option_symbol
			  AND e.side = 'buy_to_open'
			  AND e.trade_time <= c.trade_time
			ORDER BY e.trade_time DESC, e.id DESC
			LIMIT 1
		)) * c.quantity * 100), 0)
		FROM trades c
		WHERE c.side = 'sell_to_close' AND c.trade_time >= ?`, cutoff)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
