package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_trade_engine/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id TEXT NOT NULL,
			exec_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			link_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty REAL NOT NULL,
			price REAL NOT NULL,
			order_qty REAL NOT NULL,
			leaves_qty REAL NOT NULL,
			executed_at DATETIME NOT NULL,
			UNIQUE (bot_id, exec_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_bot ON executions(bot_id, executed_at);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			position_id TEXT NOT NULL,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			status TEXT NOT NULL,
			amount REAL NOT NULL,
			wanted_entry REAL NOT NULL,
			initial_stop REAL NOT NULL,
			entry_price REAL NOT NULL DEFAULT 0,
			exit_price REAL NOT NULL DEFAULT 0,
			realized_pnl REAL NOT NULL DEFAULT 0,
			entry_time DATETIME NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_position_history_bot ON position_history(bot_id, closed_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// TradeRepository Implementation

// SaveExecution stores a fill. Replayed fills with a known exec id are
// ignored.
func (s *SQLiteStore) SaveExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	query := `INSERT INTO executions (bot_id, exec_id, order_id, link_id, symbol, side, qty, price, order_qty, leaves_qty, executed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(bot_id, exec_id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query,
		rec.BotID, rec.ExecID, rec.ExchangeID, rec.LinkID, rec.Symbol, string(rec.Side),
		rec.Quantity, rec.Price, rec.OrderQty, rec.LeavesQty, rec.Time.UTC())
	if err != nil {
		return fmt.Errorf("save execution %s: %w", rec.ExecID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, botID string, limit int) ([]*domain.ExecutionRecord, error) {
	query := `SELECT id, bot_id, exec_id, order_id, link_id, symbol, side, qty, price, order_qty, leaves_qty, executed_at
			  FROM executions WHERE bot_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ExecutionRecord
	for rows.Next() {
		var r domain.ExecutionRecord
		var side string
		if err := rows.Scan(&r.ID, &r.BotID, &r.ExecID, &r.ExchangeID, &r.LinkID, &r.Symbol, &side,
			&r.Quantity, &r.Price, &r.OrderQty, &r.LeavesQty, &r.Time); err != nil {
			return nil, err
		}
		r.Side = domain.Side(side)
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	query := `INSERT INTO position_history (bot_id, run_id, position_id, strategy_id, symbol, direction, status, amount,
			  wanted_entry, initial_stop, entry_price, exit_price, realized_pnl, entry_time, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		h.BotID, h.RunID, h.PositionID, h.StrategyID, h.Symbol, string(h.Direction), string(h.Status), h.Amount,
		h.WantedEntry, h.InitialStop, h.EntryPrice, h.ExitPrice, h.RealizedPnL, h.EntryTime.UTC(), h.ClosedAt.UTC())
	if err != nil {
		return fmt.Errorf("save position %s: %w", h.PositionID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		h.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListPositionHistory(ctx context.Context, botID string, limit int) ([]*domain.PositionHistory, error) {
	query := `SELECT id, bot_id, run_id, position_id, strategy_id, symbol, direction, status, amount,
			  wanted_entry, initial_stop, entry_price, exit_price, realized_pnl, entry_time, closed_at
			  FROM position_history WHERE bot_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*domain.PositionHistory
	for rows.Next() {
		var h domain.PositionHistory
		var direction, status string
		if err := rows.Scan(&h.ID, &h.BotID, &h.RunID, &h.PositionID, &h.StrategyID, &h.Symbol, &direction, &status, &h.Amount,
			&h.WantedEntry, &h.InitialStop, &h.EntryPrice, &h.ExitPrice, &h.RealizedPnL, &h.EntryTime, &h.ClosedAt); err != nil {
			return nil, err
		}
		h.Direction = domain.Direction(direction)
		h.Status = domain.PositionStatus(status)
		history = append(history, &h)
	}
	return history, rows.Err()
}
