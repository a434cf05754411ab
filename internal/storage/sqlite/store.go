// Package sqlite persists positions, the realized trade log, and risk
// state so a restart resumes exactly where the previous process
// stopped.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hetulpatel/updown/internal/models"
)

const defaultPath = "data/updown.db"

// Store wraps a SQLite DB connection.
type Store struct {
	path string
	db   *sql.DB
}

// Open creates (if needed) and opens the SQLite database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := ensureWAL(db); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return &Store{path: path, db: db}, nil
}

func ensureWAL(db *sql.DB) error {
	const (
		maxAttempts = 5
		delay       = 200 * time.Millisecond
	)
	for i := 0; i < maxAttempts; i++ {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				time.Sleep(delay)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("database is locked after retries")
}

// Path returns the path backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close closes the DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	market_id TEXT NOT NULL,
	asset TEXT NOT NULL,
	token_id TEXT NOT NULL,
	side TEXT NOT NULL,
	strategy TEXT NOT NULL,
	entry_price REAL NOT NULL,
	size REAL NOT NULL,
	entry_time TEXT NOT NULL,
	peak_price REAL NOT NULL,
	status TEXT NOT NULL,
	exit_reason TEXT,
	exit_price REAL,
	closed_at TEXT
);
CREATE INDEX IF NOT EXISTS positions_status_idx ON positions(status);

CREATE TABLE IF NOT EXISTS trades (
	position_id TEXT PRIMARY KEY,
	market_id TEXT NOT NULL,
	asset TEXT NOT NULL,
	side TEXT NOT NULL,
	strategy TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	size REAL NOT NULL,
	pnl_usd REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	entry_time TEXT NOT NULL,
	closed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_strategy_asset_idx ON trades(strategy, asset);

CREATE TABLE IF NOT EXISTS risk_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	consecutive_losses INTEGER NOT NULL,
	consecutive_wins INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL,
	realized_loss_today REAL NOT NULL,
	committed_capital REAL NOT NULL,
	day_start TEXT NOT NULL
);
`

// CreateTables ensures the schema exists.
func (s *Store) CreateTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// DropTables removes the schema.
func (s *Store) DropTables(ctx context.Context) error {
	stmts := []string{
		`DROP TABLE IF EXISTS positions;`,
		`DROP TABLE IF EXISTS trades;`,
		`DROP TABLE IF EXISTS risk_state;`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const positionUpsertSQL = `
INSERT INTO positions (
	id, market_id, asset, token_id, side, strategy,
	entry_price, size, entry_time, peak_price, status,
	exit_reason, exit_price, closed_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
	peak_price=excluded.peak_price,
	status=excluded.status,
	exit_reason=excluded.exit_reason,
	exit_price=excluded.exit_price,
	closed_at=excluded.closed_at;
`

// SavePosition inserts or updates one position. Entry fields are fixed
// at insert time; only lifecycle fields ever change on conflict.
func (s *Store) SavePosition(ctx context.Context, p models.Position) error {
	closedAt := ""
	if !p.ClosedAt.IsZero() {
		closedAt = p.ClosedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, positionUpsertSQL,
		p.ID, p.MarketID, p.Asset, p.TokenID, string(p.Side), string(p.Strategy),
		p.EntryPrice, p.Size, p.EntryTime.UTC().Format(time.RFC3339Nano), p.PeakPrice, string(p.Status),
		string(p.ExitReason), p.ExitPrice, closedAt,
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.ID, err)
	}
	return nil
}

// DeletePosition removes a position record once it is fully settled.
func (s *Store) DeletePosition(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?;`, id)
	return err
}

// LoadPositions returns every non-closed position. A row that fails
// validation is skipped and reported so one bad record cannot block a
// restart.
func (s *Store) LoadPositions(ctx context.Context) ([]models.Position, []error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, asset, token_id, side, strategy,
		       entry_price, size, entry_time, peak_price, status,
		       exit_reason, exit_price, closed_at
		FROM positions WHERE status != ? ORDER BY entry_time;`, string(models.StatusClosed))
	if err != nil {
		return nil, []error{fmt.Errorf("query positions: %w", err)}
	}
	defer rows.Close()

	var positions []models.Position
	var bad []error
	for rows.Next() {
		var p models.Position
		var side, strategy, status, exitReason, entryTime, closedAt string
		if err := rows.Scan(&p.ID, &p.MarketID, &p.Asset, &p.TokenID, &side, &strategy,
			&p.EntryPrice, &p.Size, &entryTime, &p.PeakPrice, &status,
			&exitReason, &p.ExitPrice, &closedAt); err != nil {
			bad = append(bad, fmt.Errorf("scan position: %w", err))
			continue
		}
		p.Side = models.Side(side)
		p.Strategy = models.Strategy(strategy)
		p.Status = models.PositionStatus(status)
		p.ExitReason = models.ExitReason(exitReason)
		if p.EntryTime, err = time.Parse(time.RFC3339Nano, entryTime); err != nil {
			bad = append(bad, fmt.Errorf("position %s: bad entry time %q", p.ID, entryTime))
			continue
		}
		if closedAt != "" {
			if p.ClosedAt, err = time.Parse(time.RFC3339Nano, closedAt); err != nil {
				bad = append(bad, fmt.Errorf("position %s: bad closed time %q", p.ID, closedAt))
				continue
			}
		}
		if err := p.Validate(); err != nil {
			bad = append(bad, err)
			continue
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		bad = append(bad, err)
	}
	return positions, bad
}

// InsertTrade appends a settled position to the trade log.
func (s *Store) InsertTrade(ctx context.Context, p models.Position, pnlUSD float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			position_id, market_id, asset, side, strategy,
			entry_price, exit_price, size, pnl_usd, exit_reason,
			entry_time, closed_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(position_id) DO NOTHING;`,
		p.ID, p.MarketID, p.Asset, string(p.Side), string(p.Strategy),
		p.EntryPrice, p.ExitPrice, p.Size, pnlUSD, string(p.ExitReason),
		p.EntryTime.UTC().Format(time.RFC3339Nano), p.ClosedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", p.ID, err)
	}
	return nil
}

// TradeStats returns the realized record for one strategy on one asset.
func (s *Store) TradeStats(ctx context.Context, strategy models.Strategy, asset string) (wins, total int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN pnl_usd >= 0 THEN 1 ELSE 0 END), 0), COUNT(*)
		FROM trades WHERE strategy = ? AND asset = ?;`, string(strategy), asset)
	if err := row.Scan(&wins, &total); err != nil {
		return 0, 0, fmt.Errorf("trade stats: %w", err)
	}
	return wins, total, nil
}

// TradeSummary is one aggregated row of the realized trade log.
type TradeSummary struct {
	Strategy models.Strategy
	Asset    string
	Wins     int
	Total    int
	PnLUSD   float64
}

// TradeSummaries aggregates the trade log per strategy and asset.
func (s *Store) TradeSummaries(ctx context.Context) ([]TradeSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, asset,
		       COALESCE(SUM(CASE WHEN pnl_usd >= 0 THEN 1 ELSE 0 END), 0),
		       COUNT(*), COALESCE(SUM(pnl_usd), 0)
		FROM trades GROUP BY strategy, asset ORDER BY strategy, asset;`)
	if err != nil {
		return nil, fmt.Errorf("trade summaries: %w", err)
	}
	defer rows.Close()

	var out []TradeSummary
	for rows.Next() {
		var t TradeSummary
		var strategy string
		if err := rows.Scan(&strategy, &t.Asset, &t.Wins, &t.Total, &t.PnLUSD); err != nil {
			return nil, err
		}
		t.Strategy = models.Strategy(strategy)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveRiskState persists the single risk-state row.
func (s *Store) SaveRiskState(ctx context.Context, state models.RiskState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_state (
			id, consecutive_losses, consecutive_wins, wins, losses,
			realized_loss_today, committed_capital, day_start
		) VALUES (1,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			consecutive_losses=excluded.consecutive_losses,
			consecutive_wins=excluded.consecutive_wins,
			wins=excluded.wins,
			losses=excluded.losses,
			realized_loss_today=excluded.realized_loss_today,
			committed_capital=excluded.committed_capital,
			day_start=excluded.day_start;`,
		state.ConsecutiveLosses, state.ConsecutiveWins, state.Wins, state.Losses,
		state.RealizedLossToday, state.CommittedCapital, state.DayStart.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save risk state: %w", err)
	}
	return nil
}

// LoadRiskState returns the persisted risk state, or a zero state when
// none has been saved yet.
func (s *Store) LoadRiskState(ctx context.Context) (models.RiskState, error) {
	var state models.RiskState
	var dayStart string
	row := s.db.QueryRowContext(ctx, `
		SELECT consecutive_losses, consecutive_wins, wins, losses,
		       realized_loss_today, committed_capital, day_start
		FROM risk_state WHERE id = 1;`)
	err := row.Scan(&state.ConsecutiveLosses, &state.ConsecutiveWins, &state.Wins, &state.Losses,
		&state.RealizedLossToday, &state.CommittedCapital, &dayStart)
	if err == sql.ErrNoRows {
		return models.RiskState{}, nil
	}
	if err != nil {
		return models.RiskState{}, fmt.Errorf("load risk state: %w", err)
	}
	if state.DayStart, err = time.Parse(time.RFC3339Nano, dayStart); err != nil {
		return models.RiskState{}, fmt.Errorf("load risk state: bad day start %q", dayStart)
	}
	return state, nil
}
