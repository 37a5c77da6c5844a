package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("backtest run not found")

// ResultStore 管理 backtest_runs/trades/equity 三张表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewResultStore 打开（或创建）path 指向的 sqlite 文件。
func NewResultStore(path string) (*ResultStore, error) {
	if path == "" {
		return nil, fmt.Errorf("result store path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Path() string { return s.path }

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			symbol TEXT NOT NULL,
			status TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			bars INTEGER NOT NULL DEFAULT 0,
			initial_capital REAL NOT NULL,
			final_equity REAL NOT NULL DEFAULT 0,
			total_return REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			sharpe REAL NOT NULL DEFAULT 0,
			win_rate REAL NOT NULL DEFAULT 0,
			trades INTEGER NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL,
			metrics_json TEXT,
			message TEXT,
			chart_path TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			entry_ts INTEGER NOT NULL,
			exit_ts INTEGER NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			quantity INTEGER NOT NULL,
			fees REAL NOT NULL,
			pnl REAL NOT NULL,
			return_pct REAL NOT NULL,
			reason TEXT,
			bars INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			price REAL NOT NULL,
			cash REAL NOT NULL,
			holding REAL NOT NULL,
			equity REAL NOT NULL,
			drawdown REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON backtest_equity(run_id, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, source, symbol, status, start_ts, end_ts, bars, initial_capital,
			 config_json, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Symbol, run.Status, run.StartTime.UnixMilli(), run.EndTime.UnixMilli(),
		run.Bars, run.Config.InitialCapital, string(cfgJSON), run.Message, now, now)
	return err
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UnixMilli()
	var completed any
	if status == RunStatusDone || status == RunStatusFailed {
		completed = now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, message=?, updated_at=?, completed_at=COALESCE(?, completed_at)
		WHERE id=?`, status, message, now, completed, id)
	if err != nil {
		return err
	}
	return requireAffected(res, id)
}

// SaveResult 在一个事务内写入成交、资金曲线与汇总指标，并把状态置为 done。
func (s *ResultStore) SaveResult(ctx context.Context, id string, res Result, chartPath string) error {
	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM backtest_runs WHERE id=?`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return err
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades
			(run_id, symbol, entry_ts, exit_ts, entry_price, exit_price, quantity, fees, pnl, return_pct, reason, bars)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer tradeStmt.Close()
	for _, t := range res.Trades {
		if _, err := tradeStmt.ExecContext(ctx, id, t.Symbol, t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(),
			t.EntryPrice, t.ExitPrice, t.Quantity, t.Fees, t.PnL, t.ReturnPct, t.Reason, t.Bars); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}

	eqStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_equity (run_id, ts, price, cash, holding, equity, drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer eqStmt.Close()
	for _, p := range res.Curve {
		if _, err := eqStmt.ExecContext(ctx, id, p.Time.UnixMilli(), p.Price, p.Cash, p.Holding, p.Equity, p.Drawdown); err != nil {
			return fmt.Errorf("insert equity point: %w", err)
		}
	}

	m := res.Metrics
	now := time.Now().UnixMilli()
	result, err := tx.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, final_equity=?, total_return=?, max_drawdown=?, sharpe=?, win_rate=?, trades=?,
		    metrics_json=?, message=?, chart_path=?, updated_at=?, completed_at=?
		WHERE id=?`,
		RunStatusDone, m.FinalEquity, m.TotalReturn, m.MaxDrawdown, m.SharpeRatio, m.WinRate, m.TradeCount,
		string(metricsJSON), "完成", chartPath, now, now, id)
	if err != nil {
		return err
	}
	if err := requireAffected(result, id); err != nil {
		return err
	}
	return tx.Commit()
}

const runColumns = `id, source, symbol, status, start_ts, end_ts, bars, config_json, metrics_json,
	message, chart_path, created_at, updated_at, completed_at`

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id=?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns 按创建时间倒序返回最近的 run。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM backtest_runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *ResultStore) ListTrades(ctx context.Context, runID string) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, entry_ts, exit_ts, entry_price, exit_price, quantity, fees, pnl, return_pct, reason, bars
		FROM backtest_trades WHERE run_id=? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trade
	for rows.Next() {
		var t Trade
		var entry, exit int64
		var reason sql.NullString
		if err := rows.Scan(&t.Symbol, &entry, &exit, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
			&t.Fees, &t.PnL, &t.ReturnPct, &reason, &t.Bars); err != nil {
			return nil, err
		}
		t.EntryTime = timeFromMillis(entry)
		t.ExitTime = timeFromMillis(exit)
		t.Reason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *ResultStore) ListEquity(ctx context.Context, runID string) ([]EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, price, cash, holding, equity, drawdown
		FROM backtest_equity WHERE run_id=? ORDER BY ts`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EquityPoint
	for rows.Next() {
		var p EquityPoint
		var ts int64
		if err := rows.Scan(&ts, &p.Price, &p.Cash, &p.Holding, &p.Equity, &p.Drawdown); err != nil {
			return nil, err
		}
		p.Time = timeFromMillis(ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var cfgStr string
	var metricsStr, message, chart sql.NullString
	var startTS, endTS, createdAt, updatedAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(&run.ID, &run.Source, &run.Symbol, &run.Status, &startTS, &endTS, &run.Bars,
		&cfgStr, &metricsStr, &message, &chart, &createdAt, &updatedAt, &completedAt); err != nil {
		return Run{}, err
	}
	run.StartTime = timeFromMillis(startTS)
	run.EndTime = timeFromMillis(endTS)
	run.Message = message.String
	run.ChartPath = chart.String
	run.CreatedAt = timeFromMillis(createdAt)
	run.UpdatedAt = timeFromMillis(updatedAt)
	if completedAt.Valid {
		run.CompletedAt = timeFromMillis(completedAt.Int64)
	}
	if err := json.Unmarshal([]byte(cfgStr), &run.Config); err != nil {
		return Run{}, err
	}
	if metricsStr.Valid && metricsStr.String != "" {
		if err := json.Unmarshal([]byte(metricsStr.String), &run.Metrics); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
