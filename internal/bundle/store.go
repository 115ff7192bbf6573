package bundle

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"barn/internal/align"
	"barn/internal/market"

	_ "modernc.org/sqlite"
)

// Store 管理 bundles/fine_bars/session_bars 三张表。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("bundle store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "bundles.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bundles (
			name TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			calendar TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			first_session INTEGER NOT NULL,
			last_session INTEGER NOT NULL,
			written_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fine_bars (
			bundle TEXT NOT NULL,
			session INTEGER NOT NULL,
			minute INTEGER NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			synthetic INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (bundle, session, minute),
			FOREIGN KEY(bundle) REFERENCES bundles(name) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS session_bars (
			bundle TEXT NOT NULL,
			session INTEGER NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			synthetic INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (bundle, session),
			FOREIGN KEY(bundle) REFERENCES bundles(name) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fine_bundle ON fine_bars(bundle, session, minute);`,
		`CREATE INDEX IF NOT EXISTS idx_session_bundle ON session_bars(bundle, session);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Write 在单个事务内替换整个 bundle：先删旧行再写新行，旧版本被取代而非被修改。
func (s *Store) Write(ctx context.Context, b Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM fine_bars WHERE bundle=?`,
		`DELETE FROM session_bars WHERE bundle=?`,
		`DELETE FROM bundles WHERE name=?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, b.Name); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bundles (name, symbol, calendar, timeframe, first_session, last_session, written_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.Name, b.Symbol, b.CalendarName, string(b.Timeframe), b.FirstSession, b.LastSession,
		time.Now().UnixMilli()); err != nil {
		return err
	}

	if len(b.Fine) > 0 {
		fineStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO fine_bars (bundle, session, minute, open, high, low, close, volume, synthetic)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer fineStmt.Close()
		for _, bar := range b.Fine {
			if _, err := fineStmt.ExecContext(ctx, b.Name, bar.Session, bar.Minute,
				bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, boolToInt(bar.Synthetic)); err != nil {
				return err
			}
		}
	}

	coarseStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_bars (bundle, session, open, high, low, close, volume, synthetic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer coarseStmt.Close()
	for _, bar := range b.Coarse {
		if _, err := coarseStmt.ExecContext(ctx, b.Name, bar.Session,
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, boolToInt(bar.Synthetic)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load 读取完整 bundle。
func (s *Store) Load(ctx context.Context, name string) (Bundle, error) {
	var b Bundle
	var tf string
	row := s.db.QueryRowContext(ctx, `
		SELECT name, symbol, calendar, timeframe, first_session, last_session
		FROM bundles WHERE name=?`, name)
	if err := row.Scan(&b.Name, &b.Symbol, &b.CalendarName, &tf, &b.FirstSession, &b.LastSession); err != nil {
		if err == sql.ErrNoRows {
			return Bundle{}, fmt.Errorf("bundle 不存在: %s", name)
		}
		return Bundle{}, err
	}
	b.Timeframe = market.Timeframe(tf)

	if b.Timeframe == market.TimeframeMinute {
		fine, err := s.loadFine(ctx, name)
		if err != nil {
			return Bundle{}, err
		}
		b.Fine = fine
	}
	coarse, err := s.loadCoarse(ctx, name)
	if err != nil {
		return Bundle{}, err
	}
	b.Coarse = coarse
	return b, nil
}

func (s *Store) loadFine(ctx context.Context, name string) ([]align.FineBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, minute, open, high, low, close, volume, synthetic
		FROM fine_bars WHERE bundle=? ORDER BY session ASC, minute ASC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []align.FineBar
	for rows.Next() {
		var b align.FineBar
		var synthetic int
		if err := rows.Scan(&b.Session, &b.Minute, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &synthetic); err != nil {
			return nil, err
		}
		b.Synthetic = synthetic != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) loadCoarse(ctx context.Context, name string) ([]align.SessionBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, open, high, low, close, volume, synthetic
		FROM session_bars WHERE bundle=? ORDER BY session ASC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []align.SessionBar
	for rows.Next() {
		var b align.SessionBar
		var synthetic int
		if err := rows.Scan(&b.Session, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &synthetic); err != nil {
			return nil, err
		}
		b.Synthetic = synthetic != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// Sessions 仅返回 bundle 粗粒度索引中的 session 列表，供前置检查做差异比对。
func (s *Store) Sessions(ctx context.Context, name string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session FROM session_bars WHERE bundle=? ORDER BY session ASC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var session int64
		if err := rows.Scan(&session); err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// Meta 返回所有 bundle 的元数据行。
type Meta struct {
	Name         string           `json:"name"`
	Symbol       string           `json:"symbol"`
	CalendarName string           `json:"calendar_name"`
	Timeframe    market.Timeframe `json:"timeframe"`
	FirstSession int64            `json:"first_session"`
	LastSession  int64            `json:"last_session"`
	WrittenAt    int64            `json:"written_at"`
}

func (s *Store) List(ctx context.Context) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, symbol, calendar, timeframe, first_session, last_session, written_at
		FROM bundles ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Meta
	for rows.Next() {
		var m Meta
		var tf string
		if err := rows.Scan(&m.Name, &m.Symbol, &m.CalendarName, &tf, &m.FirstSession, &m.LastSession, &m.WrittenAt); err != nil {
			return nil, err
		}
		m.Timeframe = market.Timeframe(tf)
		out = append(out, m)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
