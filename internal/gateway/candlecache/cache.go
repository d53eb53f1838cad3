// Package candlecache is a read-through sqlite cache in front of a
// market.Provider. Each pair@interval lives in its own database file.
package candlecache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"simdesk/internal/logger"
	"simdesk/internal/market"
)

// Manifest 记录某个 instrument@interval 文件的统计信息。
type Manifest struct {
	Instrument string `json:"instrument"`
	Interval   string `json:"interval"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

type Cache struct {
	root     string
	upstream market.Provider
	now      func() time.Time

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func New(root string, upstream market.Provider) (*Cache, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root 不能为空")
	}
	if upstream == nil {
		return nil, fmt.Errorf("upstream provider 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Cache{root: root, upstream: upstream, now: time.Now, dbs: make(map[string]*sql.DB)}, nil
}

func (c *Cache) Name() string { return "cache+" + c.upstream.Name() }

// Fetch serves req from the cache when every row of the range is present,
// otherwise from upstream, storing what upstream returned.
func (c *Cache) Fetch(ctx context.Context, req market.FetchRequest) ([]market.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := req.Interval.Truncate(req.Start)
	end := req.Interval.Truncate(req.End)
	db, _, err := c.db(req.Instrument, req.Interval)
	if err != nil {
		return nil, err
	}
	cached, err := rangeCandles(ctx, db, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		logger.Warnf("[candlecache] read %s failed, falling back: %v", req, err)
	} else if want := expectedRows(start, end, req.Interval); want > 0 && len(cached) == want {
		logger.Debugf("[candlecache] hit %s (%d rows)", req, len(cached))
		return cached, nil
	}

	candles, err := c.upstream.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := c.insert(ctx, db, req, candles); err != nil {
		logger.Warnf("[candlecache] store %s failed: %v", req, err)
	}
	return candles, nil
}

func expectedRows(start, end time.Time, iv market.Interval) int {
	unit := iv.Unit()
	if unit <= 0 || end.Before(start) {
		return 0
	}
	return int(end.Sub(start)/unit) + 1
}

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for k, db := range c.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.dbs, k)
	}
	return firstErr
}

func (c *Cache) db(instrument string, iv market.Interval) (*sql.DB, string, error) {
	instrument = strings.ToUpper(strings.TrimSpace(instrument))
	if instrument == "" || !iv.Valid() {
		return nil, "", fmt.Errorf("instrument/interval 不能为空")
	}
	key := instrument + "@" + iv.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	path := c.dbPath(instrument, iv)
	if db, ok := c.dbs[key]; ok && db != nil {
		return db, path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, instrument, iv.String()); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	c.dbs[key] = db
	return db, path, nil
}

func (c *Cache) dbPath(instrument string, iv market.Interval) string {
	return filepath.Join(c.root, instrument, iv.String()+".db")
}

// insert upserts candles by open time; rows outside the request are ignored.
func (c *Cache) insert(ctx context.Context, db *sql.DB, req market.FetchRequest, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (open_time, close_time, open, high, low, close, volume, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    close_time=excluded.close_time,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    trades=excluded.trades`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	nowMs := c.now().UnixMilli()
	count := 0
	for _, k := range candles {
		// an unfinished candle would pin stale prices in the cache
		if k.CloseTime >= nowMs {
			continue
		}
		if _, err := stmt.ExecContext(ctx, k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.Trades); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	logger.Debugf("[candlecache] stored %d rows for %s", count, req)
	return count, c.refreshManifest(ctx, db, nowMs)
}

func (c *Cache) Manifest(ctx context.Context, instrument string, iv market.Interval) (Manifest, error) {
	db, path, err := c.db(instrument, iv)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT instrument,bar_interval,COALESCE(min_time,0),COALESCE(max_time,0),rows,COALESCE(last_sync_at,0) FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Instrument, &m.Interval, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

func (c *Cache) refreshManifest(ctx context.Context, db *sql.DB, nowMs int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM candles),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM candles),
		    rows = (SELECT COUNT(1) FROM candles),
		    last_sync_at = ?
		WHERE id = 1`, nowMs)
	return err
}

func ensureSchema(db *sql.DB, instrument, interval string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			open_time  INTEGER PRIMARY KEY,
			close_time INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL,
			trades     INTEGER DEFAULT 0,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			instrument TEXT NOT NULL,
			bar_interval TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT INTO manifest (id, instrument, bar_interval) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET instrument=excluded.instrument, bar_interval=excluded.bar_interval;`, instrument, interval)
	return err
}

// rangeCandles 返回 start~end 范围内的全部 K 线（开盘时间闭区间）。
func rangeCandles(ctx context.Context, db *sql.DB, start, end int64) ([]market.Candle, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume, trades
		FROM candles
		WHERE open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		var k market.Candle
		if err := rows.Scan(&k.OpenTime, &k.CloseTime, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume, &k.Trades); err != nil {
			return nil, err
		}
		list = append(list, k)
	}
	return list, rows.Err()
}
