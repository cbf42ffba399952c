package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/tuning"
)

// SQLiteIndex is a queryable secondary index of plan records. Writes are
// queued and applied by a single goroutine in batched transactions; the
// JSONL plan log stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	// mu orders WritePlan's send against close(ch).
	mu   sync.RWMutex
	ch   chan bridge.PlanRecord
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64

	commitEvery   int
	commitMaxWait time.Duration
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTotal     uint64 `json:"drop_total"`
	WriteTotal    uint64 `json:"write_total"`
	FailTotal     uint64 `json:"fail_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:            db,
		ch:            make(chan bridge.PlanRecord, 16384),
		commitEvery:   500,
		commitMaxWait: time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS plans (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			session_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			layer INTEGER NOT NULL,
			found_goal INTEGER NOT NULL,
			returned_best INTEGER NOT NULL,
			reason TEXT NOT NULL,
			expansions INTEGER NOT NULL,
			path_len INTEGER NOT NULL,
			elapsed_ns INTEGER NOT NULL,
			scene_digest TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_plans_session ON plans(session_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_plans_reason ON plans(reason, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_plans_digest ON plans(scene_digest);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WritePlan enqueues r. It never blocks; records are dropped when the
// writer falls behind.
func (s *SQLiteIndex) WritePlan(r bridge.PlanRecord) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropped.Load(),
		WriteTotal:    s.written.Load(),
		FailTotal:     s.failed.Load(),
	}
}

// RecordTuning stores the applied tuning and its digest in meta.
func (s *SQLiteIndex) RecordTuning(t tuning.Tuning, digest string) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows := [][2]string{
		{"schema_version", "1"},
		{"tuning", string(b)},
		{"tuning_digest", digest},
		{"updated_at", time.Now().UTC().Format(time.RFC3339Nano)},
	}
	for _, kv := range rows {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Meta reads one meta value.
func (s *SQLiteIndex) Meta(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// ReasonCount is the number of indexed plans per failure reason.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// CountByReason groups indexed plans by failure reason, most frequent first.
func (s *SQLiteIndex) CountByReason(ctx context.Context) ([]ReasonCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT reason, COUNT(*) FROM plans GROUP BY reason ORDER BY COUNT(*) DESC, reason`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReasonCount
	for rows.Next() {
		var rc ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// SessionPlans returns the raw records of one session in write order.
func (s *SQLiteIndex) SessionPlans(ctx context.Context, sessionID string) ([]bridge.PlanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw_json FROM plans WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []bridge.PlanRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r bridge.PlanRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertPlan, err := s.db.Prepare(`INSERT INTO plans(time,session_id,request_id,kind,layer,found_goal,returned_best,reason,expansions,path_len,elapsed_ns,scene_digest,fingerprint,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		for range s.ch {
			s.failed.Add(1)
		}
		return
	}
	defer insertPlan.Close()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(uint64(opCount))
		} else {
			s.written.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failed.Add(uint64(opCount))
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	timer := time.NewTicker(s.commitMaxWait)
	defer timer.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				s.failed.Add(1)
				continue
			}
			d := r.Diagnostics
			raw, _ := json.Marshal(r)
			if _, err := tx.Stmt(insertPlan).Exec(
				r.Time,
				r.SessionID,
				r.RequestID,
				r.Kind,
				d.Layer,
				boolInt(d.FoundGoal),
				boolInt(d.ReturnedBest),
				string(d.FailureReason),
				d.Expansions,
				len(r.Path),
				int64(d.Elapsed),
				r.SceneDigest,
				r.Fingerprint,
				string(raw),
			); err != nil {
				s.failed.Add(1)
				rollback()
				continue
			}
			opCount++
			if opCount >= s.commitEvery {
				commit()
			}
		case <-timer.C:
			if tx != nil && time.Since(lastCommit) >= s.commitMaxWait {
				commit()
			}
		}
	}
}
