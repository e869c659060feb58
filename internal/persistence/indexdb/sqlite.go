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

	"beaconranger.dev/internal/beacons"
)

// SchemaVersion is stored in the meta table.
const SchemaVersion = "1"

// SQLiteIndex is a queryable copy of the audit trail and pass history. Writes
// are queued and applied by one goroutine in batched transactions; the
// compressed JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropAudit atomic.Uint64
	dropPass  atomic.Uint64
	written   atomic.Uint64
	failed    atomic.Uint64
}

type reqKind int

const (
	reqAudit reqKind = iota + 1
	reqPass
)

type req struct {
	kind  reqKind
	audit beacons.AuditEntry
	pass  beacons.PassStats
}

// Stats reports queue health.
type Stats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropAuditTotal uint64 `json:"drop_audit_total"`
	DropPassTotal  uint64 `json:"drop_pass_total"`
	WrittenTotal   uint64 `json:"written_total"`
	FailedTotal    uint64 `json:"failed_total"`
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
		db: db,
		ch: make(chan req, 16384),
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
		`CREATE TABLE IF NOT EXISTS audits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			kind TEXT NOT NULL,
			mode TEXT NOT NULL,
			world TEXT,
			x INTEGER,
			y INTEGER,
			z INTEGER,
			tracked INTEGER NOT NULL,
			radius INTEGER,
			reason TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_kind_time ON audits(kind, time);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_pos ON audits(world, x, z, y);`,
		`CREATE TABLE IF NOT EXISTS passes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			mode TEXT NOT NULL,
			started TEXT NOT NULL,
			duration_ns INTEGER NOT NULL,
			checked INTEGER NOT NULL,
			updated INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			pruned INTEGER NOT NULL,
			routed INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_passes_started ON passes(started);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + SchemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteAudit(entry beacons.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		// Drop if the indexer falls behind.
		s.dropAudit.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WritePass(p beacons.PassStats) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqPass, pass: p}:
	default:
		s.dropPass.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropAuditTotal: s.dropAudit.Load(),
		DropPassTotal:  s.dropPass.Load(),
		WrittenTotal:   s.written.Load(),
		FailedTotal:    s.failed.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAudit, _ := s.db.Prepare(`INSERT INTO audits(time,kind,mode,world,x,y,z,tracked,radius,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertPass, _ := s.db.Prepare(`INSERT INTO passes(seq,mode,started,duration_ns,checked,updated,failed,pruned,routed) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertAudit != nil {
			_ = insertAudit.Close()
		}
		if insertPass != nil {
			_ = insertPass.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
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
		s.failed.Add(uint64(opCount) + 1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.failed.Add(1)
			continue
		}
		switch r.kind {
		case reqAudit:
			if insertAudit == nil {
				continue
			}
			a := r.audit
			raw, _ := json.Marshal(a)
			var world sql.NullString
			var x, y, z sql.NullInt64
			if a.Location != nil {
				world = sql.NullString{String: a.Location.World, Valid: true}
				x = sql.NullInt64{Int64: int64(a.Location.X), Valid: true}
				y = sql.NullInt64{Int64: int64(a.Location.Y), Valid: true}
				z = sql.NullInt64{Int64: int64(a.Location.Z), Valid: true}
			}
			if _, err := tx.Stmt(insertAudit).Exec(
				a.Time.UTC().Format(time.RFC3339Nano),
				a.Kind,
				a.Mode,
				world, x, y, z,
				a.Tracked,
				a.Radius,
				a.Reason,
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqPass:
			if insertPass == nil {
				continue
			}
			p := r.pass
			if _, err := tx.Stmt(insertPass).Exec(
				int64(p.Seq),
				p.Mode,
				p.Started.UTC().Format(time.RFC3339Nano),
				int64(p.Duration),
				p.Checked,
				p.Updated,
				p.Failed,
				p.Pruned,
				p.Routed,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
