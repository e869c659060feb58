package indexdb

import (
	"context"
	"database/sql"
	"strings"
)

type AuditRow struct {
	ID      int64  `json:"id"`
	Time    string `json:"time"`
	Kind    string `json:"kind"`
	Mode    string `json:"mode"`
	World   string `json:"world,omitempty"`
	X       *int64 `json:"x,omitempty"`
	Y       *int64 `json:"y,omitempty"`
	Z       *int64 `json:"z,omitempty"`
	Tracked int    `json:"tracked"`
	Radius  int    `json:"radius,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type PassRow struct {
	Seq        int64  `json:"seq"`
	Mode       string `json:"mode"`
	Started    string `json:"started"`
	DurationNS int64  `json:"duration_ns"`
	Checked    int    `json:"checked"`
	Updated    int    `json:"updated"`
	Failed     int    `json:"failed"`
	Pruned     int    `json:"pruned"`
	Routed     int    `json:"routed"`
}

// AuditQuery filters QueryAudits. Empty fields match everything.
type AuditQuery struct {
	Kind  string
	World string
	Limit int
}

// QueryAudits returns matching audit rows, newest first.
func QueryAudits(ctx context.Context, db *sql.DB, q AuditQuery) ([]AuditRow, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	var where []string
	var args []any
	if k := strings.TrimSpace(q.Kind); k != "" {
		where = append(where, "kind = ?")
		args = append(args, strings.ToUpper(k))
	}
	if w := strings.TrimSpace(q.World); w != "" {
		where = append(where, "world = ?")
		args = append(args, w)
	}
	stmt := `SELECT id,time,kind,mode,world,x,y,z,tracked,radius,reason FROM audits`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditRow
	for rows.Next() {
		var (
			r       AuditRow
			world   sql.NullString
			x, y, z sql.NullInt64
			radius  sql.NullInt64
			reason  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Time, &r.Kind, &r.Mode, &world, &x, &y, &z, &r.Tracked, &radius, &reason); err != nil {
			return nil, err
		}
		r.World = world.String
		r.X, r.Y, r.Z = nullInt(x), nullInt(y), nullInt(z)
		r.Radius = int(radius.Int64)
		r.Reason = reason.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryPasses returns the most recent passes, newest first.
func QueryPasses(ctx context.Context, db *sql.DB, limit int) ([]PassRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT seq,mode,started,duration_ns,checked,updated,failed,pruned,routed FROM passes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PassRow
	for rows.Next() {
		var r PassRow
		if err := rows.Scan(&r.Seq, &r.Mode, &r.Started, &r.DurationNS, &r.Checked, &r.Updated, &r.Failed, &r.Pruned, &r.Routed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AuditCounts returns the number of audit rows per kind.
func AuditCounts(ctx context.Context, db *sql.DB) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM audits GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
