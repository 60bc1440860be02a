package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"investsmart.app/internal/audit"
	"investsmart.app/internal/ids"
	"investsmart.app/internal/page"
	"investsmart.app/internal/rbac"
)

// AuditLog implements audit.Store over Postgres. The table is append-only;
// there is no update or delete path. ID and timestamp are assigned here, the
// timestamp by the database clock.
type AuditLog struct {
	db *sql.DB
}

var _ audit.Store = (*AuditLog)(nil)

// AuditLog returns the audit store view of the pool.
func (s *Store) AuditLog() *AuditLog { return &AuditLog{db: s.db} }

func (a *AuditLog) Append(ctx context.Context, rec *audit.Record) error {
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	var targetType, targetID any
	if rec.Target != nil {
		targetType, targetID = rec.Target.Type, rec.Target.ID
	}

	rec.ID = ids.New()
	return a.db.QueryRowContext(ctx, `
		insert into audit_logs(id, ts, action, actor_uid, actor_email, actor_role, target_type, target_id, meta)
		values ($1, now(), $2, $3, $4, $5, $6, $7, $8)
		returning ts
	`, rec.ID, rec.Action, rec.Actor.UID, rec.Actor.Email, string(rec.Actor.Role), targetType, targetID, meta).Scan(&rec.TS)
}

func (a *AuditLog) List(ctx context.Context, req page.Request) (audit.Page, error) {
	req = req.Normalize()

	query := `
		select id, ts, action, actor_uid, actor_email, actor_role, target_type, target_id, meta
		from audit_logs
		order by ts desc, id desc
		limit $1
	`
	args := []any{req.Limit}
	if req.Cursor != "" {
		pos, err := page.Decode(req.Cursor, audit.Collection, audit.OrderKey)
		if err != nil {
			return audit.Page{}, err
		}
		ts, id, err := audit.SplitPosition(pos)
		if err != nil {
			return audit.Page{}, err
		}
		query = `
			select id, ts, action, actor_uid, actor_email, actor_role, target_type, target_id, meta
			from audit_logs
			where (ts, id) < ($1, $2)
			order by ts desc, id desc
			limit $3
		`
		args = []any{ts, id, req.Limit}
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return audit.Page{}, err
	}
	defer rows.Close()

	var out audit.Page
	for rows.Next() {
		var (
			rec                audit.Record
			role               string
			targetType, target sql.NullString
			meta               []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TS, &rec.Action, &rec.Actor.UID, &rec.Actor.Email, &role, &targetType, &target, &meta); err != nil {
			return audit.Page{}, err
		}
		rec.Actor.Role = rbac.Role(role)
		if targetType.Valid {
			rec.Target = &audit.Target{Type: targetType.String, ID: target.String}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Meta); err != nil {
				return audit.Page{}, fmt.Errorf("decode meta: %w", err)
			}
		}
		out.Records = append(out.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return audit.Page{}, err
	}
	if len(out.Records) == req.Limit {
		last := out.Records[len(out.Records)-1]
		out.NextCursor = page.Encode(audit.Collection, audit.OrderKey, audit.Position(last.TS, last.ID))
	}
	return out, nil
}
