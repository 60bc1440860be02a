package pg

import (
	"context"
	"database/sql"
	"errors"

	"investsmart.app/internal/directory"
	"investsmart.app/internal/page"
)

// Profiles implements directory.Store over Postgres. Listing is keyset
// pagination over (last_login, uid) descending.
type Profiles struct {
	db *sql.DB
}

var _ directory.Store = (*Profiles)(nil)

// Profiles returns the profile store view of the pool.
func (s *Store) Profiles() *Profiles { return &Profiles{db: s.db} }

func (p *Profiles) Create(ctx context.Context, profile *directory.Profile) error {
	var lastLogin any
	if !profile.LastLogin.IsZero() {
		lastLogin = profile.LastLogin.UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		insert into users(uid, email, first_name, last_name, disabled, last_login)
		values ($1,$2,$3,$4,$5, coalesce($6, now()))
	`, profile.UID, profile.Email, profile.FirstName, profile.LastName, profile.Disabled, lastLogin)
	if isUniqueViolation(err) {
		return directory.ErrConflict
	}
	return err
}

func (p *Profiles) Ensure(ctx context.Context, uid, email string) error {
	_, err := p.db.ExecContext(ctx, `
		insert into users(uid, email, first_name, last_name, disabled, last_login)
		values ($1,$2,'','',false,now())
		on conflict (uid) do update set last_login = now()
	`, uid, email)
	return err
}

func (p *Profiles) Find(ctx context.Context, uid string) (*directory.Profile, error) {
	var out directory.Profile
	err := p.db.QueryRowContext(ctx, `
		select uid, email, first_name, last_name, disabled, last_login
		from users where uid=$1
	`, uid).Scan(&out.UID, &out.Email, &out.FirstName, &out.LastName, &out.Disabled, &out.LastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Profiles) List(ctx context.Context, req page.Request) (directory.Page, error) {
	req = req.Normalize()

	query := `
		select uid, email, first_name, last_name, disabled, last_login
		from users
		order by last_login desc, uid desc
		limit $1
	`
	args := []any{req.Limit}
	if req.Cursor != "" {
		pos, err := page.Decode(req.Cursor, directory.Collection, directory.OrderKey)
		if err != nil {
			return directory.Page{}, err
		}
		ts, uid, err := directory.SplitPosition(pos)
		if err != nil {
			return directory.Page{}, err
		}
		query = `
			select uid, email, first_name, last_name, disabled, last_login
			from users
			where (last_login, uid) < ($1, $2)
			order by last_login desc, uid desc
			limit $3
		`
		args = []any{ts, uid, req.Limit}
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return directory.Page{}, err
	}
	defer rows.Close()

	var out directory.Page
	for rows.Next() {
		var pr directory.Profile
		if err := rows.Scan(&pr.UID, &pr.Email, &pr.FirstName, &pr.LastName, &pr.Disabled, &pr.LastLogin); err != nil {
			return directory.Page{}, err
		}
		out.Profiles = append(out.Profiles, pr)
	}
	if err := rows.Err(); err != nil {
		return directory.Page{}, err
	}
	if len(out.Profiles) == req.Limit {
		last := out.Profiles[len(out.Profiles)-1]
		out.NextCursor = page.Encode(directory.Collection, directory.OrderKey, directory.Position(last.LastLogin, last.UID))
	}
	return out, nil
}

func (p *Profiles) SearchByEmail(ctx context.Context, prefix string, limit int) ([]directory.Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = page.DefaultSize
	}
	// Range scan over the email index, upper-bounded by the highest code point.
	rows, err := p.db.QueryContext(ctx, `
		select uid, email, first_name, last_name, disabled, last_login
		from users
		where email >= $1 and email <= $1 || chr(1114111)
		order by email asc
		limit $2
	`, prefix, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []directory.Profile
	for rows.Next() {
		var pr directory.Profile
		if err := rows.Scan(&pr.UID, &pr.Email, &pr.FirstName, &pr.LastName, &pr.Disabled, &pr.LastLogin); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *Profiles) SetDisabled(ctx context.Context, uid string, disabled bool) error {
	res, err := p.db.ExecContext(ctx, `update users set disabled=$2 where uid=$1`, uid, disabled)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Profiles) Delete(ctx context.Context, uid string) error {
	res, err := p.db.ExecContext(ctx, `delete from users where uid=$1`, uid)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return directory.ErrNotFound
	}
	return nil
}
