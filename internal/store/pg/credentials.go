package pg

import (
	"context"
	"database/sql"
	"errors"

	"investsmart.app/internal/identity"
)

// Credentials implements identity.CredentialStore over Postgres.
type Credentials struct {
	db *sql.DB
}

var _ identity.CredentialStore = (*Credentials)(nil)

// Credentials returns the credential store view of the pool.
func (s *Store) Credentials() *Credentials { return &Credentials{db: s.db} }

func (c *Credentials) Create(ctx context.Context, cred *identity.Credential) error {
	var createdAt any
	if !cred.CreatedAt.IsZero() {
		createdAt = cred.CreatedAt.UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		insert into credentials(uid, email, password_hash, role_claim, created_at)
		values ($1,$2,$3,$4, coalesce($5, now()))
	`, cred.UID, cred.Email, cred.PasswordHash, cred.RoleClaim, createdAt)
	if isUniqueViolation(err) {
		return identity.ErrConflict
	}
	return err
}

func (c *Credentials) Find(ctx context.Context, uid string) (*identity.Credential, error) {
	return c.scanOne(c.db.QueryRowContext(ctx, `
		select uid, email, password_hash, role_claim, created_at
		from credentials where uid=$1
	`, uid))
}

func (c *Credentials) FindByEmail(ctx context.Context, email string) (*identity.Credential, error) {
	return c.scanOne(c.db.QueryRowContext(ctx, `
		select uid, email, password_hash, role_claim, created_at
		from credentials where email=$1
	`, email))
}

func (c *Credentials) SetRoleClaim(ctx context.Context, uid, role string) error {
	res, err := c.db.ExecContext(ctx, `update credentials set role_claim=$2 where uid=$1`, uid, role)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (c *Credentials) List(ctx context.Context, limit int) ([]*identity.Credential, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx, `
		select uid, email, password_hash, role_claim, created_at
		from credentials
		order by email asc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.Credential
	for rows.Next() {
		var cred identity.Credential
		if err := rows.Scan(&cred.UID, &cred.Email, &cred.PasswordHash, &cred.RoleClaim, &cred.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &cred)
	}
	return out, rows.Err()
}

func (c *Credentials) scanOne(row *sql.Row) (*identity.Credential, error) {
	var cred identity.Credential
	err := row.Scan(&cred.UID, &cred.Email, &cred.PasswordHash, &cred.RoleClaim, &cred.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}
