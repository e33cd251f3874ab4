package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/gearsauth/internal/domain/user"
	"github.com/geocoder89/gearsauth/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, password_hash, security_stamp, name, role, is_active, email_confirmed, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

// scanUser leaves pgx.ErrNoRows untouched so ObserveDB sees an empty result, not a failure.
func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.SecurityStamp,
		&u.Name,
		&u.Role,
		&u.IsActive,
		&u.EmailConfirmed,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func notFound(u user.User, err error) (user.User, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return user.User{}, user.ErrUserNotFound
	}
	return u, err
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.get_by_email", func() error {
		u, err = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+`
			 FROM users
			 WHERE lower(email) = $1`,
			user.NormalizeEmail(email),
		))
		return err
	})

	return notFound(u, err)
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	// the column is a uuid; anything else can never match
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, user.ErrUserNotFound
	}

	var u user.User
	var err error

	err = r.observe("users.get_by_id", func() error {
		u, err = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+`
			 FROM users
			 WHERE id = $1`,
			id,
		))
		return err
	})

	return notFound(u, err)
}

// UpdatePasswordHash replaces the hash and rotates the security stamp in one statement.
// The stamp the caller read acts as the concurrency token.
func (r *UsersRepo) UpdatePasswordHash(ctx context.Context, id, expectedStamp, hash, newStamp string) error {
	var tag pgconn.CommandTag
	var err error

	err = r.observe("users.update_password_hash", func() error {
		tag, err = r.pool.Exec(ctx, `
			UPDATE users
			SET password_hash = $2,
			    security_stamp = $3,
			    updated_at = NOW()
			WHERE id = $1 AND security_stamp = $4
		`, id, hash, newStamp, expectedStamp)
		return err
	})

	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return user.ErrStaleUser
	}
	return nil
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	now := time.Now().UTC()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.SecurityStamp == "" {
		u.SecurityStamp = uuid.NewString()
	}
	u.Email = user.NormalizeEmail(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now

	err := r.observe("users.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO users (`+userColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			u.ID, u.Email, u.PasswordHash, u.SecurityStamp, u.Name, u.Role,
			u.IsActive, u.EmailConfirmed, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrEmailAlreadyUsed
		}
		return user.User{}, err
	}

	return u, nil
}
