package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
	"github.com/trezcool/attendance/core/user"
)

const userColumns = "id, name, email, role, department, is_active, password_hash, created_at, updated_at, last_login"

var userOrderings = map[string]string{
	"name":       "name",
	"email":      "email",
	"role":       "role",
	"department": "department",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `INSERT INTO users (` + userColumns + `)
		VALUES (:id, :name, :email, :role, :department, :is_active, :password_hash, :created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, q, usr); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, core.NewValidationError(user.ErrEmailExists, core.FieldError{Field: "email", Error: user.ErrEmailExists.Error()})
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter user.QueryFilter, orderings []core.DBOrdering) ([]user.User, error) {
	var w where
	w.search(filter.Search, "name", "email", "department")
	w.in("role", filter.Roles)
	if filter.Department != "" {
		w.add("department = ?", filter.Department)
	}
	if filter.IsActive != nil {
		w.add("is_active = ?", *filter.IsActive)
	}
	if !filter.CreatedFrom.IsZero() {
		w.add("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if !filter.CreatedTo.IsZero() {
		w.add("created_at <= ?", filter.CreatedTo.UTC())
	}
	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "name", Ascending: true}}
	}

	q := "SELECT " + userColumns + " FROM users" + w.String() + orderBy(orderings, userOrderings)
	users := make([]user.User, 0)
	if err := repo.db.SelectContext(ctx, &users, repo.db.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return users, nil
}

func (repo userRepository) getUser(ctx context.Context, col, val string) (user.User, error) {
	var usr user.User
	q := repo.db.Rebind("SELECT " + userColumns + " FROM users WHERE " + col + " = ?")
	if err := repo.db.GetContext(ctx, &usr, q, val); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user by "+col)
	}
	return usr, nil
}

func (repo userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.getUser(ctx, "id", id)
}

func (repo userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getUser(ctx, "email", email)
}

func (repo userRepository) EmailExists(ctx context.Context, email string, excludedIDs ...string) (bool, error) {
	var w where
	w.add("email = ?", email)
	w.in("id", excludedIDs, true)
	return exists(ctx, repo.db, "users", w)
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `UPDATE users SET name = :name, email = :email, role = :role, department = :department,
		is_active = :is_active, password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, usr)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, core.NewValidationError(user.ErrEmailExists, core.FieldError{Field: "email", Error: user.ErrEmailExists.Error()})
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if err := checkAffected(res, user.ErrNotFound); err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	var w where
	w.in("id", ids)
	if _, err := repo.db.ExecContext(ctx, repo.db.Rebind("DELETE FROM users"+w.String()), w.args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

func (repo userRepository) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	q := repo.db.Rebind("INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?) ON CONFLICT (jti) DO NOTHING")
	if _, err := repo.db.ExecContext(ctx, q, tokenID, expiresAt.UTC()); err != nil {
		return errors.Wrap(err, "revoking token")
	}
	return nil
}

func (repo userRepository) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	var w where
	w.add("jti = ?", tokenID)
	revoked, err := exists(ctx, repo.db, "revoked_tokens", w)
	if err != nil {
		return false, errors.Wrap(err, "checking revoked token")
	}
	return revoked, nil
}

func (repo userRepository) PurgeRevokedTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind("DELETE FROM revoked_tokens WHERE expires_at < ?"), before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purging revoked tokens")
	}
	return res.RowsAffected()
}
