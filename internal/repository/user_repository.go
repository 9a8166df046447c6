package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/admin-dashboard-api/internal/model"
	"github.com/iliyamo/admin-dashboard-api/internal/utils"
)

const userColumns = "id,username,email,role,status,is_online,last_activity,login_count,last_login_at,last_login_ip,last_login_device,created_at,updated_at"

// UserRepo persists identities in the 'users' table.  Role and status are
// normalised to canonical casing on every write.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// UserPatch is a partial update.  Nil fields are left untouched.
type UserPatch struct {
	Username     *string
	Email        *string
	PasswordHash *string
	Role         *model.Role
	Status       *model.Status
	IsOnline     *bool
}

// UserFilter selects a page of identities for the admin list.
type UserFilter struct {
	Search string
	Role   model.Role
	Status model.Status
	Page   int
	Limit  int
}

// Offset returns the row offset for the page (pages are 1-based).
func (f UserFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// UserStats is the aggregate used by the analytics overview.
type UserStats struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Inactive    int `json:"inactive"`
	Suspended   int `json:"suspended"`
	Admins      int `json:"admins"`
	Online      int `json:"online"`
	NewLastWeek int `json:"newLastWeek"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner, withHash bool) (model.Identity, error) {
	var (
		u                 model.Identity
		lastActivity      sql.NullTime
		lastLoginAt       sql.NullTime
		lastIP, lastAgent sql.NullString
	)
	dest := []any{&u.ID, &u.Username, &u.Email, &u.Role, &u.Status, &u.IsOnline, &lastActivity,
		&u.LoginCount, &lastLoginAt, &lastIP, &lastAgent, &u.CreatedAt, &u.UpdatedAt}
	if withHash {
		dest = append(dest, &u.PasswordHash)
	}
	if err := s.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Identity{}, ErrNotFound
		}
		return model.Identity{}, err
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		u.LastActivity = &t
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		u.LastLoginAt = &t
	}
	u.LastLoginIP = lastIP.String
	u.LastLoginDevice = lastAgent.String
	return u, nil
}

// Create hashes the password and inserts the identity, filling in its
// generated id and timestamps.
func (r *UserRepo) Create(ctx context.Context, u *model.Identity, password string, cost int) error {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	u.ID = uuid.NewString()
	u.Email = model.NormalizeEmail(u.Email)
	u.Username = strings.TrimSpace(u.Username)
	u.Role = model.NormalizeRole(u.Role)
	u.Status = model.NormalizeStatus(u.Status)
	u.PasswordHash = hash
	u.CreatedAt, u.UpdatedAt = now, now

	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO users (id, username, email, password_hash, role, status, is_online, login_count, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)",
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.Status, u.IsOnline, u.LoginCount, now, now)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// FindByID fetches an identity without its password hash.
func (r *UserRepo) FindByID(ctx context.Context, id string) (model.Identity, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return scanUser(row, false)
}

// FindByIDWithHash fetches an identity including its password hash, for
// password verification only.
func (r *UserRepo) FindByIDWithHash(ctx context.Context, id string) (model.Identity, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+userColumns+",password_hash FROM users WHERE id=? LIMIT 1", id)
	return scanUser(row, true)
}

// FindByLogin fetches an identity, with hash, by email or username.
func (r *UserRepo) FindByLogin(ctx context.Context, login string) (model.Identity, error) {
	login = strings.TrimSpace(login)
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+",password_hash FROM users WHERE email=? OR username=? LIMIT 1",
		model.NormalizeEmail(login), login)
	return scanUser(row, true)
}

// Update applies a partial patch.  An empty patch is a no-op.
func (r *UserRepo) Update(ctx context.Context, id string, p UserPatch) error {
	var (
		sets []string
		args []any
	)
	if p.Username != nil {
		sets, args = append(sets, "username=?"), append(args, strings.TrimSpace(*p.Username))
	}
	if p.Email != nil {
		sets, args = append(sets, "email=?"), append(args, model.NormalizeEmail(*p.Email))
	}
	if p.PasswordHash != nil {
		sets, args = append(sets, "password_hash=?"), append(args, *p.PasswordHash)
	}
	if p.Role != nil {
		sets, args = append(sets, "role=?"), append(args, model.NormalizeRole(*p.Role))
	}
	if p.Status != nil {
		sets, args = append(sets, "status=?"), append(args, model.NormalizeStatus(*p.Status))
	}
	if p.IsOnline != nil {
		sets, args = append(sets, "is_online=?"), append(args, *p.IsOnline)
	}
	if len(sets) == 0 {
		return nil
	}
	sets, args = append(sets, "updated_at=?"), append(args, time.Now().UTC(), id)

	res, err := r.DB.ExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ",")+" WHERE id=?", args...)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return requireAffected(res)
}

// Touch records request activity: last_activity and the online flag.  It is
// last-write-wins and safe to call concurrently.
func (r *UserRepo) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET last_activity=?, is_online=1 WHERE id=?", at.UTC(), id)
	return err
}

// RecordLogin bumps the login counter and stores device metadata.
func (r *UserRepo) RecordLogin(ctx context.Context, id, ip, device string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET login_count=login_count+1, last_login_at=?, last_login_ip=?, last_login_device=?, last_activity=?, is_online=1 WHERE id=?",
		at.UTC(), ip, device, at.UTC(), id)
	return err
}

// SetOnline flips the online flag.
func (r *UserRepo) SetOnline(ctx context.Context, id string, online bool) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET is_online=? WHERE id=?", online, id)
	return err
}

// SetStatus changes the status of every listed identity and returns the
// number of rows changed.
func (r *UserRepo) SetStatus(ctx context.Context, ids []string, status model.Status) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{model.NormalizeStatus(status), time.Now().UTC()}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET status=?, updated_at=? WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes an identity.  Activity rows keep their user_id.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// List returns one page of identities plus the total match count.
func (r *UserRepo) List(ctx context.Context, f UserFilter) ([]model.Identity, int, error) {
	var (
		where []string
		args  []any
	)
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		where, args = append(where, "(username LIKE ? OR email LIKE ?)"), append(args, like, like)
	}
	if f.Role != "" {
		where, args = append(where, "role=?"), append(args, model.NormalizeRole(f.Role))
	}
	if f.Status != "" {
		where, args = append(where, "status=?"), append(args, model.NormalizeStatus(f.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users"+clause+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]model.Identity, 0, f.Limit)
	for rows.Next() {
		u, err := scanUser(rows, false)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// MarkIdleOffline clears the online flag of identities whose last activity
// is before the cutoff and returns their ids.
func (r *UserRepo) MarkIdleOffline(ctx context.Context, before time.Time) ([]string, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM users WHERE is_online=1 AND (last_activity IS NULL OR last_activity < ?) FOR UPDATE", before.UTC())
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.ExecContext(ctx, "UPDATE users SET is_online=0 WHERE id IN ("+placeholders(len(ids))+")", args...); err != nil {
		return nil, err
	}
	return ids, tx.Commit()
}

// Stats aggregates identity counts for the analytics overview.
func (r *UserRepo) Stats(ctx context.Context, now time.Time) (UserStats, error) {
	var s UserStats
	err := r.DB.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(status='active'),0),
		COALESCE(SUM(status='inactive'),0),
		COALESCE(SUM(status='suspended'),0),
		COALESCE(SUM(role='admin'),0),
		COALESCE(SUM(is_online=1),0),
		COALESCE(SUM(created_at >= ?),0)
		FROM users`, now.UTC().AddDate(0, 0, -7)).
		Scan(&s.Total, &s.Active, &s.Inactive, &s.Suspended, &s.Admins, &s.Online, &s.NewLastWeek)
	return s, err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
