package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/admin-dashboard-api/internal/model"
)

// ActivityRepo is the append-only audit store backed by the 'activities'
// table.  It exposes no update or delete.
type ActivityRepo struct{ DB *sql.DB }

func NewActivityRepo(db *sql.DB) *ActivityRepo { return &ActivityRepo{DB: db} }

// ActivityFilter selects a page of activity records.
type ActivityFilter struct {
	UserID   string
	Type     model.ActivityType
	Severity model.Severity
	Since    time.Time
	Page     int
	Limit    int
}

// ActivityCounts groups recent activity for the analytics overview.
type ActivityCounts struct {
	Total      int                        `json:"total"`
	ByType     map[model.ActivityType]int `json:"byType"`
	BySeverity map[model.Severity]int     `json:"bySeverity"`
}

// Insert appends a record, assigning its id and creation time when unset.
func (r *ActivityRepo) Insert(ctx context.Context, a *model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Severity == "" {
		a.Severity = model.SeverityLow
	}
	var meta []byte
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = b
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO activities (id, user_id, type, description, ip_address, user_agent, metadata, severity, created_at) VALUES (?,?,?,?,?,?,?,?,?)",
		a.ID, nullString(a.UserID), a.Type, a.Description, a.IPAddress, a.UserAgent, meta, a.Severity, a.CreatedAt)
	return err
}

// List returns one page of records, newest first, and the total count.
func (r *ActivityRepo) List(ctx context.Context, f ActivityFilter) ([]model.Activity, int, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where, args = append(where, "user_id=?"), append(args, f.UserID)
	}
	if f.Type != "" {
		where, args = append(where, "type=?"), append(args, f.Type)
	}
	if f.Severity != "" {
		where, args = append(where, "severity=?"), append(args, f.Severity)
	}
	if !f.Since.IsZero() {
		where, args = append(where, "created_at >= ?"), append(args, f.Since.UTC())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM activities"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activities: %w", err)
	}

	offset := 0
	if f.Page > 1 {
		offset = (f.Page - 1) * f.Limit
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, user_id, type, description, ip_address, user_agent, metadata, severity, created_at FROM activities"+
			clause+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	out := make([]model.Activity, 0, f.Limit)
	for rows.Next() {
		var (
			a      model.Activity
			userID sql.NullString
			meta   []byte
		)
		if err := rows.Scan(&a.ID, &userID, &a.Type, &a.Description, &a.IPAddress, &a.UserAgent, &meta, &a.Severity, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		a.UserID = userID.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				return nil, 0, fmt.Errorf("decode metadata of %s: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// CountsSince groups records created at or after since by type and severity.
func (r *ActivityRepo) CountsSince(ctx context.Context, since time.Time) (ActivityCounts, error) {
	c := ActivityCounts{
		ByType:     map[model.ActivityType]int{},
		BySeverity: map[model.Severity]int{},
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT type, severity, COUNT(*) FROM activities WHERE created_at >= ? GROUP BY type, severity", since.UTC())
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t model.ActivityType
			s model.Severity
			n int
		)
		if err := rows.Scan(&t, &s, &n); err != nil {
			return c, err
		}
		c.Total += n
		c.ByType[t] += n
		c.BySeverity[s] += n
	}
	return c, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
