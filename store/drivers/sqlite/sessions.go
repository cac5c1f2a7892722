package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/latchkeyhq/latchkey/domain"
)

type sessionsRepo struct {
	db dbtx
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	extra, err := marshalExtra(s.ExtraData)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, valid, ip, user_agent, impersonated, extra_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, boolToInt(s.Valid), s.IP, s.UserAgent, boolToInt(s.Impersonated), extra, now, now)
	return mapConflict(err)
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	var (
		s            domain.Session
		valid        int
		impersonated int
		extra        sql.NullString
		created      int64
		updated      int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, valid, ip, user_agent, impersonated, extra_data, created_at, updated_at
		   FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.UserID, &valid, &s.IP, &s.UserAgent, &impersonated, &extra, &created, &updated)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.Valid = valid != 0
	s.Impersonated = impersonated != 0
	s.CreatedAt = time.Unix(created, 0).UTC()
	s.UpdatedAt = time.Unix(updated, 0).UTC()
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &s.ExtraData); err != nil {
			return domain.Session{}, err
		}
	}
	return s, nil
}

func (r *sessionsRepo) GetSessionsByUserID(ctx context.Context, userID string) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, valid, ip, user_agent, impersonated, extra_data, created_at, updated_at
		   FROM sessions WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var (
			s            domain.Session
			valid        int
			impersonated int
			extra        sql.NullString
			created      int64
			updated      int64
		)
		if err := rows.Scan(&s.ID, &s.UserID, &valid, &s.IP, &s.UserAgent, &impersonated, &extra, &created, &updated); err != nil {
			return nil, err
		}
		s.Valid = valid != 0
		s.Impersonated = impersonated != 0
		s.CreatedAt = time.Unix(created, 0).UTC()
		s.UpdatedAt = time.Unix(updated, 0).UTC()
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &s.ExtraData); err != nil {
				return nil, err
			}
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateSession refreshes connection metadata only. The valid flag is
// owned by the invalidate operations and is never written here.
func (r *sessionsRepo) UpdateSession(ctx context.Context, id string, conn domain.ConnectionInfo) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET ip = ?, user_agent = ?, updated_at = ? WHERE id = ?`,
		conn.IP, conn.UserAgent, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *sessionsRepo) InvalidateSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET valid = 0, updated_at = ? WHERE id = ? AND valid = 1`,
		time.Now().Unix(), id)
	return err
}

func (r *sessionsRepo) InvalidateAllSessions(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET valid = 0, updated_at = ? WHERE user_id = ? AND valid = 1`,
		time.Now().Unix(), userID)
	return err
}

func marshalExtra(extra map[string]string) (sql.NullString, error) {
	if len(extra) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
