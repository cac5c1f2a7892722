package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/pkg/cryptox"
	"github.com/latchkeyhq/latchkey/store"
)

// passwordService is the service name the password credential lives under.
const passwordService = "password"

type passwordPayload struct {
	Hash string `json:"hash"`
}

type usersRepo struct {
	db dbtx
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now().Unix()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, nullIfEmpty(u.Username), boolToInt(u.Active), now, now,
	)
	if err != nil {
		return mapConflict(err)
	}

	for _, e := range u.Emails {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO user_emails (user_id, address, verified) VALUES (?, ?, ?)`,
			u.ID, e.Address, boolToInt(e.Verified),
		)
		if err != nil {
			// Compensate so a duplicate address doesn't leave a half
			// created user behind.
			_, _ = r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, u.ID)
			return mapConflict(err)
		}
	}

	return nil
}

const userColumns = `id, username, active, created_at, updated_at`

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return r.scanUser(ctx, row)
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return r.scanUser(ctx, row)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, address string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT u.id, u.username, u.active, u.created_at, u.updated_at
		   FROM users u JOIN user_emails e ON e.user_id = u.id
		  WHERE e.address = ? COLLATE NOCASE`, address)
	return r.scanUser(ctx, row)
}

func (r *usersRepo) GetUserByServiceID(ctx context.Context, serviceName, serviceID string) (domain.User, error) {
	if serviceID == "" {
		return domain.User{}, store.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT u.id, u.username, u.active, u.created_at, u.updated_at
		   FROM users u JOIN user_services s ON s.user_id = u.id
		  WHERE s.name = ? AND s.service_id = ?`, serviceName, serviceID)
	return r.scanUser(ctx, row)
}

func (r *usersRepo) scanUser(ctx context.Context, row *sql.Row) (domain.User, error) {
	var (
		u        domain.User
		username sql.NullString
		active   int
		created  int64
		updated  int64
	)
	if err := row.Scan(&u.ID, &username, &active, &created, &updated); err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.Username = username.String
	u.Active = active != 0
	u.CreatedAt = time.Unix(created, 0).UTC()
	u.UpdatedAt = time.Unix(updated, 0).UTC()

	if err := r.loadEmails(ctx, &u); err != nil {
		return domain.User{}, err
	}
	if err := r.loadServices(ctx, &u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (r *usersRepo) loadEmails(ctx context.Context, u *domain.User) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT address, verified FROM user_emails WHERE user_id = ? ORDER BY address`, u.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec      domain.EmailRecord
			verified int
		)
		if err := rows.Scan(&rec.Address, &verified); err != nil {
			return err
		}
		rec.Verified = verified != 0
		u.Emails = append(u.Emails, rec)
	}
	return rows.Err()
}

func (r *usersRepo) loadServices(ctx context.Context, u *domain.User) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, service_id, payload FROM user_services WHERE user_id = ?`, u.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name    string
			rec     domain.ServiceRecord
			payload []byte
		)
		if err := rows.Scan(&name, &rec.ServiceID, &payload); err != nil {
			return err
		}
		rec.Payload = payload
		if u.Services == nil {
			u.Services = make(map[string]domain.ServiceRecord)
		}
		u.Services[name] = rec
	}
	return rows.Err()
}

func (r *usersRepo) FindPasswordHash(ctx context.Context, userID string) (string, error) {
	rec, err := r.GetService(ctx, userID, passwordService)
	if err != nil {
		return "", err
	}

	var p passwordPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return "", err
	}
	if p.Hash == "" {
		return "", store.ErrNotFound
	}
	return p.Hash, nil
}

func (r *usersRepo) SetPassword(ctx context.Context, userID, hash string) error {
	payload, err := json.Marshal(passwordPayload{Hash: hash})
	if err != nil {
		return err
	}
	return r.SetService(ctx, userID, passwordService, "", payload)
}

func (r *usersRepo) SetResetPassword(ctx context.Context, userID, hash string) error {
	if err := r.SetPassword(ctx, userID, hash); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM login_tokens WHERE user_id = ? AND kind = ?`,
		userID, string(domain.TokenKindResetPassword))
	return err
}

func (r *usersRepo) SetUsername(ctx context.Context, userID, username string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = ?, updated_at = ? WHERE id = ?`,
		nullIfEmpty(username), time.Now().Unix(), userID)
	if err != nil {
		return mapConflict(err)
	}
	return requireRow(res)
}

func (r *usersRepo) SetActive(ctx context.Context, userID string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().Unix(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) AddEmail(ctx context.Context, userID, address string, verified bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_emails (user_id, address, verified) VALUES (?, ?, ?)`,
		userID, address, boolToInt(verified))
	return mapConflict(err)
}

func (r *usersRepo) RemoveEmail(ctx context.Context, userID, address string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_emails WHERE user_id = ? AND address = ? COLLATE NOCASE`,
		userID, address)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) VerifyEmail(ctx context.Context, userID, address string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_emails SET verified = 1 WHERE user_id = ? AND address = ? COLLATE NOCASE`,
		userID, address)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) SetService(ctx context.Context, userID, serviceName, serviceID string, payload []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_services (user_id, name, service_id, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, name) DO UPDATE SET service_id = excluded.service_id, payload = excluded.payload`,
		userID, serviceName, serviceID, payload)
	return err
}

func (r *usersRepo) UnsetService(ctx context.Context, userID, serviceName string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_services WHERE user_id = ? AND name = ?`, userID, serviceName)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) GetService(ctx context.Context, userID, serviceName string) (domain.ServiceRecord, error) {
	var (
		rec     domain.ServiceRecord
		payload []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT service_id, payload FROM user_services WHERE user_id = ? AND name = ?`,
		userID, serviceName).Scan(&rec.ServiceID, &payload)
	if err != nil {
		return domain.ServiceRecord{}, mapNotFound(err)
	}
	rec.Payload = payload
	return rec, nil
}

func (r *usersRepo) AddEmailVerificationToken(ctx context.Context, userID, address, token string) error {
	return r.AddLoginToken(ctx, domain.TokenKindVerifyEmail, userID, address, token)
}

func (r *usersRepo) AddResetPasswordToken(ctx context.Context, userID, address, token string) error {
	return r.AddLoginToken(ctx, domain.TokenKindResetPassword, userID, address, token)
}

func (r *usersRepo) AddLoginToken(ctx context.Context, kind domain.TokenKind, userID, address, token string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_tokens (kind, fingerprint, user_id, address, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(kind), cryptox.FingerprintToken(token), userID, address, time.Now().Unix())
	return mapConflict(err)
}

// ConsumeLoginToken deletes the row and returns what it held in one
// statement, so two racing consumers can never both succeed.
func (r *usersRepo) ConsumeLoginToken(ctx context.Context, kind domain.TokenKind, token string) (string, domain.TokenRecord, error) {
	var (
		userID  string
		rec     domain.TokenRecord
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM login_tokens WHERE kind = ? AND fingerprint = ? RETURNING user_id, address, created_at`,
		string(kind), cryptox.FingerprintToken(token)).Scan(&userID, &rec.Address, &created)
	if err != nil {
		return "", domain.TokenRecord{}, mapNotFound(err)
	}
	rec.When = time.Unix(created, 0).UTC()
	return userID, rec, nil
}

func (r *usersRepo) DeleteExpiredLoginTokens(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM login_tokens WHERE created_at < ?`, cutoff.Unix())
	return err
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
