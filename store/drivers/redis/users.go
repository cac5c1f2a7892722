package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/pkg/cryptox"
	"github.com/latchkeyhq/latchkey/store"
)

const passwordService = "password"

type userRecord struct {
	Username  string `json:"username,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

type emailRecord struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

type serviceRecord struct {
	ServiceID string          `json:"service_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type tokenRecord struct {
	UserID    string `json:"user_id"`
	Address   string `json:"address"`
	CreatedAt int64  `json:"created_at"`
}

type passwordPayload struct {
	Hash string `json:"hash"`
}

type usersRepo struct {
	s *Store
}

func (r *usersRepo) userKey(id string) string     { return r.s.key("user", id) }
func (r *usersRepo) emailsKey(id string) string   { return r.s.key("user", id, "emails") }
func (r *usersRepo) servicesKey(id string) string { return r.s.key("user", id, "services") }
func (r *usersRepo) tokenSetKey(id string, kind domain.TokenKind) string {
	return r.s.key("user", id, "tokens", string(kind))
}
func (r *usersRepo) usernameIdx(username string) string {
	return r.s.key("idx", "username", username)
}
func (r *usersRepo) emailIdx(address string) string {
	return r.s.key("idx", "email", strings.ToLower(address))
}
func (r *usersRepo) serviceIdx(name, serviceID string) string {
	return r.s.key("idx", "service", name, serviceID)
}
func (r *usersRepo) tokenKey(kind domain.TokenKind, fingerprint string) string {
	return r.s.key("token", string(kind), fingerprint)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	rdb := r.s.rdb

	// Claim the uniqueness indexes first, compensating on conflict, then
	// write the record itself.
	var claimed []string
	release := func() {
		if len(claimed) > 0 {
			_ = rdb.Del(ctx, claimed...).Err()
		}
	}

	if u.Username != "" {
		ok, err := rdb.SetNX(ctx, r.usernameIdx(u.Username), u.ID, 0).Result()
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrAlreadyExists
		}
		claimed = append(claimed, r.usernameIdx(u.Username))
	}

	for _, e := range u.Emails {
		ok, err := rdb.SetNX(ctx, r.emailIdx(e.Address), u.ID, 0).Result()
		if err != nil {
			release()
			return err
		}
		if !ok {
			release()
			return store.ErrAlreadyExists
		}
		claimed = append(claimed, r.emailIdx(e.Address))
	}

	now := time.Now().Unix()
	raw, err := json.Marshal(userRecord{
		Username:  u.Username,
		Active:    u.Active,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		release()
		return err
	}

	_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.userKey(u.ID), raw, 0)
		for _, e := range u.Emails {
			erc, err := json.Marshal(emailRecord{Address: e.Address, Verified: e.Verified})
			if err != nil {
				return err
			}
			pipe.HSet(ctx, r.emailsKey(u.ID), strings.ToLower(e.Address), erc)
		}
		return nil
	})
	if err != nil {
		release()
		return err
	}
	return nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	rdb := r.s.rdb

	raw, err := rdb.Get(ctx, r.userKey(id)).Bytes()
	if err != nil {
		return domain.User{}, mapNil(err)
	}
	var rec userRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.User{}, err
	}

	u := domain.User{
		ID:        id,
		Username:  rec.Username,
		Active:    rec.Active,
		CreatedAt: time.Unix(rec.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(rec.UpdatedAt, 0).UTC(),
	}

	emails, err := rdb.HGetAll(ctx, r.emailsKey(id)).Result()
	if err != nil {
		return domain.User{}, err
	}
	for _, v := range emails {
		var e emailRecord
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return domain.User{}, err
		}
		u.Emails = append(u.Emails, domain.EmailRecord{Address: e.Address, Verified: e.Verified})
	}

	services, err := rdb.HGetAll(ctx, r.servicesKey(id)).Result()
	if err != nil {
		return domain.User{}, err
	}
	for name, v := range services {
		var sr serviceRecord
		if err := json.Unmarshal([]byte(v), &sr); err != nil {
			return domain.User{}, err
		}
		if u.Services == nil {
			u.Services = make(map[string]domain.ServiceRecord)
		}
		u.Services[name] = domain.ServiceRecord{ServiceID: sr.ServiceID, Payload: sr.Payload}
	}

	return u, nil
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	id, err := r.s.rdb.Get(ctx, r.usernameIdx(username)).Result()
	if err != nil {
		return domain.User{}, mapNil(err)
	}
	return r.GetUserByID(ctx, id)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, address string) (domain.User, error) {
	id, err := r.s.rdb.Get(ctx, r.emailIdx(address)).Result()
	if err != nil {
		return domain.User{}, mapNil(err)
	}
	return r.GetUserByID(ctx, id)
}

func (r *usersRepo) GetUserByServiceID(ctx context.Context, serviceName, serviceID string) (domain.User, error) {
	if serviceID == "" {
		return domain.User{}, store.ErrNotFound
	}
	id, err := r.s.rdb.Get(ctx, r.serviceIdx(serviceName, serviceID)).Result()
	if err != nil {
		return domain.User{}, mapNil(err)
	}
	return r.GetUserByID(ctx, id)
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

	setKey := r.tokenSetKey(userID, domain.TokenKindResetPassword)
	fingerprints, err := r.s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(fingerprints)+1)
	for _, fp := range fingerprints {
		keys = append(keys, r.tokenKey(domain.TokenKindResetPassword, fp))
	}
	keys = append(keys, setKey)
	return r.s.rdb.Del(ctx, keys...).Err()
}

func (r *usersRepo) SetUsername(ctx context.Context, userID, username string) error {
	rec, err := r.getRecord(ctx, userID)
	if err != nil {
		return err
	}

	if username != "" && username != rec.Username {
		ok, err := r.s.rdb.SetNX(ctx, r.usernameIdx(username), userID, 0).Result()
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrAlreadyExists
		}
	}

	old := rec.Username
	rec.Username = username
	if err := r.putRecord(ctx, userID, rec); err != nil {
		return err
	}
	if old != "" && old != username {
		return r.s.rdb.Del(ctx, r.usernameIdx(old)).Err()
	}
	return nil
}

func (r *usersRepo) SetActive(ctx context.Context, userID string, active bool) error {
	rec, err := r.getRecord(ctx, userID)
	if err != nil {
		return err
	}
	rec.Active = active
	return r.putRecord(ctx, userID, rec)
}

func (r *usersRepo) AddEmail(ctx context.Context, userID, address string, verified bool) error {
	ok, err := r.s.rdb.SetNX(ctx, r.emailIdx(address), userID, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrAlreadyExists
	}

	raw, err := json.Marshal(emailRecord{Address: address, Verified: verified})
	if err != nil {
		return err
	}
	return r.s.rdb.HSet(ctx, r.emailsKey(userID), strings.ToLower(address), raw).Err()
}

func (r *usersRepo) RemoveEmail(ctx context.Context, userID, address string) error {
	n, err := r.s.rdb.HDel(ctx, r.emailsKey(userID), strings.ToLower(address)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return r.s.rdb.Del(ctx, r.emailIdx(address)).Err()
}

func (r *usersRepo) VerifyEmail(ctx context.Context, userID, address string) error {
	field := strings.ToLower(address)
	raw, err := r.s.rdb.HGet(ctx, r.emailsKey(userID), field).Bytes()
	if err != nil {
		return mapNil(err)
	}
	var e emailRecord
	if err := json.Unmarshal(raw, &e); err != nil {
		return err
	}
	e.Verified = true
	updated, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.s.rdb.HSet(ctx, r.emailsKey(userID), field, updated).Err()
}

func (r *usersRepo) SetService(ctx context.Context, userID, serviceName, serviceID string, payload []byte) error {
	// Move the service-id index when the identifier changes.
	if prev, err := r.s.rdb.HGet(ctx, r.servicesKey(userID), serviceName).Bytes(); err == nil {
		var old serviceRecord
		if err := json.Unmarshal(prev, &old); err == nil && old.ServiceID != "" && old.ServiceID != serviceID {
			_ = r.s.rdb.Del(ctx, r.serviceIdx(serviceName, old.ServiceID)).Err()
		}
	}

	raw, err := json.Marshal(serviceRecord{ServiceID: serviceID, Payload: payload})
	if err != nil {
		return err
	}
	if err := r.s.rdb.HSet(ctx, r.servicesKey(userID), serviceName, raw).Err(); err != nil {
		return err
	}
	if serviceID != "" {
		return r.s.rdb.Set(ctx, r.serviceIdx(serviceName, serviceID), userID, 0).Err()
	}
	return nil
}

func (r *usersRepo) UnsetService(ctx context.Context, userID, serviceName string) error {
	raw, err := r.s.rdb.HGet(ctx, r.servicesKey(userID), serviceName).Bytes()
	if err != nil {
		return mapNil(err)
	}
	var rec serviceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return err
	}

	if err := r.s.rdb.HDel(ctx, r.servicesKey(userID), serviceName).Err(); err != nil {
		return err
	}
	if rec.ServiceID != "" {
		return r.s.rdb.Del(ctx, r.serviceIdx(serviceName, rec.ServiceID)).Err()
	}
	return nil
}

func (r *usersRepo) GetService(ctx context.Context, userID, serviceName string) (domain.ServiceRecord, error) {
	raw, err := r.s.rdb.HGet(ctx, r.servicesKey(userID), serviceName).Bytes()
	if err != nil {
		return domain.ServiceRecord{}, mapNil(err)
	}
	var rec serviceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.ServiceRecord{}, err
	}
	return domain.ServiceRecord{ServiceID: rec.ServiceID, Payload: rec.Payload}, nil
}

func (r *usersRepo) AddEmailVerificationToken(ctx context.Context, userID, address, token string) error {
	return r.AddLoginToken(ctx, domain.TokenKindVerifyEmail, userID, address, token)
}

func (r *usersRepo) AddResetPasswordToken(ctx context.Context, userID, address, token string) error {
	return r.AddLoginToken(ctx, domain.TokenKindResetPassword, userID, address, token)
}

func (r *usersRepo) AddLoginToken(ctx context.Context, kind domain.TokenKind, userID, address, token string) error {
	fp := cryptox.FingerprintToken(token)
	raw, err := json.Marshal(tokenRecord{
		UserID:    userID,
		Address:   address,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	ok, err := r.s.rdb.SetNX(ctx, r.tokenKey(kind, fp), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrAlreadyExists
	}
	return r.s.rdb.SAdd(ctx, r.tokenSetKey(userID, kind), fp).Err()
}

// ConsumeLoginToken relies on GETDEL for its read-and-remove atomicity, so a
// racing consumer gets redis.Nil instead of a double spend.
func (r *usersRepo) ConsumeLoginToken(ctx context.Context, kind domain.TokenKind, token string) (string, domain.TokenRecord, error) {
	fp := cryptox.FingerprintToken(token)

	raw, err := r.s.rdb.GetDel(ctx, r.tokenKey(kind, fp)).Bytes()
	if err != nil {
		return "", domain.TokenRecord{}, mapNil(err)
	}
	var rec tokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", domain.TokenRecord{}, err
	}
	_ = r.s.rdb.SRem(ctx, r.tokenSetKey(rec.UserID, kind), fp).Err()

	return rec.UserID, domain.TokenRecord{
		Address: rec.Address,
		When:    time.Unix(rec.CreatedAt, 0).UTC(),
	}, nil
}

func (r *usersRepo) DeleteExpiredLoginTokens(ctx context.Context, cutoff time.Time) error {
	rdb := r.s.rdb

	iter := rdb.Scan(ctx, 0, r.s.key("token", "*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := rdb.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return err
		}
		var rec tokenRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if rec.CreatedAt < cutoff.Unix() {
			_ = rdb.Del(ctx, key).Err()
		}
	}
	return iter.Err()
}

func (r *usersRepo) getRecord(ctx context.Context, userID string) (userRecord, error) {
	raw, err := r.s.rdb.Get(ctx, r.userKey(userID)).Bytes()
	if err != nil {
		return userRecord{}, mapNil(err)
	}
	var rec userRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return userRecord{}, err
	}
	return rec, nil
}

func (r *usersRepo) putRecord(ctx context.Context, userID string, rec userRecord) error {
	rec.UpdatedAt = time.Now().Unix()
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.s.rdb.Set(ctx, r.userKey(userID), raw, 0).Err()
}
