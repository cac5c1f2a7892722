package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/store"
)

type sessionsRepo struct {
	s *Store
}

func (r *sessionsRepo) sessionKey(id string) string { return r.s.key("session", id) }
func (r *sessionsRepo) userSessionsKey(userID string) string {
	return r.s.key("user", userID, "sessions")
}

// Sessions are stored as hashes so metadata updates and revocation can write
// disjoint fields without read-modify-write races. Both the hash and the
// per-user index set expire after SessionTTL; the index can hold ids whose
// hash already expired, so readers prune stale members as they go.
func (r *sessionsRepo) CreateSession(ctx context.Context, sess domain.Session) error {
	extra := ""
	if len(sess.ExtraData) > 0 {
		raw, err := json.Marshal(sess.ExtraData)
		if err != nil {
			return err
		}
		extra = string(raw)
	}

	now := time.Now().Unix()
	_, err := r.s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.sessionKey(sess.ID), map[string]any{
			"user_id":      sess.UserID,
			"valid":        boolField(sess.Valid),
			"ip":           sess.IP,
			"user_agent":   sess.UserAgent,
			"impersonated": boolField(sess.Impersonated),
			"extra_data":   extra,
			"created_at":   now,
			"updated_at":   now,
		})
		pipe.Expire(ctx, r.sessionKey(sess.ID), r.s.sessionTTL)
		pipe.SAdd(ctx, r.userSessionsKey(sess.UserID), sess.ID)
		pipe.Expire(ctx, r.userSessionsKey(sess.UserID), r.s.sessionTTL)
		return nil
	})
	return err
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	fields, err := r.s.rdb.HGetAll(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return domain.Session{}, err
	}
	if len(fields) == 0 {
		return domain.Session{}, store.ErrNotFound
	}
	return sessionFromFields(id, fields)
}

func (r *sessionsRepo) GetSessionsByUserID(ctx context.Context, userID string) ([]domain.Session, error) {
	ids, err := r.s.rdb.SMembers(ctx, r.userSessionsKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	var (
		sessions []domain.Session
		stale    []any
	)
	for _, id := range ids {
		sess, err := r.GetSessionByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if len(stale) > 0 {
		if err := r.s.rdb.SRem(ctx, r.userSessionsKey(userID), stale...).Err(); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// UpdateSession writes connection fields only and refreshes the TTL on both
// the session and the per-user index. The valid field belongs to the
// invalidate operations.
func (r *sessionsRepo) UpdateSession(ctx context.Context, id string, conn domain.ConnectionInfo) error {
	userID, err := r.s.rdb.HGet(ctx, r.sessionKey(id), "user_id").Result()
	if err != nil {
		return mapNil(err)
	}

	_, err = r.s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.sessionKey(id), map[string]any{
			"ip":         conn.IP,
			"user_agent": conn.UserAgent,
			"updated_at": time.Now().Unix(),
		})
		pipe.Expire(ctx, r.sessionKey(id), r.s.sessionTTL)
		pipe.Expire(ctx, r.userSessionsKey(userID), r.s.sessionTTL)
		return nil
	})
	return err
}

func (r *sessionsRepo) InvalidateSession(ctx context.Context, id string) error {
	exists, err := r.s.rdb.Exists(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return nil
	}
	return r.s.rdb.HSet(ctx, r.sessionKey(id),
		"valid", "0",
		"updated_at", time.Now().Unix(),
	).Err()
}

func (r *sessionsRepo) InvalidateAllSessions(ctx context.Context, userID string) error {
	ids, err := r.s.rdb.SMembers(ctx, r.userSessionsKey(userID)).Result()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	// Writing to an id whose hash already expired would resurrect it as a
	// TTL-less stub, so split live from stale first.
	var live []string
	var stale []any
	for _, id := range ids {
		exists, err := r.s.rdb.Exists(ctx, r.sessionKey(id)).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			stale = append(stale, id)
			continue
		}
		live = append(live, id)
	}

	now := time.Now().Unix()
	_, err = r.s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range live {
			pipe.HSet(ctx, r.sessionKey(id), "valid", "0", "updated_at", now)
		}
		if len(stale) > 0 {
			pipe.SRem(ctx, r.userSessionsKey(userID), stale...)
		}
		return nil
	})
	return err
}

func sessionFromFields(id string, fields map[string]string) (domain.Session, error) {
	sess := domain.Session{
		ID:           id,
		UserID:       fields["user_id"],
		Valid:        fields["valid"] == "1",
		IP:           fields["ip"],
		UserAgent:    fields["user_agent"],
		Impersonated: fields["impersonated"] == "1",
		CreatedAt:    parseUnix(fields["created_at"]),
		UpdatedAt:    parseUnix(fields["updated_at"]),
	}
	if raw := fields["extra_data"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.ExtraData); err != nil {
			return domain.Session{}, err
		}
	}
	return sess, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
