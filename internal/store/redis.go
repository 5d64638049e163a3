package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/enoki-chat/backend/internal/model/chat"
)

const defaultTabTTL = 2 * time.Hour

// redisDriver stores one tab's transcripts in redis, TTL-bound so the tab
// lifetime stays the upper bound on transcript lifetime. Keys are scoped
// by tab id; only ciphertext and the tab key ever reach redis.
type redisDriver struct {
	client *redis.Client
	tabID  string
	ttl    time.Duration
}

// NewRedisDriver creates a tab-scoped redis driver.
func NewRedisDriver(client *redis.Client, tabID string, ttl time.Duration) Driver {
	if ttl <= 0 {
		ttl = defaultTabTTL
	}
	return &redisDriver{client: client, tabID: tabID, ttl: ttl}
}

func (d *redisDriver) sessionKey(id string) string {
	return "anon:" + d.tabID + ":sess:" + id
}

func (d *redisDriver) indexKey() string {
	return "anon:" + d.tabID + ":index"
}

func (d *redisDriver) cipherKey() string {
	return "anon:" + d.tabID + ":key"
}

func (d *redisDriver) PutSession(ctx context.Context, session *chat.AnonymousSession) error {
	val, err := json.Marshal(session)
	if err != nil {
		return err
	}

	pipe := d.client.TxPipeline()
	pipe.Set(ctx, d.sessionKey(session.ID), val, d.ttl)
	pipe.SAdd(ctx, d.indexKey(), session.ID)
	pipe.Expire(ctx, d.indexKey(), d.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (d *redisDriver) GetSession(ctx context.Context, id string) (*chat.AnonymousSession, error) {
	val, err := d.client.Get(ctx, d.sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var session chat.AnonymousSession
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, err
	}

	// Reads keep the tab alive.
	_ = d.client.Expire(ctx, d.sessionKey(id), d.ttl).Err()
	return &session, nil
}

func (d *redisDriver) ListSessions(ctx context.Context) ([]*chat.AnonymousSession, error) {
	ids, err := d.client.SMembers(ctx, d.indexKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]*chat.AnonymousSession, 0, len(ids))
	for _, id := range ids {
		session, err := d.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if session == nil {
			// Session expired out from under the index.
			_ = d.client.SRem(ctx, d.indexKey(), id).Err()
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (d *redisDriver) DeleteSession(ctx context.Context, id string) error {
	pipe := d.client.TxPipeline()
	pipe.Del(ctx, d.sessionKey(id))
	pipe.SRem(ctx, d.indexKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (d *redisDriver) Clear(ctx context.Context) error {
	ids, err := d.client.SMembers(ctx, d.indexKey()).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := d.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, d.sessionKey(id))
	}
	pipe.Del(ctx, d.indexKey())
	pipe.Del(ctx, d.cipherKey())
	_, err = pipe.Exec(ctx)
	return err
}

func (d *redisDriver) LoadKey(ctx context.Context) ([]byte, error) {
	val, err := d.client.Get(ctx, d.cipherKey()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (d *redisDriver) StoreKey(ctx context.Context, key []byte) error {
	return d.client.Set(ctx, d.cipherKey(), key, d.ttl).Err()
}

// Close is a no-op: the redis client is shared across tabs and owned by
// the caller.
func (d *redisDriver) Close() error {
	return nil
}
