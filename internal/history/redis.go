package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps each record as a JSON string, guards call ids with
// SETNX and indexes operators with a sorted set scored by creation time.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "callpop"
	}
	return &RedisStore{client: rdb, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) recordKey(id string) string         { return s.prefix + ":call:" + id }
func (s *RedisStore) callIDKey(callID string) string     { return s.prefix + ":callid:" + callID }
func (s *RedisStore) operatorKey(operator string) string { return s.prefix + ":operator:" + operator }

func (s *RedisStore) Insert(ctx context.Context, rec Record) (bool, error) {
	if err := validate(rec); err != nil {
		return false, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encoding call %s: %w", rec.CallID, err)
	}

	ok, err := s.client.SetNX(ctx, s.callIDKey(rec.CallID), rec.ID, 0).Result()
	if err != nil {
		return false, fmt.Errorf("claiming call %s: %w", rec.CallID, err)
	}
	if !ok {
		return false, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(rec.ID), data, 0)
		pipe.ZAdd(ctx, s.operatorKey(rec.Operator), redis.Z{
			Score:  float64(rec.CreatedAt.UnixNano()),
			Member: rec.ID,
		})
		return nil
	})
	if err != nil {
		// Release the claim so a retry can write the record.
		s.client.Del(ctx, s.callIDKey(rec.CallID))
		return false, fmt.Errorf("storing call %s: %w", rec.CallID, err)
	}
	return true, nil
}

func (s *RedisStore) ByOperator(ctx context.Context, operator string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, s.operatorKey(operator), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing calls for %s: %w", operator, err)
	}
	records := []Record{}
	if len(ids) == 0 {
		return records, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading calls for %s: %w", operator, err)
	}
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decoding call record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		id, idErr := s.client.Get(ctx, s.callIDKey(key)).Result()
		if errors.Is(idErr, redis.Nil) {
			return Record{}, ErrNotFound
		}
		if idErr != nil {
			return Record{}, fmt.Errorf("resolving call %s: %w", key, idErr)
		}
		data, err = s.client.Get(ctx, s.recordKey(id)).Bytes()
	}
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("loading call %s: %w", key, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decoding call record: %w", err)
	}
	return rec, nil
}
