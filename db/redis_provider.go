package db

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisProvider implements IterableProvider on a Redis database
type RedisProvider struct {
	client *redis.Client
	ctx    context.Context
}

// readableKey renders "<prefix>:<8 byte big-endian number>" keys as "<prefix>:<decimal>"
// so the keyspace stays inspectable with redis-cli. Other keys pass through.
func readableKey(key []byte) string {
	idx := bytes.IndexByte(key, ':')
	if idx < 0 || len(key)-idx-1 != 8 {
		return string(key)
	}
	n := binary.BigEndian.Uint64(key[idx+1:])
	return fmt.Sprintf("%s:%d", key[:idx], n)
}

// binaryKey reverses readableKey for keys returned by SCAN
func binaryKey(key string) []byte {
	idx := strings.IndexByte(key, ':')
	if idx < 0 {
		return []byte(key)
	}
	n, err := strconv.ParseUint(key[idx+1:], 10, 64)
	if err != nil {
		return []byte(key)
	}
	out := make([]byte, idx+1+8)
	copy(out, key[:idx+1])
	binary.BigEndian.PutUint64(out[idx+1:], n)
	return out
}

// NewRedisProvider connects to address and selects database index dbIndex
func NewRedisProvider(address string, dbIndex int) (*RedisProvider, error) {
	client := redis.NewClient(&redis.Options{
		Addr: address,
		DB:   dbIndex,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", address, err)
	}

	return &RedisProvider{client: client, ctx: ctx}, nil
}

func (p *RedisProvider) Get(key []byte) ([]byte, error) {
	value, err := p.client.Get(p.ctx, readableKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return value, err
}

func (p *RedisProvider) GetBatch(keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = readableKey(k)
	}
	values, err := p.client.MGet(p.ctx, names...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		result[string(keys[i])] = []byte(s)
	}
	return result, nil
}

func (p *RedisProvider) Put(key, value []byte) error {
	return p.client.Set(p.ctx, readableKey(key), value, 0).Err()
}

func (p *RedisProvider) Delete(key []byte) error {
	return p.client.Del(p.ctx, readableKey(key)).Err()
}

func (p *RedisProvider) Has(key []byte) (bool, error) {
	count, err := p.client.Exists(p.ctx, readableKey(key)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// Batch queues writes in a MULTI/EXEC pipeline so they apply atomically
func (p *RedisProvider) Batch() DatabaseBatch {
	return &redisBatch{client: p.client, ctx: p.ctx, pipe: p.client.TxPipeline()}
}

// IteratePrefix scans matching keys and visits them in binary key order.
func (p *RedisProvider) IteratePrefix(prefix, start []byte, fn func(key, value []byte) bool) error {
	pattern := strings.TrimSuffix(readableKey(prefix), "*") + "*"

	var found []string
	iter := p.client.Scan(p.ctx, 0, pattern, 1000).Iterator()
	for iter.Next(p.ctx) {
		found = append(found, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	from := seekKey(prefix, start)
	keys := make([][]byte, 0, len(found))
	for _, k := range found {
		if key := binaryKey(k); bytes.Compare(key, from) >= 0 {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	for _, k := range keys {
		val, err := p.client.Get(p.ctx, readableKey(k)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if !fn(k, val) {
			return nil
		}
	}
	return nil
}

type redisBatch struct {
	client *redis.Client
	ctx    context.Context
	pipe   redis.Pipeliner
}

func (b *redisBatch) Put(key, value []byte) {
	b.pipe.Set(b.ctx, readableKey(key), value, 0)
}

func (b *redisBatch) Delete(key []byte) {
	b.pipe.Del(b.ctx, readableKey(key))
}

func (b *redisBatch) Write() error {
	_, err := b.pipe.Exec(b.ctx)
	return err
}

func (b *redisBatch) Reset() {
	b.pipe.Discard()
	b.pipe = b.client.TxPipeline()
}

func (b *redisBatch) Close() error {
	b.pipe.Discard()
	return nil
}
