// Package redis: хранилище индикаторов набора в Redis. Индикаторы переживают
// рестарт процесса; chatcore работает одним экземпляром (см. repository.AcquireInstanceLock).
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chatcore/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Ключи:
//
//	typing:{conv}:{user}     значение: время начала набора (unix ms), TTL = typing TTL
//	typing:deadlines         ZSET "{conv}:{user}" -> срок истечения (unix ms), разбирается sweeper'ами
//	typing:active:{conv}     ZSET user -> срок истечения, для списка набирающих
const deadlinesKey = "typing:deadlines"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func typingKey(k storage.TypingKey) string { return "typing:" + k.ConversationID + ":" + k.UserID }

func activeKey(conversationID string) string { return "typing:active:" + conversationID }

func member(k storage.TypingKey) string { return k.ConversationID + ":" + k.UserID }

func parseMember(s string) (storage.TypingKey, bool) {
	conv, user, ok := strings.Cut(s, ":")
	return storage.TypingKey{ConversationID: conv, UserID: user}, ok
}

// Start ставит ключ через SET NX: started=true только если ключа не было.
// Иначе продлевает TTL. Срок истечения пишется в оба ZSET.
func (c *Client) Start(ctx context.Context, key storage.TypingKey, ttl time.Duration) (bool, error) {
	now := time.Now()
	k := typingKey(key)
	started, err := c.cli.SetNX(ctx, k, now.UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("typing start: %w", err)
	}
	if !started {
		refreshed, err := c.cli.PExpire(ctx, k, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("typing refresh: %w", err)
		}
		if !refreshed {
			// ключ истёк между SETNX и PEXPIRE
			if started, err = c.cli.SetNX(ctx, k, now.UnixMilli(), ttl).Result(); err != nil {
				return false, fmt.Errorf("typing start: %w", err)
			}
		}
	}
	deadline := float64(now.Add(ttl).UnixMilli())
	_, err = c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, deadlinesKey, redis.Z{Score: deadline, Member: member(key)})
		pipe.ZAdd(ctx, activeKey(key.ConversationID), redis.Z{Score: deadline, Member: key.UserID})
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("typing deadline: %w", err)
	}
	return started, nil
}

func (c *Client) Stop(ctx context.Context, key storage.TypingKey) (bool, error) {
	var del *redis.IntCmd
	_, err := c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, typingKey(key))
		pipe.ZRem(ctx, deadlinesKey, member(key))
		pipe.ZRem(ctx, activeKey(key.ConversationID), key.UserID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("typing stop: %w", err)
	}
	return del.Val() == 1, nil
}

// Expired перечисляет записи с истёкшим сроком, не удаляя их.
func (c *Client) Expired(ctx context.Context, now time.Time) ([]storage.TypingKey, error) {
	members, err := c.cli.ZRangeByScore(ctx, deadlinesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("typing expired: %w", err)
	}
	out := make([]storage.TypingKey, 0, len(members))
	for _, m := range members {
		if key, ok := parseMember(m); ok {
			out = append(out, key)
		}
	}
	return out, nil
}

// expireScript: KEYS = typing-ключ, deadlines, active; ARGV = член deadlines, now (ms), user.
// Если Start продлил ключ, срок в deadlines переносится и запись остаётся.
// 1 только тому, чей ZREM реально удалил запись из deadlines.
var expireScript = redis.NewScript(`
local left = redis.call('PTTL', KEYS[1])
if left > 0 then
	redis.call('ZADD', KEYS[2], tonumber(ARGV[2]) + left, ARGV[1])
	return 0
end
redis.call('DEL', KEYS[1])
local n = redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[3])
return n
`)

func (c *Client) Expire(ctx context.Context, key storage.TypingKey, now time.Time) (bool, error) {
	n, err := expireScript.Run(ctx, c.cli,
		[]string{typingKey(key), deadlinesKey, activeKey(key.ConversationID)},
		member(key), now.UnixMilli(), key.UserID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("typing expire %s: %w", member(key), err)
	}
	return n == 1, nil
}

func (c *Client) Active(ctx context.Context, conversationID string) ([]string, error) {
	users, err := c.cli.ZRangeByScore(ctx, activeKey(conversationID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(time.Now().UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("typing active: %w", err)
	}
	return users, nil
}

// FlushDB очищает текущую БД Redis; используется тестами перед каждым прогоном.
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
