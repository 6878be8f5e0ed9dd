package repository

import (
	"context"
	"sort"
	"strconv"
	"time"

	"community_chat_service/internal/presence/domain"

	"github.com/go-redis/redis/v8"
)

const (
	presenceKeyPrefix = "presence:"
	presenceConnsKey  = "presence-conns:"
	presenceScopesKey = "presence:scopes"
)

// 原子的檢查並刪除, 多個 node 同時 sweep 只有一個會成功
var removeIfStaleScript = redis.NewScript(`
local s = redis.call('ZSCORE', KEYS[1], ARGV[1])
if s and tonumber(s) < tonumber(ARGV[2]) then
	redis.call('HDEL', KEYS[2], ARGV[1])
	return redis.call('ZREM', KEYS[1], ARGV[1])
end
return 0
`)

// 連線數歸零的那個 node 才會刪到 record
var detachScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[2], ARGV[1], -1)
if n > 0 then
	return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
return redis.call('ZREM', KEYS[1], ARGV[1])
`)

// redisPresenceRepository 每個 scope 一個 sorted set, score = last seen (ms)
// 連線數放在 presence-conns:<scope> hash, field = user
type redisPresenceRepository struct {
	client *redis.Client
}

// NewRedisPresenceRepository 多 node 共用 presence
func NewRedisPresenceRepository(client *redis.Client) PresenceRepository {
	return &redisPresenceRepository{client: client}
}

func scopeKey(scope string) string {
	return presenceKeyPrefix + scope
}

func connsKey(scope string) string {
	return presenceConnsKey + scope
}

func (r *redisPresenceRepository) Touch(ctx context.Context, userID, scope string, at time.Time) (time.Time, error) {
	var prev *redis.FloatCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		prev = pipe.ZScore(ctx, scopeKey(scope), userID)
		pipe.ZAdd(ctx, scopeKey(scope), &redis.Z{Score: float64(at.UnixMilli()), Member: userID})
		pipe.SAdd(ctx, presenceScopesKey, scope)
		return nil
	})
	if err != nil && err != redis.Nil {
		return time.Time{}, err
	}
	return scoreTime(prev.Val(), prev.Err()), nil
}

func (r *redisPresenceRepository) LastSeen(ctx context.Context, userID, scope string) (time.Time, error) {
	score, err := r.client.ZScore(ctx, scopeKey(scope), userID).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(score)), nil
}

func (r *redisPresenceRepository) Attach(ctx context.Context, userID, scope string) error {
	return r.client.HIncrBy(ctx, connsKey(scope), userID, 1).Err()
}

func (r *redisPresenceRepository) Detach(ctx context.Context, userID, scope string) (bool, error) {
	n, err := detachScript.Run(ctx, r.client, []string{scopeKey(scope), connsKey(scope)}, userID).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisPresenceRepository) RemoveIfStale(ctx context.Context, userID, scope string, before time.Time) (bool, error) {
	n, err := removeIfStaleScript.Run(ctx, r.client, []string{scopeKey(scope), connsKey(scope)}, userID, before.UnixMilli()).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisPresenceRepository) Stale(ctx context.Context, before time.Time) ([]domain.Record, error) {
	scopes, err := r.client.SMembers(ctx, presenceScopesKey).Result()
	if err != nil {
		return nil, err
	}

	var out []domain.Record
	for _, scope := range scopes {
		zs, err := r.client.ZRangeByScoreWithScores(ctx, scopeKey(scope), &redis.ZRangeBy{
			Min: "-inf",
			Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, z := range zs {
			user, _ := z.Member.(string)
			out = append(out, domain.Record{UserID: user, Scope: scope, LastSeen: time.UnixMilli(int64(z.Score))})
		}

		// 空的 scope 從索引移除
		if len(zs) == 0 {
			if n, err := r.client.ZCard(ctx, scopeKey(scope)).Result(); err == nil && n == 0 {
				r.client.SRem(ctx, presenceScopesKey, scope)
			}
		}
	}
	return out, nil
}

func (r *redisPresenceRepository) Active(ctx context.Context, scope string, since time.Time) ([]string, error) {
	users, err := r.client.ZRangeByScore(ctx, scopeKey(scope), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(users)
	return users, nil
}

func scoreTime(score float64, err error) time.Time {
	if err != nil || score == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(score))
}
