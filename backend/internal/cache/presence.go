package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache 把在线状态镜像到 Redis，供其他实例/服务（社交、通知）读取。
// 协作会话本身只以进程内状态为准，Redis 写失败只记日志。
type PresenceCache interface {
	AddMember(ctx context.Context, docID string, userID string, displayName string, ttl time.Duration) error
	RemoveMember(ctx context.Context, docID string, userID string) error
	GetDocuments(ctx context.Context) ([]string, error)
	GetAliveMembersWithNames(ctx context.Context, docID string) ([]PresenceMember, error)
	SetCursor(ctx context.Context, docID string, userID string, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, docID string, userID string) ([]byte, error)
}

// 具体实现：基于 redis 的 PresenceCache；单机 Client 和 ClusterClient 都满足 UniversalClient
type redisPresence struct {
	rdb redis.UniversalClient
}

type PresenceMember struct {
	UserID      string
	DisplayName string
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddMember(ctx context.Context, docID string, userID string, displayName string, ttl time.Duration) error {
	// 刷新TTL也直接调用AddMember即可
	tx := p.rdb.TxPipeline()
	// ZSET score 使用 expireAt（Unix 秒），用于表达“逻辑 TTL”
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: userID})
	// 名字表（Hash）
	tx.HSet(ctx, namesKey(docID), userID, displayName)
	if _, err := tx.Exec(ctx); err != nil {
		return err
	}
	// docsKey 和 room 不在同一个 slot，单独写
	return p.rdb.SAdd(ctx, docsKey(), docID).Err()
}

func (p *redisPresence) RemoveMember(ctx context.Context, docID string, userID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(docID), userID)
	tx.HDel(ctx, namesKey(docID), userID)
	tx.Del(ctx, cursorKey(docID, userID))
	left := tx.ZCard(ctx, roomKey(docID))
	if _, err := tx.Exec(ctx); err != nil {
		return err
	}
	if left.Val() == 0 {
		return p.rdb.SRem(ctx, docsKey(), docID).Err()
	}
	return nil
}

func (p *redisPresence) GetDocuments(ctx context.Context) ([]string, error) {
	docs, err := p.rdb.SMembers(ctx, docsKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return docs, nil
}

func (p *redisPresence) SetCursor(ctx context.Context, docID string, userID string, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(docID, userID), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, docID string, userID string) ([]byte, error) {
	cursor, err := p.rdb.Get(ctx, cursorKey(docID, userID)).Bytes()
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

// lua脚本：清理过期成员
// KEYS[1] = roomKey(docID), KEYS[2] = namesKey(docID), ARGV[1] = now (unix seconds)
var expireScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisPresence) GetAliveMembersWithNames(ctx context.Context, docID string) ([]PresenceMember, error) {
	// step1: 清理过期成员
	// 约定：score=expireAt（Unix 秒），expireAt <= now 视为过期
	now := time.Now().Unix()
	if err := expireScript.Run(ctx, p.rdb, []string{roomKey(docID), namesKey(docID)}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	// step2: 查询在线成员
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: 批量获取名字
	names, err := p.rdb.HMGet(ctx, namesKey(docID), aliveIDs...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDs))
	for i, id := range aliveIDs {
		name := ""
		if i < len(names) && names[i] != nil {
			name, _ = names[i].(string)
		}
		members = append(members, PresenceMember{UserID: id, DisplayName: name})
	}
	return members, nil
}
