package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Namann-14/artifex/internal/domain"
)

const (
	redisAccountPrefix     = "quota:acct:"
	redisReservationPrefix = "quota:res:"
	redisJobPrefix         = "quota:job:"
	// sorted set of active reservation ids scored by creation time
	redisActiveKey = "quota:active"

	redisReservationTTL = 7 * 24 * time.Hour
)

// KEYS: account, reservation, job index, active set
// ARGV: units, limit, period, reservation id, owner, job, created unix, ttl seconds
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then
  return -1
end
if redis.call('HGET', KEYS[1], 'period') ~= ARGV[3] then
  redis.call('HSET', KEYS[1], 'used', 0, 'period', ARGV[3])
end
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local units = tonumber(ARGV[1])
if used + reserved + units > tonumber(ARGV[2]) then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'reserved', units)
redis.call('HSET', KEYS[2], 'owner', ARGV[5], 'job', ARGV[6], 'units', units, 'status', 'active', 'created', ARGV[7], 'acct', KEYS[1])
redis.call('EXPIRE', KEYS[2], ARGV[8])
redis.call('SET', KEYS[3], ARGV[4], 'EX', ARGV[8])
redis.call('ZADD', KEYS[4], ARGV[7], ARGV[4])
return 1
`)

// KEYS: reservation, account, active set
// ARGV: target status, reservation id, account prefix
var finishScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  redis.call('ZREM', KEYS[3], ARGV[2])
  return -1
end
if status ~= 'active' then
  return 0
end
local acct = redis.call('HGET', KEYS[1], 'acct') or (ARGV[3] .. redis.call('HGET', KEYS[1], 'owner'))
if acct ~= KEYS[2] then
  return -1
end
local units = tonumber(redis.call('HGET', KEYS[1], 'units'))
local held = math.min(units, tonumber(redis.call('HGET', KEYS[2], 'reserved') or '0'))
redis.call('HINCRBY', KEYS[2], 'reserved', -held)
if ARGV[1] == 'committed' then
  redis.call('HINCRBY', KEYS[2], 'used', units)
end
redis.call('HSET', KEYS[1], 'status', ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[2])
return 1
`)

// RedisLedger keeps balances in hashes updated by Lua scripts, which run
// atomically on the server. Scripts touch keys of several owners, so the
// ledger needs a single node rather than a cluster client.
type RedisLedger struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, now: time.Now}
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

func (l *RedisLedger) period() string {
	return l.now().UTC().Format(time.DateOnly)
}

func (l *RedisLedger) Reserve(ctx context.Context, req ReserveRequest) (domain.QuotaReservation, error) {
	if err := req.validate(); err != nil {
		return domain.QuotaReservation{}, err
	}
	id := uuid.NewString()
	created := l.now().UTC()
	keys := []string{redisAccountPrefix + req.OwnerID, redisReservationPrefix + id, redisJobPrefix + req.JobID, redisActiveKey}
	code, err := reserveScript.Run(ctx, l.client, keys,
		req.Units, req.Limit, l.period(), id, req.OwnerID, req.JobID,
		created.Unix(), int(redisReservationTTL.Seconds()),
	).Int()
	if err != nil {
		return domain.QuotaReservation{}, fmt.Errorf("quota: reserve: %w", err)
	}
	switch code {
	case 1:
	case -1:
		return domain.QuotaReservation{}, ErrDuplicateReservation
	default:
		return domain.QuotaReservation{}, ErrInsufficientQuota
	}
	return domain.QuotaReservation{
		ID:        id,
		OwnerID:   req.OwnerID,
		JobID:     req.JobID,
		Units:     req.Units,
		Status:    domain.ReservationActive,
		CreatedAt: created,
	}, nil
}

func (l *RedisLedger) Commit(ctx context.Context, reservationID string) error {
	return l.finish(ctx, reservationID, domain.ReservationCommitted)
}

func (l *RedisLedger) Rollback(ctx context.Context, reservationID string) error {
	return l.finish(ctx, reservationID, domain.ReservationRolledBack)
}

func (l *RedisLedger) finish(ctx context.Context, reservationID string, target domain.ReservationStatus) error {
	resKey := redisReservationPrefix + reservationID
	vals, err := l.client.HMGet(ctx, resKey, "acct", "owner").Result()
	if err != nil {
		return fmt.Errorf("quota: %s: %w", target, err)
	}
	acct, _ := vals[0].(string)
	if owner, _ := vals[1].(string); acct == "" && owner != "" {
		acct = redisAccountPrefix + owner
	}
	code, err := finishScript.Run(ctx, l.client, []string{resKey, acct, redisActiveKey},
		string(target), reservationID, redisAccountPrefix,
	).Int()
	if err != nil {
		return fmt.Errorf("quota: %s: %w", target, err)
	}
	if code == -1 {
		return ErrReservationNotFound
	}
	return nil
}

// ReleaseStale rolls back active reservations created before cutoff.
func (l *RedisLedger) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := l.client.ZRangeByScore(ctx, redisActiveKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("quota: stale reservations: %w", err)
	}
	released := 0
	for _, id := range ids {
		err := l.finish(ctx, id, domain.ReservationRolledBack)
		switch {
		case err == nil:
			released++
		case errors.Is(err, ErrReservationNotFound):
			// expired hash, the set entry is already gone
		default:
			return released, err
		}
	}
	return released, nil
}

func (l *RedisLedger) Usage(ctx context.Context, ownerID string, limit int) (domain.QuotaUsage, error) {
	vals, err := l.client.HMGet(ctx, redisAccountPrefix+ownerID, "used", "reserved", "period").Result()
	if err != nil {
		return domain.QuotaUsage{}, fmt.Errorf("quota: usage: %w", err)
	}
	usage := domain.QuotaUsage{OwnerID: ownerID, Limit: limit}
	if period, _ := vals[2].(string); period == l.period() {
		usage.Used = atoi(vals[0])
	}
	usage.Reserved = atoi(vals[1])
	return usage, nil
}

func atoi(v any) int {
	s, _ := v.(string)
	n, _ := strconv.Atoi(s)
	return n
}

var (
	_ Ledger  = (*RedisLedger)(nil)
	_ Sweeper = (*RedisLedger)(nil)
)
