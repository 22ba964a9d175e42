// README: Rider pool backed by Redis hashes and a GEO index; state changes run as Lua compare-and-set scripts.
package rider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/types"
)

const (
	riderGeoKey    = "riders:geo"
	riderKeyPrefix = "rider:%s"
	// GEOSEARCH needs a radius; half the equator covers the globe.
	unboundedRadiusKm = 20038.0
)

var registerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'name', ARGV[1], 'lat', ARGV[2], 'lng', ARGV[3],
  'availability', ARGV[4], 'version', ARGV[5], 'order_id', '', 'updated_at', ARGV[6])
redis.call('GEOADD', KEYS[2], ARGV[3], ARGV[2], ARGV[7])
return 1
`)

var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local st = redis.call('HGET', KEYS[1], 'availability')
local v = redis.call('HGET', KEYS[1], 'version')
if st ~= 'available' or v ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'availability', 'busy', 'order_id', ARGV[2],
  'version', tostring(tonumber(v) + 1), 'updated_at', ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local st = redis.call('HGET', KEYS[1], 'availability')
local o = redis.call('HGET', KEYS[1], 'order_id')
if o == '' or o ~= ARGV[1] then return 0 end
local nst = st
if st == 'busy' then nst = 'available' end
local v = tonumber(redis.call('HGET', KEYS[1], 'version'))
redis.call('HSET', KEYS[1], 'availability', nst, 'order_id', '',
  'version', tostring(v + 1), 'updated_at', ARGV[2])
return 1
`)

// setAvailabilityScript: ARGV[1] target, ARGV[2] updated_at. Returns 1 changed, 2 no-op, 0 rejected.
// The order hold survives going offline; returning online with a hold lands in busy.
var setAvailabilityScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local st = redis.call('HGET', KEYS[1], 'availability')
local to = ARGV[1]
if st == to then return 2 end
local ok = (to == 'offline') or (to == 'available' and st == 'offline')
if not ok then return 0 end
local o = redis.call('HGET', KEYS[1], 'order_id')
local nst = to
if to == 'available' and o and o ~= '' then nst = 'busy' end
local v = tonumber(redis.call('HGET', KEYS[1], 'version'))
redis.call('HSET', KEYS[1], 'availability', nst, 'version', tostring(v + 1), 'updated_at', ARGV[2])
return 1
`)

var positionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('HSET', KEYS[1], 'lat', ARGV[1], 'lng', ARGV[2], 'updated_at', ARGV[3])
redis.call('GEOADD', KEYS[2], ARGV[2], ARGV[1], ARGV[4])
return 1
`)

type RedisPool struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisPool(client *redis.Client) *RedisPool {
	return &RedisPool{redis: client, now: time.Now}
}

func riderKey(id types.ID) string {
	return fmt.Sprintf(riderKeyPrefix, string(id))
}

func (p *RedisPool) stamp() string {
	return p.now().UTC().Format(time.RFC3339Nano)
}

func (p *RedisPool) Register(ctx context.Context, r Rider) error {
	if r.Availability == "" {
		r.Availability = Offline
	}
	res, err := registerScript.Run(ctx, p.redis, []string{riderKey(r.ID), riderGeoKey},
		r.Name, fmtCoord(r.Position.Lat), fmtCoord(r.Position.Lng),
		string(r.Availability), strconv.FormatInt(r.Version, 10), p.stamp(), string(r.ID)).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrExists
	}
	return nil
}

func (p *RedisPool) Get(ctx context.Context, id types.ID) (Rider, error) {
	fields, err := p.redis.HGetAll(ctx, riderKey(id)).Result()
	if err != nil {
		return Rider{}, err
	}
	if len(fields) == 0 {
		return Rider{}, ErrNotFound
	}
	return decodeRider(id, fields)
}

func (p *RedisPool) Candidates(ctx context.Context, near types.Point, radiusKm float64) ([]Rider, error) {
	if radiusKm <= 0 {
		radiusKm = unboundedRadiusKm
	}
	ids, err := p.redis.GeoSearch(ctx, riderGeoKey, &redis.GeoSearchQuery{
		Longitude:  near.Lng,
		Latitude:   near.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := p.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, riderKey(types.ID(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]Rider, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		r, err := decodeRider(types.ID(ids[i]), fields)
		if err != nil {
			return nil, err
		}
		if r.Availability == Available {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *RedisPool) Reserve(ctx context.Context, riderID types.ID, version int64, orderID types.ID) error {
	res, err := reserveScript.Run(ctx, p.redis, []string{riderKey(riderID)},
		strconv.FormatInt(version, 10), string(orderID), p.stamp()).Int()
	if err != nil {
		return err
	}
	return scriptResult(res, ErrAlreadyReserved)
}

func (p *RedisPool) Release(ctx context.Context, riderID, orderID types.ID) error {
	res, err := releaseScript.Run(ctx, p.redis, []string{riderKey(riderID)}, string(orderID), p.stamp()).Int()
	if err != nil {
		return err
	}
	return scriptResult(res, ErrNotHeldByOrder)
}

func (p *RedisPool) SetAvailability(ctx context.Context, riderID types.ID, to Availability) error {
	if to == Busy {
		return ErrInvalidTransition
	}
	res, err := setAvailabilityScript.Run(ctx, p.redis, []string{riderKey(riderID)}, string(to), p.stamp()).Int()
	if err != nil {
		return err
	}
	if res == 2 {
		return nil
	}
	return scriptResult(res, ErrInvalidTransition)
}

func (p *RedisPool) UpdatePosition(ctx context.Context, riderID types.ID, pos types.Point) error {
	res, err := positionScript.Run(ctx, p.redis, []string{riderKey(riderID), riderGeoKey},
		fmtCoord(pos.Lat), fmtCoord(pos.Lng), p.stamp(), string(riderID)).Int()
	if err != nil {
		return err
	}
	return scriptResult(res, nil)
}

func scriptResult(res int, rejected error) error {
	switch res {
	case 1:
		return nil
	case -1:
		return ErrNotFound
	default:
		return rejected
	}
}

func fmtCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func decodeRider(id types.ID, f map[string]string) (Rider, error) {
	r := Rider{ID: id, Name: f["name"], Availability: Availability(f["availability"])}
	var err error
	if r.Position.Lat, err = strconv.ParseFloat(f["lat"], 64); err != nil {
		return Rider{}, fmt.Errorf("rider %s lat: %w", id, err)
	}
	if r.Position.Lng, err = strconv.ParseFloat(f["lng"], 64); err != nil {
		return Rider{}, fmt.Errorf("rider %s lng: %w", id, err)
	}
	if r.Version, err = strconv.ParseInt(f["version"], 10, 64); err != nil {
		return Rider{}, fmt.Errorf("rider %s version: %w", id, err)
	}
	if o := f["order_id"]; o != "" {
		oid := types.ID(o)
		r.OrderID = &oid
	}
	if ts := f["updated_at"]; ts != "" {
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return r, nil
}
