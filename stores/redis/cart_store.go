package redis

import (
	"context"
	"errors"
	"fmt"

	"concierge/core"
	carthandler "concierge/handlers/cart"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// CartStore keeps one cart in redis: a hash of encoded items plus a sorted
// set that records insertion order.
type CartStore struct {
	client *redis.Client
	prefix string
}

var _ carthandler.Store = (*CartStore)(nil)

func NewCartStore(client *redis.Client, cartID string) *CartStore {
	return &CartStore{client: client, prefix: "concierge:cart:" + cartID}
}

func (s *CartStore) itemsKey() string { return s.prefix + ":items" }
func (s *CartStore) orderKey() string { return s.prefix + ":order" }
func (s *CartStore) seqKey() string   { return s.prefix + ":seq" }

func wrap(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	return fmt.Errorf("redis cart %s: %w", op, err)
}

// addScript writes the item, its sequence number and its order entry in one
// step. Every command that can fail runs before the first write that matters.
var addScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
	return 0
end
local seq = redis.call("INCR", KEYS[3])
redis.call("ZADD", KEYS[2], seq, ARGV[1])
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// Add stores item unless its (type, id) key already exists.
func (s *CartStore) Add(ctx context.Context, item core.CartItem) (bool, error) {
	data, err := sonic.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("redis cart add: encode: %w", err)
	}
	keys := []string{s.itemsKey(), s.orderKey(), s.seqKey()}
	added, err := addScript.Run(ctx, s.client, keys, item.Key(), data).Int()
	if err != nil {
		return false, wrap("add", err)
	}
	return added == 1, nil
}

func (s *CartStore) Remove(ctx context.Context, itemType, id string) (bool, error) {
	key := core.CartItem{Type: itemType, ID: id}.Key()
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, s.itemsKey(), key)
		pipe.ZRem(ctx, s.orderKey(), key)
		return nil
	})
	if err != nil {
		return false, wrap("remove", err)
	}
	return removed.Val() > 0, nil
}

func (s *CartStore) Clear(ctx context.Context) error {
	return wrap("clear", s.client.Del(ctx, s.itemsKey(), s.orderKey(), s.seqKey()).Err())
}

// List returns items in insertion order.
func (s *CartStore) List(ctx context.Context) ([]core.CartItem, error) {
	keys, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, wrap("list", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.client.HMGet(ctx, s.itemsKey(), keys...).Result()
	if err != nil {
		return nil, wrap("list", err)
	}
	items := make([]core.CartItem, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var item core.CartItem
		if err := sonic.UnmarshalString(raw, &item); err != nil {
			return nil, fmt.Errorf("redis cart list: decode %s: %w", keys[i], err)
		}
		items = append(items, item)
	}
	return items, nil
}
