package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"robolabs-sync/internal/core/cache"
)

const shippingProductKey = "robolabs:shipping_product_id"

// RedisSettings stores process-wide sync settings in Redis so all workers
// share them.
type RedisSettings struct {
	cache cache.Cache
}

func NewRedisSettings(c cache.Cache) *RedisSettings {
	return &RedisSettings{cache: c}
}

// ShippingProductID returns the cached shipping product id, or 0 when none
// has been stored yet.
func (s *RedisSettings) ShippingProductID(ctx context.Context) (int64, error) {
	raw, err := s.cache.Get(ctx, shippingProductKey)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt shipping product id %q: %w", raw, err)
	}
	return id, nil
}

// SaveShippingProductID stores the shipping product id without expiry.
func (s *RedisSettings) SaveShippingProductID(ctx context.Context, id int64) error {
	return s.cache.Set(ctx, shippingProductKey, []byte(strconv.FormatInt(id, 10)), 0)
}
