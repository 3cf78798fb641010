package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-orders/internal/logger"
	"ms-orders/internal/models"

	"github.com/go-redis/redis/v8"
)

const holdKeyPrefix = "order_hold:"

// HoldStore mirrors a pending order's ticket reservation into a Redis key
// with a TTL. The key expiring means the buyer never finished checkout; the
// subscriber below then fails the order and returns the reserved units.
type HoldStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewHoldStore(client *redis.Client, ttl time.Duration) *HoldStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &HoldStore{Client: client, TTL: ttl}
}

func (h *HoldStore) PlaceHold(ctx context.Context, orderID string) error {
	return h.Client.Set(ctx, holdKeyPrefix+orderID, time.Now().UTC().Format(time.RFC3339), h.TTL).Err()
}

func (h *HoldStore) ClearHold(ctx context.Context, orderID string) error {
	return h.Client.Del(ctx, holdKeyPrefix+orderID).Err()
}

// OrderSource is the slice of the ledger the expiry reaper needs.
type OrderSource interface {
	GetItemsByOrder(ctx context.Context, orderID string) ([]models.OrderItem, error)
	MarkFailed(ctx context.Context, orderID string) (bool, error)
}

// SubscribeHoldExpiry listens for Redis keyspace expiry notifications and
// reaps orders whose hold ran out. Only the actor that wins the
// pending->failed transition releases the reservation, so a webhook that
// failed the order first makes this a no-op.
func SubscribeHoldExpiry(rdb *redis.Client, store *Store, orders OrderSource, log *logger.Logger) {
	ctx := context.Background()

	val, err := rdb.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		log.Error("REDIS", fmt.Sprintf("Failed to get keyspace config: %v", err))
	} else if len(val) >= 2 {
		setting, _ := val[1].(string)
		if !strings.Contains(setting, "x") && !strings.Contains(setting, "E") {
			log.Warn("REDIS", "Keyspace notifications not configured for expiry events")
		}
	}

	pubsub := rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	log.Info("REDIS", "Subscribed to hold expiry notifications")

	go func() {
		for msg := range pubsub.Channel() {
			if !strings.HasPrefix(msg.Payload, holdKeyPrefix) {
				log.Debug("HOLD_EXPIRY", fmt.Sprintf("Ignoring expired key %s", msg.Payload))
				continue
			}
			orderID := strings.TrimPrefix(msg.Payload, holdKeyPrefix)
			log.Info("HOLD_EXPIRY", fmt.Sprintf("Reservation hold expired for order %s", orderID))

			failed, err := orders.MarkFailed(ctx, orderID)
			if err != nil {
				log.Error("HOLD_EXPIRY", fmt.Sprintf("Failed to update order %s: %v", orderID, err))
				continue
			}
			if !failed {
				log.Info("HOLD_EXPIRY", fmt.Sprintf("Order %s is no longer pending, leaving it alone", orderID))
				continue
			}

			items, err := orders.GetItemsByOrder(ctx, orderID)
			if err != nil {
				log.Error("HOLD_EXPIRY", fmt.Sprintf("Failed to load items for order %s: %v", orderID, err))
				continue
			}
			if err := store.ReleaseItems(ctx, items); err != nil {
				log.Error("HOLD_EXPIRY", fmt.Sprintf("Failed to release inventory for order %s: %v", orderID, err))
				continue
			}
			log.Info("HOLD_EXPIRY", fmt.Sprintf("Order %s failed and inventory released", orderID))
		}
	}()
}
