package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/quotascope/pkg/usage"
)

const servicesSet = "quotascope:services"

// Mirror publishes the latest usage snapshot per service to Redis so
// external dashboards can read them without talking to the daemon.
// Writes are best effort: a Redis outage never fails a refresh cycle.
type Mirror struct {
	client *redis.Client
}

// NewMirror wraps an existing Redis client.
func NewMirror(client *redis.Client) *Mirror {
	return &Mirror{client: client}
}

func (m *Mirror) key(id usage.ServiceID) string {
	return fmt.Sprintf("quotascope:service:%s", id)
}

// Publish stores the record under its service key, adds the key to the
// service set and notifies subscribers on the channel of the same name.
func (m *Mirror) Publish(ctx context.Context, record usage.ServiceUsage) {
	key := m.key(record.ServiceID)
	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("failed to marshal snapshot for redis: %v", err)
		return
	}
	if err := m.client.Set(ctx, key, data, 0).Err(); err != nil {
		log.Printf("failed to SET %s: %v", key, err)
		return
	}
	if err := m.client.SAdd(ctx, servicesSet, key).Err(); err != nil {
		log.Printf("failed to SADD %s: %v", key, err)
	}
	if err := m.client.Publish(ctx, key, data).Err(); err != nil {
		log.Printf("failed to PUBLISH %s: %v", key, err)
	}
}

// GetAll reads every mirrored snapshot.
func (m *Mirror) GetAll(ctx context.Context) []usage.ServiceUsage {
	keys, err := m.client.SMembers(ctx, servicesSet).Result()
	if err != nil {
		log.Printf("failed to SMEMBERS %s: %v", servicesSet, err)
		return nil
	}
	if len(keys) == 0 {
		return []usage.ServiceUsage{}
	}
	values, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Printf("failed to MGET snapshots: %v", err)
		return nil
	}
	var records []usage.ServiceUsage
	for i, val := range values {
		if val == nil {
			continue
		}
		str, ok := val.(string)
		if !ok {
			continue
		}
		var record usage.ServiceUsage
		if err := json.Unmarshal([]byte(str), &record); err != nil {
			log.Printf("corrupt snapshot at %s: %v", keys[i], err)
			continue
		}
		records = append(records, record)
	}
	return records
}
