package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// markerData is the minimal session marker persisted once initialization
// reaches Ready, so the host page can treat the session as established
// without re-running the flow on intra-page navigation.
type markerData struct {
	UserID        string    `json:"user_id"`
	EstablishedAt time.Time `json:"established_at"`
}

// MarkerStore persists session markers in redis.
type MarkerStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewMarkerStore(redisURL string, ttl time.Duration) (*MarkerStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewMarkerStoreWithClient(client, ttl), nil
}

func NewMarkerStoreWithClient(client *redis.Client, ttl time.Duration) *MarkerStore {
	return &MarkerStore{
		client: client,
		prefix: "vaultnotes:session:",
		ttl:    ttl,
	}
}

func (s *MarkerStore) key(userID string) string {
	return s.prefix + userID
}

func (s *MarkerStore) Save(ctx context.Context, userID string) error {
	data, err := json.Marshal(markerData{UserID: userID, EstablishedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal session marker: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session marker: %w", err)
	}
	return nil
}

// Established reports whether an unexpired marker exists for the user.
func (s *MarkerStore) Established(ctx context.Context, userID string) (bool, error) {
	_, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup session marker: %w", err)
	}
	return true, nil
}

func (s *MarkerStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("clear session marker: %w", err)
	}
	return nil
}

func (s *MarkerStore) Close() error {
	return s.client.Close()
}

func (s *MarkerStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
