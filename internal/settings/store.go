package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"skywatch/internal/repository"
	"skywatch/pkg/log"
)

const (
	keyPrefix     = "settings:flip:"
	updateChannel = "settings:flip:update"
)

// Update is one live settings change, published by the account system on
// the update channel. The engine consumes these within its normal loop
// instead of a push callback into the index.
type Update struct {
	ExternalUserID string
	Settings       *FlipSettings
}

// Store reads flip settings from Redis and watches the update channel.
type Store struct {
	client *redis.Client
}

// NewStore creates a settings store on the given client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Load fetches the settings document of a user. A user without a document
// gets empty settings, not an error.
func (s *Store) Load(ctx context.Context, externalUserID string) (*FlipSettings, error) {
	raw, err := s.client.Get(ctx, keyPrefix+externalUserID).Bytes()
	if errors.Is(err, redis.Nil) {
		return &FlipSettings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings for %s: %w", externalUserID, err)
	}
	var settings FlipSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode settings for %s: %w", externalUserID, err)
	}
	return &settings, nil
}

// Save writes the settings document of a user and announces the change on
// the update channel.
func (s *Store) Save(ctx context.Context, externalUserID string, settings *FlipSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings for %s: %w", externalUserID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+externalUserID, raw, 0).Err(); err != nil {
		return fmt.Errorf("store settings for %s: %w", externalUserID, err)
	}
	if err := s.client.Publish(ctx, updateChannel, externalUserID).Err(); err != nil {
		return fmt.Errorf("announce settings update for %s: %w", externalUserID, err)
	}
	return nil
}

// Watch subscribes to the update channel and emits re-loaded settings until
// the context is cancelled. Decode failures are logged and skipped.
func (s *Store) Watch(ctx context.Context) <-chan Update {
	updates := make(chan Update, 16)
	sub := s.client.Subscribe(ctx, updateChannel)

	go func() {
		defer close(updates)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				externalID := msg.Payload
				settings, err := s.Load(ctx, externalID)
				if err != nil {
					log.WithFields(map[string]interface{}{
						"user":  externalID,
						"error": err.Error(),
					}).Warn("Failed to reload flip settings on update")
					continue
				}
				select {
				case updates <- Update{ExternalUserID: externalID, Settings: settings}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return updates
}

// IndexLoader adapts the store to the index's loader contract: the index
// knows users by internal id, the settings store by external account id.
type IndexLoader struct {
	Store *Store
	Users repository.UserRepository
}

// Load resolves the user's external id and fetches their settings.
func (l *IndexLoader) Load(ctx context.Context, userID uint64) (*FlipSettings, error) {
	user, err := l.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user %d: %w", userID, err)
	}
	return l.Store.Load(ctx, user.ExternalID)
}
