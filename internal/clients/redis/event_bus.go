// Package redis carries best-effort edition events between keeper
// processes. Publication failures never propagate back into the
// rebuild protocol; consumers that miss an event re-read the API.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
)

const (
	EventEditionUpdated = "edition.updated"
	EventEditionRenamed = "edition.renamed"
)

// EditionEvent is the wire payload published after an edition changes
// what it serves (new build or new slug).
type EditionEvent struct {
	Event        string    `json:"event"`
	ProductSlug  string    `json:"product_slug"`
	EditionSlug  string    `json:"edition_slug"`
	EditionID    string    `json:"edition_id"`
	BuildSlug    string    `json:"build_slug,omitempty"`
	PublishedURL string    `json:"published_url,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type EventBus interface {
	Publish(ctx context.Context, ev EditionEvent) error
	Close() error
}

// Configured reports whether the environment names a Redis instance.
func Configured() bool {
	return strings.TrimSpace(os.Getenv("REDIS_ADDR")) != ""
}

type eventBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewEventBus(log *logger.Logger) (EventBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_CHANNEL"))
	if ch == "" {
		ch = "keeper.editions"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &eventBus{
		log:     log.With("client", "RedisEventBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *eventBus) Publish(ctx context.Context, ev EditionEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis event bus not initialized")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return err
	}
	b.log.Debug("published edition event",
		"channel", b.channel,
		"event", ev.Event,
		"edition_id", ev.EditionID,
	)
	return nil
}

func (b *eventBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
