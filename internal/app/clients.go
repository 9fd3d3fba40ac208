package app

import (
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/fastly"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/gcs"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/clients/redis"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/platform/logger"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/taskqueue"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/temporalx"
)

// Clients holds the external collaborators. Every field may be nil: an
// unconfigured backend degrades the features that need it instead of
// blocking startup. A backend that IS configured but cannot be reached
// fails startup, since running half-connected hides real faults.
type Clients struct {
	Store    gcs.ObjectStore
	CDN      fastly.Client
	Events   redis.EventBus
	Temporal temporalsdkclient.Client
	Queue    taskqueue.Queue
}

func wireClients(log *logger.Logger) (*Clients, error) {
	cl := &Clients{}

	if gcs.Configured() {
		store, err := gcs.New(log)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
		cl.Store = store
	} else {
		log.Warn("Object store not configured; publication will skip content moves")
	}

	if fastly.Configured() {
		cdn, err := fastly.NewFromEnv(log)
		if err != nil {
			return nil, fmt.Errorf("init fastly: %w", err)
		}
		cl.CDN = cdn
	} else {
		log.Warn("Fastly not configured; publication will skip cache purges")
	}

	if redis.Configured() {
		events, err := redis.NewEventBus(log)
		if err != nil {
			return nil, fmt.Errorf("init redis event bus: %w", err)
		}
		cl.Events = events
	} else {
		log.Warn("Redis not configured; edition events disabled")
	}

	tc, err := temporalx.NewClient(log)
	if err != nil {
		return nil, fmt.Errorf("init temporal: %w", err)
	}
	if tc != nil {
		cl.Temporal = tc
		queue, err := taskqueue.NewTemporalQueue(log, tc)
		if err != nil {
			return nil, fmt.Errorf("init task queue: %w", err)
		}
		cl.Queue = queue
	}

	return cl, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Events != nil {
		_ = c.Events.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
}
