// Package eventbus implements the manager's Redis-stream-backed event bus:
// a single logical stream fanned out two ways, a consumer group where each
// event reaches exactly one process, and an independent read cursor per
// process where every process receives every event.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/backendai/manager/pkg/events"
)

// StreamName is the single logical stream all events are appended to.
const StreamName = "events"

// Config configures the bus's Redis connection and consumer-group identity.
type Config struct {
	Addr         string
	Password     string
	DB           int
	GroupName    string // deployment name, e.g. "manager"
	ProcessIndex int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.GroupName == "" {
		c.GroupName = "manager"
	}
	return c
}

// Bus is the process-local handle on the shared Redis stream. One Bus per
// manager worker process.
type Bus struct {
	client     *redis.Client
	groupName  string
	consumerID string

	mu         sync.Mutex
	consumers  map[string][]*consumeReg
	subscribers map[string][]*subscribeReg

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New dials Redis, ensures the consumer group exists, and derives this
// process's stable consumer id.
func New(ctx context.Context, cfg Config) (*Bus, error) {
	cfg = cfg.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("eventbus: failed to ping redis: %w", err)
	}

	consumerID, err := deriveConsumerID(cfg.ProcessIndex)
	if err != nil {
		return nil, fmt.Errorf("eventbus: failed to derive consumer id: %w", err)
	}

	err = client.XGroupCreateMkStream(ctx, StreamName, cfg.GroupName, "$").Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("eventbus: failed to create consumer group %s: %w", cfg.GroupName, err)
	}

	b := &Bus{
		client:      client,
		groupName:   cfg.GroupName,
		consumerID:  consumerID,
		consumers:   make(map[string][]*consumeReg),
		subscribers: make(map[string][]*subscribeReg),
	}
	return b, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Produce serializes event's fields and appends one entry to the stream.
func (b *Bus) Produce(ctx context.Context, event events.Event, source events.Source) error {
	if source == "" {
		source = events.ManagerSource
	}
	fields := event.Serialize()
	values := make(map[string]interface{}, 2+len(fields))
	values["name"] = event.Name()
	values["source"] = string(source)
	for i, f := range fields {
		values[fmt.Sprintf("arg%d", i)] = f
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: values,
	}).Err()
}

// Run starts the two poll loops: the consumer-group loop and the broadcast
// loop, each in its own goroutine, and returns immediately. The loops run
// until ctx is cancelled or Close is called.
func (b *Bus) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.runConsumerLoop(runCtx)
	}()
	go func() {
		defer b.wg.Done()
		b.runSubscribeLoop(runCtx)
	}()
}

// Close cancels the two poll loops, waits for their task groups to drain,
// and closes the Redis connections.
func (b *Bus) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	return b.client.Close()
}

func parseEnvelope(values map[string]interface{}) (events.Event, events.Source, error) {
	name, _ := values["name"].(string)
	source, _ := values["source"].(string)
	var fields [][]byte
	for i := 0; ; i++ {
		v, ok := values[fmt.Sprintf("arg%d", i)]
		if !ok {
			break
		}
		s, _ := v.(string)
		fields = append(fields, []byte(s))
	}
	ev, err := events.Deserialize(name, fields)
	if err != nil {
		return nil, "", err
	}
	return ev, events.Source(source), nil
}
