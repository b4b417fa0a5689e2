package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sourceroots/pkg/async"
	"github.com/platinummonkey/sourceroots/pkg/observability"
)

const (
	DefaultKey     = "sourceroots:stamp"
	DefaultChannel = "sourceroots:stamp"
)

// Config configures the stamp publisher
type Config struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	Key           string
	Channel       string
	// Timeout bounds each publish
	Timeout time.Duration
}

// publishScript stores the stamp if none is stored or it is newer than the
// stored one, and announces it on the channel when it does.
var publishScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local stamp = tonumber(ARGV[1])
if current and stamp <= tonumber(current) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('PUBLISH', ARGV[2], ARGV[1])
return 1
`)

// StampPublisher mirrors the registry modification stamp into Redis so build
// workers in other processes can tell when source root types changed.
type StampPublisher struct {
	client  *redis.Client
	key     string
	channel string
	timeout time.Duration
	log     *logrus.Logger
	metrics *observability.Metrics

	// pending tracks publishes started by StampChanged
	pending sync.WaitGroup
}

// NewStampPublisher connects to Redis
func NewStampPublisher(cfg Config, log *logrus.Logger, metrics *observability.Metrics) (*StampPublisher, error) {
	if log == nil {
		log = logrus.New()
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &StampPublisher{
		client:  client,
		key:     cfg.Key,
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		log:     log,
		metrics: metrics,
	}, nil
}

// Publish stores stamp and announces it. Older stamps are ignored; the
// returned bool reports whether stamp was newer than the stored one.
func (p *StampPublisher) Publish(ctx context.Context, stamp int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	updated, err := publishScript.Run(ctx, p.client, []string{p.key}, stamp, p.channel).Int()
	if err != nil {
		return false, fmt.Errorf("failed to publish stamp: %w", err)
	}

	return updated == 1, nil
}

// StampChanged publishes stamp in the background, logging failures. It
// satisfies the plugin registry's StampListener and never blocks the caller
// on Redis; stale stamps lose in the publish script.
func (p *StampPublisher) StampChanged(ctx context.Context, stamp int64) {
	async.Go(context.WithoutCancel(ctx), &p.pending, p.log, "publish stamp", 0, func(ctx context.Context) error {
		p.record(ctx, stamp)
		return nil
	})
}

func (p *StampPublisher) record(ctx context.Context, stamp int64) {
	updated, err := p.Publish(ctx, stamp)

	status := "published"
	switch {
	case err != nil:
		status = "error"
		p.log.WithField("stamp", stamp).WithError(err).Warn("Failed to publish modification stamp")
	case !updated:
		status = "stale"
	}

	if p.metrics != nil {
		p.metrics.StampPublishTotal.WithLabelValues(status).Inc()
	}
}

// wait blocks until the publishes StampChanged started are done
func (p *StampPublisher) wait() {
	p.pending.Wait()
}

// Reset forgets the stored stamp. A restarted registry counts from zero
// again and would otherwise never publish past the previous run's stamp.
func (p *StampPublisher) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.Del(ctx, p.key).Err(); err != nil {
		return fmt.Errorf("failed to reset stamp: %w", err)
	}
	return nil
}

// Client exposes the underlying client for health checks
func (p *StampPublisher) Client() *redis.Client {
	return p.client
}

// Close waits for pending publishes and closes the Redis connection
func (p *StampPublisher) Close() error {
	p.wait()
	return p.client.Close()
}
