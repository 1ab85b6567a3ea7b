// Package telemetry mirrors the stepper currents into redis: a hash with the
// latest values and a notification on a channel whenever they are written.
package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"stepdac/core"
	"stepdac/standalone/config"
)

// Publisher writes current reports to redis
type Publisher struct {
	redis   *redis.Client
	key     string
	channel string
	now     func() time.Time
}

// New creates a publisher on an existing client
func New(client *redis.Client, key, channel string) *Publisher {
	return &Publisher{
		redis:   client,
		key:     key,
		channel: channel,
		now:     time.Now,
	}
}

// NewFromConfig connects to the configured redis server. It returns nil
// when no address is configured.
func NewFromConfig(cfg config.TelemetryConfig) *Publisher {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	return New(client, cfg.Key, cfg.Channel)
}

// Fields converts a report to hash fields ("x-percent", "x-amps", ...).
func Fields(report []core.AxisCurrent) map[string]interface{} {
	fields := make(map[string]interface{}, 2*len(report)+1)
	for _, c := range report {
		name := strings.ToLower(c.Label)
		fields[name+"-percent"] = strconv.FormatFloat(float64(c.Percent), 'f', 2, 32)
		fields[name+"-amps"] = strconv.FormatFloat(float64(c.Amps), 'f', 2, 32)
	}
	return fields
}

// Publish stores the report and notifies subscribers. An empty report
// (no converter) marks the hash as absent.
func (p *Publisher) Publish(ctx context.Context, report []core.AxisCurrent) error {
	fields := Fields(report)
	fields["present"] = strconv.FormatBool(len(report) > 0)
	fields["updated"] = p.now().Unix()

	pipe := p.redis.Pipeline()
	pipe.HSet(ctx, p.key, fields)
	pipe.Publish(ctx, p.channel, "currents")

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish stepper currents: %w", err)
	}
	return nil
}

// Run publishes the result of report every interval until ctx is done.
// Failures are passed to onError and do not stop the loop.
func (p *Publisher) Run(ctx context.Context, interval time.Duration, report func() []core.AxisCurrent, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Publish(ctx, report()); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// Close closes the redis client
func (p *Publisher) Close() error {
	return p.redis.Close()
}
