// Package kafkaconsumer applies granule ingest notifications from Kafka to
// the search cache: every cached search whose region overlaps the new
// footprint is dropped and the region's hotness is reset.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/granule-explorer/internal/core/model"
	"github.com/mohammed-shakir/granule-explorer/internal/core/observability"
	"github.com/mohammed-shakir/granule-explorer/internal/invalidation"
	"github.com/mohammed-shakir/granule-explorer/internal/logger"
)

type Invalidator interface {
	InvalidateRegions(ctx context.Context, regions ...string) (int, error)
	PurgeAll(ctx context.Context) (int, error)
}

type CellMapper interface {
	CellsForBBox(bb model.BBox, res int) ([]string, error)
	EstimateCells(bb model.BBox, res int) (int, error)
}

type HotnessResetter interface {
	Reset(regions ...string)
}

// op label for notifications that never decoded far enough to have one
const unknownOp = "unknown"

type Options struct {
	Logger  *slog.Logger
	Hotness HotnessResetter
	// Res must match the resolution the search cache names regions with.
	Res int
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	inv    Invalidator
	mapper CellMapper
	hot    HotnessResetter
	res    int
	dedupe *seqDedupe
	now    func() time.Time
	group  *groupHandler

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg Config, inv Invalidator, m CellMapper, o Options) *Consumer {
	cfg = cfg.withDefaults()
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	c := &Consumer{
		cfg:    cfg,
		logger: o.Logger,
		inv:    inv,
		mapper: m,
		hot:    o.Hotness,
		res:    o.Res,
		dedupe: newSeqDedupe(cfg.DedupeSize),
		now:    time.Now,
	}
	c.group = &groupHandler{process: c.ProcessOne}
	return c
}

// Start joins the consumer group and consumes in the background until ctx
// is cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if c.inv == nil || c.mapper == nil {
		return errors.New("kafkaconsumer: missing dependencies (invalidator/mapper)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(logger.WithComponent(ctx, "ingest_consumer"))
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.logger.ErrorContext(ctx, "kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, c.group); err != nil {
				c.logger.ErrorContext(ctx, "kafka consume error",
					"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			c.logger.ErrorContext(ctx, "kafka group error", "err", err)
		}
	}()

	c.logger.InfoContext(ctx, "ingest consumer started",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)
	return nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("ingest consumer stopped")
}

var errNoPartitions = errors.New("no partitions assigned")

// Ping reports ready once the group session owns at least one partition.
func (c *Consumer) Ping(context.Context) error {
	if len(c.group.partitions()) == 0 {
		return errNoPartitions
	}
	return nil
}

// ProcessOne applies a single notification. Messages that cannot be decoded
// or fail validation are logged and skipped; only cache failures are
// returned, which leaves the offset unmarked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := c.now()
	if !msg.Timestamp.IsZero() {
		observability.SetInvalidationLagSeconds(start.Sub(msg.Timestamp).Seconds())
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.skipPoison(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.skipPoison(ctx, msg, "validate", err)
		return nil
	}

	key := ev.DedupeKey()
	if key != "" && !c.dedupe.shouldApply(key, ev.Seq) {
		observability.ObserveInvalidation(ev.Op, "skip", 0, time.Since(start).Seconds())
		c.logger.DebugContext(ctx, "stale notification skipped", "granule", ev.Granule, "seq", ev.Seq)
		return nil
	}

	bb := ev.BBox.Model()
	est, err := c.mapper.EstimateCells(bb, c.res)
	if err != nil {
		// the bbox already validated, so this is a bad resolution
		observability.ObserveInvalidation(ev.Op, "error", 0, time.Since(start).Seconds())
		return fmt.Errorf("estimate cells: %w", err)
	}
	if est > c.cfg.MaxCells {
		return c.purgeAll(ctx, msg, ev, key, est, start)
	}
	regions, err := c.mapper.CellsForBBox(bb, c.res)
	if err != nil {
		observability.ObserveInvalidation(ev.Op, "error", 0, time.Since(start).Seconds())
		return fmt.Errorf("cells for bbox: %w", err)
	}
	if len(regions) > c.cfg.MaxCells {
		return c.purgeAll(ctx, msg, ev, key, len(regions), start)
	}

	n, err := c.inv.InvalidateRegions(ctx, regions...)
	if err != nil {
		observability.ObserveInvalidation(ev.Op, "error", 0, time.Since(start).Seconds())
		c.logger.ErrorContext(ctx, "invalidate regions failed",
			"op", ev.Op, "regions", len(regions), "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("invalidate regions: %w", err)
	}
	if key != "" {
		c.dedupe.applied(key, ev.Seq)
	}
	if c.hot != nil {
		c.hot.Reset(regions...)
	}

	observability.ObserveInvalidation(ev.Op, "ok", len(regions), time.Since(start).Seconds())
	c.logger.InfoContext(ctx, "ingest invalidated cache",
		"op", ev.Op,
		"platform", ev.Platform,
		"granule", ev.Granule,
		"regions", len(regions),
		"keys", n)
	return nil
}

// purgeAll drops the whole search cache for notifications whose footprint
// spans more than MaxCells regions.
func (c *Consumer) purgeAll(ctx context.Context, msg *sarama.ConsumerMessage, ev invalidation.Event, key string, cells int, start time.Time) error {
	n, err := c.inv.PurgeAll(ctx)
	if err != nil {
		observability.ObserveInvalidation(ev.Op, "error", 0, time.Since(start).Seconds())
		c.logger.ErrorContext(ctx, "purge cache failed",
			"op", ev.Op, "cells", cells, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("purge cache: %w", err)
	}
	if key != "" {
		c.dedupe.applied(key, ev.Seq)
	}
	observability.ObserveInvalidation(ev.Op, "purge_all", 0, time.Since(start).Seconds())
	c.logger.WarnContext(ctx, "ingest footprint too large, purged cache",
		"op", ev.Op,
		"platform", ev.Platform,
		"granule", ev.Granule,
		"cells", cells,
		"max_cells", c.cfg.MaxCells,
		"keys", n)
	return nil
}

func (c *Consumer) skipPoison(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	observability.ObserveInvalidation(unknownOp, "error", 0, 0)
	c.logger.WarnContext(ctx, "skipping bad ingest notification",
		"kind", kind,
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"err", err)
}
