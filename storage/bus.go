// Package storage implements the asynchronous write bus between the relay
// and the database. The request path only ever enqueues; dedicated writer
// goroutines batch rows and retry forever on database errors, so a down
// database slows recording without failing traffic.
package storage

import (
	"context"
	"time"

	"github.com/Laisky/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/dfft546/gproxy/common/config"
	"github.com/dfft546/gproxy/common/logger"
	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/pool"
)

// controlEvent is one serialized admin-state write: a disallow upsert or
// delete.
type controlEvent struct {
	upsert *model.CredentialDisallow
	delete *model.CredentialDisallow
}

// Bus fans writes out to one goroutine per logical stream: control,
// downstream traffic, upstream traffic, usage.
type Bus struct {
	control    chan controlEvent
	downstream chan *model.DownstreamTraffic
	upstream   chan *model.UpstreamTraffic
	usage      chan *model.UpstreamUsage

	db     *gorm.DB
	group  *errgroup.Group
	cancel context.CancelFunc
}

func NewBus(db *gorm.DB) *Bus {
	return &Bus{
		control:    make(chan controlEvent, config.BusControlQueueSize),
		downstream: make(chan *model.DownstreamTraffic, config.BusTrafficQueueSize),
		upstream:   make(chan *model.UpstreamTraffic, config.BusTrafficQueueSize),
		usage:      make(chan *model.UpstreamUsage, config.BusTrafficQueueSize),
		db:         db,
	}
}

// Start launches the writer goroutines.
func (b *Bus) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	b.group = group

	group.Go(func() error { b.controlWriter(ctx); return nil })
	group.Go(func() error { runBatchWriter(ctx, b.db, b.downstream); return nil })
	group.Go(func() error { runBatchWriter(ctx, b.db, b.upstream); return nil })
	group.Go(func() error { runBatchWriter(ctx, b.db, b.usage); return nil })
}

// Shutdown drains the channels and stops the writers.
func (b *Bus) Shutdown(ctx context.Context) {
	close(b.control)
	close(b.downstream)
	close(b.upstream)
	close(b.usage)

	done := make(chan struct{})
	go func() {
		_ = b.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.cancel()
	}
}

// RecordDownstream enqueues a downstream traffic row. A full channel blocks
// rather than drops.
func (b *Bus) RecordDownstream(row *model.DownstreamTraffic) { b.downstream <- row }

func (b *Bus) RecordUpstream(row *model.UpstreamTraffic) { b.upstream <- row }

func (b *Bus) RecordUsage(row *model.UpstreamUsage) { b.usage <- row }

// SaveDisallow implements pool.Sink.
func (b *Bus) SaveDisallow(mark pool.Mark) {
	row := &model.CredentialDisallow{
		CredentialId: mark.CredentialID,
		ScopeKind:    model.DisallowScopeAll,
		Level:        model.DisallowLevelTransient,
		Reason:       mark.Reason,
	}
	if !mark.Scope.IsAll() {
		row.ScopeKind = model.DisallowScopeModel
		row.ScopeValue = mark.Scope.Model
	}
	if mark.Level == pool.Dead {
		row.Level = model.DisallowLevelDead
	}
	if mark.Until != nil {
		row.UntilAt = mark.Until.Unix()
	}
	b.control <- controlEvent{upsert: row}
}

// DeleteDisallow implements pool.Sink.
func (b *Bus) DeleteDisallow(credentialID int, scope pool.Scope) {
	row := &model.CredentialDisallow{
		CredentialId: credentialID,
		ScopeKind:    model.DisallowScopeAll,
	}
	if !scope.IsAll() {
		row.ScopeKind = model.DisallowScopeModel
		row.ScopeValue = scope.Model
	}
	b.control <- controlEvent{delete: row}
}

// controlWriter applies control events one at a time, retrying forever:
// disallow state must not be lost to a transient DB outage.
func (b *Bus) controlWriter(ctx context.Context) {
	for event := range b.control {
		for {
			var err error
			switch {
			case event.upsert != nil:
				err = model.UpsertDisallow(event.upsert)
			case event.delete != nil:
				err = model.DeleteDisallow(event.delete.CredentialId, event.delete.ScopeKind, event.delete.ScopeValue)
			}
			if err == nil {
				break
			}
			logger.Logger.Error("control write failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(config.BusRetryBackoff):
			}
		}
	}
}

// insertBatch retries one batch until it lands or the context ends.
func insertBatch[T any](ctx context.Context, db *gorm.DB, batch []T) {
	for {
		if err := db.Create(batch).Error; err == nil {
			return
		} else {
			logger.Logger.Error("traffic batch write failed, retrying", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(config.BusRetryBackoff):
		}
	}
}

// runBatchWriter drains a channel into batches flushed every
// BusFlushInterval or once BusBatchSize rows accumulate.
func runBatchWriter[T any](ctx context.Context, db *gorm.DB, ch <-chan T) {
	ticker := time.NewTicker(config.BusFlushInterval)
	defer ticker.Stop()

	var batch []T
	flushNow := func() {
		if len(batch) == 0 {
			return
		}
		insertBatch(ctx, db, batch)
		batch = nil
	}

	for {
		select {
		case row, ok := <-ch:
			if !ok {
				flushNow()
				return
			}
			batch = append(batch, row)
			if len(batch) >= config.BusBatchSize {
				flushNow()
			}
		case <-ticker.C:
			flushNow()
		}
	}
}
