package worker

import (
	"context"
	"time"

	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

const viewFlushLock = "view-flush"

// ViewBuffer is the Redis side of view counting; satisfied by *redisclient.Client
type ViewBuffer interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
	PendingViewProducts(ctx context.Context) ([]int64, error)
	DrainViews(ctx context.Context, productID int64) (int64, error)
	RestoreViews(ctx context.Context, productID, n int64) error
}

// ViewSink persists drained counts; satisfied by *store.Store
type ViewSink interface {
	AddProductViews(ctx context.Context, id int64, n int64) error
}

// ViewFlusher periodically moves buffered product views from Redis into
// Postgres. Only one replica flushes at a time.
type ViewFlusher struct {
	buffer   ViewBuffer
	sink     ViewSink
	interval time.Duration
	logger   *zap.Logger
}

// NewViewFlusher creates a new view flusher
func NewViewFlusher(buffer ViewBuffer, sink ViewSink, interval time.Duration) *ViewFlusher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ViewFlusher{
		buffer:   buffer,
		sink:     sink,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start flushes on every tick until ctx is done, then flushes once more
func (f *ViewFlusher) Start(ctx context.Context) error {
	f.logger.Info("Starting view flusher...", zap.Duration("interval", f.interval))
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := f.Flush(final); err != nil {
				f.logger.Warn("Final view flush failed", zap.Error(err))
			}
			cancel()
			return nil
		case <-ticker.C:
			if _, err := f.Flush(ctx); err != nil {
				f.logger.Warn("View flush failed", zap.Error(err))
			}
		}
	}
}

// Flush drains every pending counter once and returns the number of views
// written. Counts that fail to persist are put back for the next round.
func (f *ViewFlusher) Flush(ctx context.Context) (int64, error) {
	token, err := f.buffer.AcquireLock(ctx, viewFlushLock, f.interval)
	if err != nil {
		return 0, err
	}
	if token == "" {
		return 0, nil
	}
	defer func() {
		if err := f.buffer.ReleaseLock(context.Background(), viewFlushLock, token); err != nil {
			f.logger.Warn("Failed to release view flush lock", zap.Error(err))
		}
	}()

	ids, err := f.buffer.PendingViewProducts(ctx)
	if err != nil {
		return 0, err
	}

	var flushed int64
	for _, id := range ids {
		n, err := f.buffer.DrainViews(ctx, id)
		if err != nil {
			f.logger.Warn("Failed to drain views", zap.Int64("product_id", id), zap.Error(err))
			continue
		}
		if n == 0 {
			continue
		}
		if err := f.sink.AddProductViews(ctx, id, n); err != nil {
			f.logger.Warn("Failed to persist views", zap.Int64("product_id", id), zap.Error(err))
			if rerr := f.buffer.RestoreViews(context.Background(), id, n); rerr != nil {
				f.logger.Error("Dropped buffered views", zap.Int64("product_id", id), zap.Int64("views", n), zap.Error(rerr))
			}
			continue
		}
		flushed += n
	}

	if flushed > 0 {
		util.ViewsFlushedTotal.Add(float64(flushed))
		f.logger.Debug("Views flushed", zap.Int("products", len(ids)), zap.Int64("views", flushed))
	}
	return flushed, nil
}
