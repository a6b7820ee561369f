package persistence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/taskrelay/taskrelay/internal/cache"
	"github.com/taskrelay/taskrelay/relay"
)

const chainEpochKey = "taskrelay:chain:epoch"

// CachedLedger decorates a Backend, serving chain reads from Redis. Writes
// pass through and bump an epoch counter, which retires every cached chain
// snapshot at once. Transact is untouched, so transfer authorization always
// reads the database inside its transaction.
type CachedLedger struct {
	Backend

	cache  *cache.Manager
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewCachedLedger wraps backend with a Redis chain cache.
func NewCachedLedger(backend Backend, cacheMgr *cache.Manager, ttl time.Duration, logger *zap.Logger) *CachedLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedLedger{
		Backend: backend,
		cache:   cacheMgr,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "cached_ledger")),
	}
}

// Chain returns the ranked members, from cache when a fresh snapshot exists.
// Cache failures degrade to a direct database read.
func (c *CachedLedger) Chain(ctx context.Context) ([]relay.Collaborator, error) {
	key, err := c.chainKey(ctx)
	if err != nil {
		c.logger.Warn("chain cache unavailable, reading through", zap.Error(err))
		return c.Backend.Chain(ctx)
	}

	var cached []relay.Collaborator
	if err := c.cache.GetJSON(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !cache.IsCacheMiss(err) {
		c.logger.Warn("chain cache read failed", zap.Error(err))
	}

	// Collapse concurrent misses into one database read per epoch key.
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		chain, err := c.Backend.Chain(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.cache.SetJSON(ctx, key, chain, c.ttl); err != nil {
			c.logger.Warn("chain cache write failed", zap.Error(err))
		}
		return chain, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]relay.Collaborator), nil
}

// RankOf answers from the cached chain when the collaborator is ranked.
// Anything missing from the snapshot falls through to the database, which
// distinguishes unknown accounts from unranked ones.
func (c *CachedLedger) RankOf(ctx context.Context, collaboratorID string) (int, error) {
	chain, err := c.Chain(ctx)
	if err == nil {
		for _, m := range chain {
			if m.ID == collaboratorID {
				return *m.Sequence, nil
			}
		}
	}
	return c.Backend.RankOf(ctx, collaboratorID)
}

// NextAfter answers from the cached chain.
func (c *CachedLedger) NextAfter(ctx context.Context, rank int) (string, error) {
	chain, err := c.Chain(ctx)
	if err != nil {
		return c.Backend.NextAfter(ctx, rank)
	}
	for _, m := range chain {
		if *m.Sequence == rank+1 {
			return m.ID, nil
		}
	}
	return "", relay.ErrEndOfChain
}

// Reorder passes through and retires the cached chain.
func (c *CachedLedger) Reorder(ctx context.Context, orderedIDs []string) error {
	if err := c.Backend.Reorder(ctx, orderedIDs); err != nil {
		return err
	}
	c.bumpEpoch(ctx)
	return nil
}

// Insert passes through and retires the cached chain.
func (c *CachedLedger) Insert(ctx context.Context, collaboratorID string, atSeq int) error {
	if err := c.Backend.Insert(ctx, collaboratorID, atSeq); err != nil {
		return err
	}
	c.bumpEpoch(ctx)
	return nil
}

// CreateCollaborator passes through; a ranked create changes the chain.
func (c *CachedLedger) CreateCollaborator(ctx context.Context, col *relay.Collaborator) error {
	if err := c.Backend.CreateCollaborator(ctx, col); err != nil {
		return err
	}
	if col.Ranked() {
		c.bumpEpoch(ctx)
	}
	return nil
}

// RenameCollaborator passes through; the snapshot carries display names.
func (c *CachedLedger) RenameCollaborator(ctx context.Context, id, displayName string) (*relay.Collaborator, error) {
	col, err := c.Backend.RenameCollaborator(ctx, id, displayName)
	if err != nil {
		return nil, err
	}
	if col.Ranked() {
		c.bumpEpoch(ctx)
	}
	return col, nil
}

// DeleteCollaborator passes through and retires the cached chain; removal
// compacts the ranks behind it.
func (c *CachedLedger) DeleteCollaborator(ctx context.Context, id string) error {
	if err := c.Backend.DeleteCollaborator(ctx, id); err != nil {
		return err
	}
	c.bumpEpoch(ctx)
	return nil
}

func (c *CachedLedger) chainKey(ctx context.Context) (string, error) {
	epoch, err := c.cache.Get(ctx, chainEpochKey)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			return "", err
		}
		epoch = "0"
	}
	if _, err := strconv.ParseInt(epoch, 10, 64); err != nil {
		return "", fmt.Errorf("corrupt chain epoch %q: %w", epoch, err)
	}
	return "taskrelay:chain:" + epoch, nil
}

func (c *CachedLedger) bumpEpoch(ctx context.Context) {
	if _, err := c.cache.Incr(ctx, chainEpochKey); err != nil {
		c.logger.Warn("chain epoch bump failed", zap.Error(err))
	}
}
