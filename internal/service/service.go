package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"voyapos/backend/internal/apperr"
	"voyapos/backend/internal/cache"
	"voyapos/backend/internal/domain"
	"voyapos/backend/internal/events"
	"voyapos/backend/internal/logger"
	"voyapos/backend/internal/store"
)

const (
	defaultCacheTTL          = 60 * time.Second
	defaultLowStockThreshold = 5
	publishTimeout           = 5 * time.Second
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// SnapshotFetcher reads current external inventory levels for a set of
// inventory item ids.
type SnapshotFetcher interface {
	FetchInventorySnapshot(ctx context.Context, itemIDs []string) ([]domain.InventoryLevel, error)
}

type Options struct {
	Cache             cache.Cache
	Locker            cache.Locker
	Publisher         events.Publisher
	Fetcher           SnapshotFetcher
	Logger            *zap.Logger
	CacheTTL          time.Duration
	LowStockThreshold int
}

type Service struct {
	repo              store.Repository
	cache             cache.Cache
	locker            cache.Locker
	publisher         events.Publisher
	fetcher           SnapshotFetcher
	logger            *zap.Logger
	cacheTTL          time.Duration
	lowStockThreshold int
	now               func() time.Time
	// generation counts invalidations; a read model loaded under an older
	// generation is never left in the cache.
	generation atomic.Uint64
}

func New(repo store.Repository, opts Options) *Service {
	svc := &Service{
		repo:              repo,
		cache:             opts.Cache,
		locker:            opts.Locker,
		publisher:         opts.Publisher,
		fetcher:           opts.Fetcher,
		logger:            logger.OrNop(opts.Logger),
		cacheTTL:          opts.CacheTTL,
		lowStockThreshold: opts.LowStockThreshold,
		now:               func() time.Time { return time.Now().UTC() },
	}
	if svc.cache == nil {
		svc.cache = cache.Noop{}
	}
	if svc.locker == nil {
		svc.locker = cache.NewMemoryLocker()
	}
	if svc.publisher == nil {
		svc.publisher = events.Noop{}
	}
	if svc.cacheTTL <= 0 {
		svc.cacheTTL = defaultCacheTTL
	}
	if svc.lowStockThreshold <= 0 {
		svc.lowStockThreshold = defaultLowStockThreshold
	}
	return svc
}

// CheckStore reports StoreNotFound unless storeID names an active store.
func (s *Service) CheckStore(ctx context.Context, storeID string) error {
	st, err := s.repo.GetStore(ctx, strings.TrimSpace(storeID))
	if errors.Is(err, store.ErrNotFound) || (err == nil && !st.Active) {
		return apperr.StoreNotFound(storeID)
	}
	return mapError(err, "failed to load store")
}

func requireActor(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, apperr.Forbidden("authentication required")
	}
	if len(roles) == 0 {
		return actor, nil
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, apperr.Forbidden(fmt.Sprintf("%s role is not allowed", defaultString(actor.Role, "unknown")))
}

// scopeStore resolves the store a caller may act on. Cashiers are pinned to
// their assigned store; other roles pass through.
func scopeStore(actor domain.Actor, storeID string) (string, error) {
	storeID = strings.TrimSpace(storeID)
	if actor.Role != domain.RoleCashier {
		return storeID, nil
	}
	if actor.StoreID == "" {
		return "", apperr.Forbidden("cashier has no assigned store")
	}
	if storeID != "" && storeID != actor.StoreID {
		return "", apperr.Forbidden("cashier may only access the assigned store")
	}
	return actor.StoreID, nil
}

// mapError converts store sentinels that escape a specific call site into
// typed errors. Values that are already typed pass through.
func mapError(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrInvalidInput):
		return apperr.Validation(err.Error(), "")
	case errors.Is(err, store.ErrDuplicateInvoice):
		return apperr.DuplicateInvoice("", err)
	case errors.Is(err, store.ErrNegativeQuantity):
		return apperr.NegativeQuantity("", "", err)
	}
	return apperr.Internal(message, err)
}

func (s *Service) invalidate(ctx context.Context, prefixes ...string) {
	s.generation.Add(1)
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), prefixes...); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Strings("prefixes", prefixes), zap.Error(err))
	}
}

// publish is best effort: the state change is already committed.
func (s *Service) publish(ctx context.Context, event events.Event) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("type", event.EventType()),
			zap.String("key", event.PartitionKey()),
			zap.Error(err),
		)
	}
}

func (s *Service) cached(ctx context.Context, key string, dest any) bool {
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

// cacheGeneration is read before loading a read model and handed to remember.
func (s *Service) cacheGeneration() uint64 {
	return s.generation.Load()
}

// remember stores value unless an invalidation ran since gen was read. The
// check is repeated after the write because an invalidation may land between
// the first check and Set.
func (s *Service) remember(ctx context.Context, key string, value any, gen uint64) {
	if s.generation.Load() != gen {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	if s.generation.Load() != gen {
		if err := s.cache.Invalidate(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
