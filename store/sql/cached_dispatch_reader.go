package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-webhooks/core"
)

const dispatchCacheKeyPrefix = "go-webhooks::dispatch::v1"

var errDispatchNotCacheable = errors.New("sqlstore: dispatch record is not terminal")

// CachedDispatchReader serves dispatch reads through a cache. Only sent and
// dead records are cached since nothing mutates them afterwards; live
// records always come from the base reader.
type CachedDispatchReader struct {
	base  core.DispatchReader
	cache repositorycache.CacheService
}

func NewCachedDispatchReader(
	base core.DispatchReader,
	cacheService repositorycache.CacheService,
) (*CachedDispatchReader, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base dispatch reader is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: dispatch cache service is required")
	}
	return &CachedDispatchReader{base: base, cache: cacheService}, nil
}

// DispatchCacheKey returns go-webhooks::dispatch::v1::<id> with the id
// URL-path escaped.
func DispatchCacheKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("sqlstore: dispatch id is required")
	}
	return dispatchCacheKeyPrefix + "::" + url.PathEscape(id), nil
}

func (r *CachedDispatchReader) Get(ctx context.Context, id string) (core.DispatchRecord, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: cached dispatch reader is not configured")
	}
	cacheKey, err := DispatchCacheKey(id)
	if err != nil {
		return core.DispatchRecord{}, err
	}

	var live core.DispatchRecord
	record, err := repositorycache.GetOrFetch(ctx, r.cache, cacheKey, func(ctx context.Context) (core.DispatchRecord, error) {
		fetched, fetchErr := r.base.Get(ctx, id)
		if fetchErr != nil {
			return core.DispatchRecord{}, fetchErr
		}
		if !fetched.Status.IsTerminal() {
			live = fetched
			return core.DispatchRecord{}, errDispatchNotCacheable
		}
		return cloneDispatch(fetched), nil
	})
	if err != nil {
		if errors.Is(err, errDispatchNotCacheable) {
			return cloneDispatch(live), nil
		}
		return core.DispatchRecord{}, err
	}
	return cloneDispatch(record), nil
}

func (r *CachedDispatchReader) Invalidate(ctx context.Context, id string) error {
	if r == nil || r.cache == nil {
		return fmt.Errorf("sqlstore: cached dispatch reader is not configured")
	}
	cacheKey, err := DispatchCacheKey(id)
	if err != nil {
		return err
	}
	return r.cache.Delete(ctx, cacheKey)
}

func cloneDispatch(record core.DispatchRecord) core.DispatchRecord {
	cloned := record
	cloned.Payload = append([]byte(nil), record.Payload...)
	cloned.NextRetryAt = cloneTimePointer(record.NextRetryAt)
	cloned.LeaseExpiresAt = cloneTimePointer(record.LeaseExpiresAt)
	return cloned
}
