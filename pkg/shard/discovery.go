// Package shard expands a base prefix into per-shard prefixes so large
// partitioned layouts can be listed and removed in parallel.
package shard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/3leaps/goscour/pkg/manifest"
	"github.com/3leaps/goscour/pkg/provider"
)

type Config struct {
	Enabled         bool
	Depth           int
	MaxShards       int
	ListConcurrency int
	Delimiter       string
}

// FromManifest maps a manifest shard block onto a discovery config.
// A nil block disables sharding.
func FromManifest(cfg *manifest.ShardConfig) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		Enabled:         cfg.Enabled,
		Depth:           cfg.Depth,
		MaxShards:       cfg.MaxShards,
		ListConcurrency: cfg.ListConcurrency,
		Delimiter:       cfg.Delimiter,
	}
}

// Discover expands basePrefix into shard prefixes by walking Depth
// delimiter levels. A prefix with no children at some level stays in
// the result as-is, so flat corners of a layout are not lost. The
// result is sorted; when MaxShards > 0 it is truncated to that length.
//
// Shard counts are structural only. Discovery never estimates how many
// objects live under a shard.
func Discover(ctx context.Context, p provider.Provider, basePrefix string, cfg Config) ([]string, error) {
	if !cfg.Enabled {
		return []string{basePrefix}, nil
	}
	lister, ok := p.(provider.PrefixLister)
	if !ok {
		return nil, fmt.Errorf("provider does not support delimiter prefix discovery")
	}

	depth := cfg.Depth
	if depth <= 0 {
		depth = 1
	}
	delimiter := cfg.Delimiter
	if delimiter == "" {
		delimiter = "/"
	}
	concurrency := cfg.ListConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	current := []string{basePrefix}
	for level := 0; level < depth; level++ {
		next, err := expandLevel(ctx, lister, current, delimiter, concurrency, cfg.MaxShards)
		if err != nil {
			return nil, err
		}
		// Deterministic ordering for plans and tests.
		sort.Strings(next)
		current = next
	}

	if cfg.MaxShards > 0 && len(current) > cfg.MaxShards {
		current = current[:cfg.MaxShards]
	}
	return current, nil
}

// expandLevel lists the children of every prefix on a bounded worker
// pool. The first listing error cancels the level; once MaxShards
// prefixes have accumulated, remaining work is abandoned.
func expandLevel(ctx context.Context, lister provider.PrefixLister, prefixes []string, delimiter string, concurrency int, maxShards int) ([]string, error) {
	if len(prefixes) == 0 {
		return nil, nil
	}

	work := make(chan string, len(prefixes))
	for _, p := range prefixes {
		work <- p
	}
	close(work)

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		out      []string
		firstErr error
	)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for prefix := range work {
				if ctx.Err() != nil {
					return
				}

				children, err := collectChildPrefixes(ctx, lister, prefix, delimiter)
				if err != nil {
					mu.Lock()
					// A listing cut short by our own max-shards cancel
					// is not a failure.
					selfCancelled := ctx.Err() != nil && parent.Err() == nil && errors.Is(err, context.Canceled)
					if firstErr == nil && !selfCancelled {
						firstErr = err
						cancel()
					}
					mu.Unlock()
					return
				}

				mu.Lock()
				if len(children) == 0 {
					out = append(out, prefix)
				} else {
					out = append(out, children...)
				}
				full := maxShards > 0 && len(out) >= maxShards
				mu.Unlock()

				if full {
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if maxShards > 0 && len(out) > maxShards {
		out = out[:maxShards]
	}
	return out, nil
}

func collectChildPrefixes(ctx context.Context, lister provider.PrefixLister, prefix string, delimiter string) ([]string, error) {
	var token string
	var out []string
	for {
		res, err := lister.ListCommonPrefixes(ctx, provider.ListCommonPrefixesOptions{
			Prefix:            prefix,
			Delimiter:         delimiter,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Prefixes...)
		if !res.IsTruncated || res.ContinuationToken == "" {
			return out, nil
		}
		token = res.ContinuationToken
	}
}
