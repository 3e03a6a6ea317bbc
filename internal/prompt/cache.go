package prompt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"go.uber.org/zap"
)

// DefaultTTL is how long a fetched prompt is served without contacting the
// source again.
const DefaultTTL = 5 * time.Minute

// Compiled is a prompt template fetched from the management vendor, ready for
// variable substitution.
type Compiled struct {
	Name   string
	Prompt string
	Config map[string]interface{}
}

// Source is the prompt-management capability the cache sits in front of.
type Source interface {
	FetchPrompt(ctx context.Context, name, label string) (*Compiled, error)
}

// Generation describes one model call for best-effort observability.
type Generation struct {
	TraceID    string
	Name       string
	Model      string
	Input      string
	Output     string
	PromptName string
	StartTime  time.Time
	EndTime    time.Time
	Metadata   map[string]interface{}
}

// Tracer records model generations. Implementations must never fail the
// caller; tracing problems are logged and swallowed.
type Tracer interface {
	TraceGeneration(ctx context.Context, gen Generation)
}

type cacheEntry struct {
	prompt    *Compiled
	fetchedAt time.Time
}

// Cache is a TTL cache over a prompt source with stale-on-error fallback:
// when the source fails and any entry exists for the key, the stale entry is
// served rather than an error.
type Cache struct {
	source Source
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates a prompt cache. A non-positive ttl falls back to DefaultTTL.
func NewCache(source Source, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		source:  source,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the prompt for (name, label), contacting the source only when
// no fresh entry exists. On source failure a stale entry is returned if one
// was ever cached; otherwise the call fails with PROMPT_SOURCE_UNAVAILABLE.
func (c *Cache) Get(ctx context.Context, name, label string) (*Compiled, error) {
	key := cacheKey(name, label)

	c.mu.Lock()
	entry, cached := c.entries[key]
	c.mu.Unlock()

	if cached && c.now().Sub(entry.fetchedAt) < c.ttl {
		c.logger.Debug("Returning cached prompt",
			zap.String("prompt_name", name),
			zap.String("label", label),
			zap.Duration("cache_age", c.now().Sub(entry.fetchedAt)))
		return entry.prompt, nil
	}

	fetched, err := c.source.FetchPrompt(ctx, name, label)
	if err != nil {
		if cached {
			c.logger.Warn("Prompt source unavailable, returning stale cached prompt",
				zap.String("prompt_name", name),
				zap.String("label", label),
				zap.Duration("stale_for", c.now().Sub(entry.fetchedAt)),
				zap.Error(err))
			return entry.prompt, nil
		}
		c.logger.Error("Prompt source unavailable and no cached prompt",
			zap.String("prompt_name", name),
			zap.String("label", label),
			zap.Error(err))
		return nil, apperr.Wrap(apperr.CodePromptSourceDown,
			fmt.Sprintf("cannot fetch prompt %q and no cached version available", name), true, err)
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{prompt: fetched, fetchedAt: c.now()}
	c.mu.Unlock()

	c.logger.Info("Fetched prompt from source",
		zap.String("prompt_name", name),
		zap.String("label", label))
	return fetched, nil
}

// Warm prefetches a batch of prompts at startup. A failing prefetch is logged
// and does not abort the others.
func (c *Cache) Warm(ctx context.Context, names []string, label string) {
	c.logger.Info("Warming prompt cache", zap.Strings("prompts", names))

	succeeded := 0
	for _, name := range names {
		if _, err := c.Get(ctx, name, label); err != nil {
			c.logger.Warn("Failed to warm prompt",
				zap.String("prompt_name", name),
				zap.Error(err))
			continue
		}
		succeeded++
	}

	c.logger.Info("Prompt cache warm-up complete",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(names)-succeeded),
		zap.Int("total", len(names)))
}

func cacheKey(name, label string) string {
	if label == "" {
		return name
	}
	return name + ":" + label
}
