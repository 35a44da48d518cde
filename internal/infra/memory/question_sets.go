package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"horizon-portal/internal/domain"
)

// QuestionSetLoader fetches a template's question set from the backing store.
type QuestionSetLoader interface {
	LoadQuestionSet(ctx context.Context, templateID string) (domain.QuestionSet, error)
}

// QuestionSetCache caches question sets with TTL to avoid repeated DB hits.
// Each template carries a generation bumped by Invalidate; a load that
// started under an older generation is returned to its caller but never cached.
type QuestionSetCache struct {
	loader QuestionSetLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedSet
	gens  map[string]uint64
}

type cachedSet struct {
	set       domain.QuestionSet
	expiresAt time.Time
}

func NewQuestionSetCache(loader QuestionSetLoader, ttl time.Duration) *QuestionSetCache {
	return &QuestionSetCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSet),
		gens:   make(map[string]uint64),
	}
}

func (c *QuestionSetCache) GetQuestionSet(ctx context.Context, templateID string) (domain.QuestionSet, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[templateID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.set, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(templateID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[templateID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.set, nil
		}
		gen := c.gens[templateID]
		c.mu.RUnlock()

		set, err := c.loader.LoadQuestionSet(ctx, templateID)
		if err != nil {
			return domain.QuestionSet{}, err
		}

		c.mu.Lock()
		if c.gens[templateID] == gen {
			c.cache[templateID] = cachedSet{
				set:       set,
				expiresAt: now.Add(c.ttlWithJitter()),
			}
		}
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

// Invalidate drops the cached set so the next read reloads it.
func (c *QuestionSetCache) Invalidate(_ context.Context, templateID string) error {
	c.mu.Lock()
	delete(c.cache, templateID)
	c.gens[templateID]++
	c.mu.Unlock()
	c.sf.Forget(templateID)
	return nil
}

func (c *QuestionSetCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
