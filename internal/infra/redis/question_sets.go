package redis

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"horizon-portal/internal/domain"
)

// QuestionSetLoader fetches a template's question set from the backing store.
type QuestionSetLoader interface {
	LoadQuestionSet(ctx context.Context, templateID string) (domain.QuestionSet, error)
}

// loadedField marks a filled hash so templates without questions still hit the cache.
const loadedField = "__loaded"

// QuestionSetCache caches question sets in Redis (hash per template) and falls back to a loader on cache miss.
// Sets are stored as: HSET template:{templateID}:questions {questionID} {1 if required else 0}
type QuestionSetCache struct {
	client *redis.Client
	loader QuestionSetLoader
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

func NewQuestionSetCache(client *redis.Client, loader QuestionSetLoader, ttl time.Duration) *QuestionSetCache {
	return &QuestionSetCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionSetCache) GetQuestionSet(ctx context.Context, templateID string) (domain.QuestionSet, error) {
	key := c.key(templateID)

	fields, err := c.client.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		return buildSetFromCache(templateID, fields), nil
	}

	result, err, _ := c.sf.Do(templateID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		fields, err := c.client.HGetAll(ctx, key).Result()
		if err == nil && len(fields) > 0 {
			return buildSetFromCache(templateID, fields), nil
		}

		gen, err := c.client.Get(ctx, c.genKey(templateID)).Result()
		if err != nil && err != redis.Nil {
			log.Printf("read generation %s: %v", templateID, err)
		}

		set, err := c.loader.LoadQuestionSet(ctx, templateID)
		if err != nil {
			return domain.QuestionSet{}, err
		}
		if err := c.fill(ctx, templateID, gen, set); err != nil {
			log.Printf("cache question set %s: %v", templateID, err)
		}
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

// fill stores set under WATCH on the template's generation key, so a load
// overtaken by Invalidate leaves the cache empty.
func (c *QuestionSetCache) fill(ctx context.Context, templateID, gen string, set domain.QuestionSet) error {
	key := c.key(templateID)
	genKey := c.genKey(templateID)
	values := make([]interface{}, 0, 2*len(set.Questions)+2)
	values = append(values, loadedField, "1")
	for _, q := range set.Questions {
		required := "0"
		if q.Required {
			required = "1"
		}
		values = append(values, q.ID, required)
	}
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, values...)
			if ttl := c.ttlWithJitter(); ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	}, genKey)
	if err == redis.TxFailedErr {
		return nil
	}
	return err
}

// Invalidate bumps the template's generation and drops the cached hash so
// the next read reloads it.
func (c *QuestionSetCache) Invalidate(ctx context.Context, templateID string) error {
	c.sf.Forget(templateID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, c.genKey(templateID))
	pipe.Del(ctx, c.key(templateID))
	_, err := pipe.Exec(ctx)
	return err
}

func (c *QuestionSetCache) key(templateID string) string {
	return "template:" + templateID + ":questions"
}

func (c *QuestionSetCache) genKey(templateID string) string {
	return "template:" + templateID + ":generation"
}

func buildSetFromCache(templateID string, fields map[string]string) domain.QuestionSet {
	questions := make([]domain.QuestionRef, 0, len(fields))
	for questionID, required := range fields {
		if questionID == loadedField {
			continue
		}
		questions = append(questions, domain.QuestionRef{ID: questionID, Required: required == "1"})
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
	return domain.QuestionSet{TemplateID: templateID, Questions: questions}
}

func (c *QuestionSetCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
