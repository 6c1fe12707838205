package screening

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"revguard/internal/config"
	"revguard/internal/constants"
	"revguard/internal/logger"
	"revguard/internal/policy"
	"revguard/pkg/circuitbreaker"
	"revguard/pkg/metrics"
)

type DedupRepository interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

type RedisDedupRepository struct {
	client redis.UniversalClient
}

func NewRedisDedupRepository(client redis.UniversalClient) *RedisDedupRepository {
	return &RedisDedupRepository{client: client}
}

func (r *RedisDedupRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return ok, nil
}

func (r *RedisDedupRepository) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis Del failed: %w", err)
	}
	return nil
}

// Deduplicator remembers a hash of the configured assessment fields for
// TTL seconds; the first assessment with a given hash is unique.
type Deduplicator struct {
	repo    DedupRepository
	breaker *circuitbreaker.Wrapper
	cfg     config.DeduplicationConfig
	logger  logger.Logger

	fieldsMu sync.RWMutex
	fields   []string
}

func NewDeduplicator(repo DedupRepository, cfg config.DeduplicationConfig, breaker *circuitbreaker.Wrapper, log logger.Logger) *Deduplicator {
	fields := cfg.FieldsToHash
	if len(fields) == 0 {
		fields = []string{"declaration.id", "declaration.lodgement_ts"}
	}
	if cfg.TTLSeconds <= 0 {
		cfg.TTLSeconds = constants.DefaultTTLSeconds
	}
	return &Deduplicator{repo: repo, breaker: breaker, cfg: cfg, logger: log, fields: fields}
}

// IsUnique records the assessment and reports whether it was unseen.
// Redis failures follow cfg.OnRedisError: "allow" treats the assessment as
// unique, anything else returns the error.
func (d *Deduplicator) IsUnique(ctx context.Context, a Assessment) (bool, error) {
	key := d.key(a)
	ttl := time.Duration(d.cfg.TTLSeconds) * time.Second

	var unique bool
	call := func(ctx context.Context) error {
		var err error
		unique, err = d.repo.SetNX(ctx, key, time.Now().Unix(), ttl)
		return err
	}

	var err error
	if d.breaker != nil {
		err = d.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	if err != nil {
		metrics.IncDedupCheck("error")
		if d.cfg.OnRedisError == constants.FallbackAllow {
			metrics.FallbackUsageTotal.WithLabelValues("deduplication", "allow_on_error", "redis_error").Inc()
			d.logger.WarnwCtx(ctx, "Dedup check failed, treating assessment as unique",
				"error", err,
			)
			return true, nil
		}
		metrics.FallbackUsageTotal.WithLabelValues("deduplication", "deny_on_error", "redis_error").Inc()
		return false, fmt.Errorf("dedup check failed: %w", err)
	}

	if unique {
		metrics.IncDedupCheck("unique")
	} else {
		metrics.IncDedupCheck("duplicate")
	}
	return unique, nil
}

// Release forgets the assessment so that a redelivery is screened again.
// Screening calls it when the decision could not be completed.
func (d *Deduplicator) Release(ctx context.Context, a Assessment) error {
	key := d.key(a)
	call := func(ctx context.Context) error {
		return d.repo.Del(ctx, key)
	}
	if d.breaker != nil {
		return d.breaker.Execute(ctx, call)
	}
	return call(ctx)
}

func (d *Deduplicator) key(a Assessment) string {
	return constants.CacheKeyPrefixDedup + d.Hash(a)
}

// Hash joins the configured field values with "|" and digests them.
// Missing fields contribute an empty value.
func (d *Deduplicator) Hash(a Assessment) string {
	doc := map[string]interface{}{
		"id":          a.ID,
		"declaration": a.Declaration,
		"riskScores":  a.RiskScores,
		"items":       a.Items,
	}

	var b strings.Builder
	for _, field := range d.Fields() {
		if v, ok := policy.ResolvePath(doc, field); ok && v != nil {
			fmt.Fprintf(&b, "%v", v)
		}
		b.WriteByte('|')
	}

	if d.cfg.HashAlgorithm == "md5" {
		sum := md5.Sum([]byte(b.String()))
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (d *Deduplicator) Fields() []string {
	d.fieldsMu.RLock()
	defer d.fieldsMu.RUnlock()
	return append([]string(nil), d.fields...)
}

// UpdateFieldsToHash swaps the hashed field list at runtime.
func (d *Deduplicator) UpdateFieldsToHash(fields []string) error {
	if len(fields) == 0 {
		return fmt.Errorf("fields list cannot be empty")
	}
	d.fieldsMu.Lock()
	d.fields = append([]string(nil), fields...)
	d.fieldsMu.Unlock()

	d.logger.Infow("Updated dedup fields", "fields", fields)
	return nil
}
