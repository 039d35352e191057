package apikey

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keygate-io/keygate/internal/observability"
)

const storeTracerName = "keygate/apikey"

// Redis hash field names for key records.
const (
	fieldProjectID   = "project_id"
	fieldClass       = "class"
	fieldStatus      = "status"
	fieldExpiresAt   = "expires_at"
	fieldIPAllowlist = "ip_allowlist"
	fieldPermissions = "permissions"
	fieldUsageCount  = "usage_count"
	fieldLastUsedAt  = "last_used_at"
)

// RedisStore is a redis-backed implementation of the Store interface.
// Records are stored as hashes under "<prefix>key:<digest>". Usage is
// incremented server-side with HINCRBY, so concurrent requests against
// the same credential never lose updates.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	breaker   *gobreaker.CircuitBreaker
	logger    observability.Logger
}

// RedisStoreOption is a functional option for the redis store.
type RedisStoreOption func(*RedisStore)

// WithRedisStoreLogger sets the logger for the redis store.
func WithRedisStoreLogger(logger observability.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore creates a new redis-backed key store. Store calls are
// wrapped in a circuit breaker so a persistent redis outage fails fast
// instead of stacking up timed-out lookups.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, opts ...RedisStoreOption) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "keygate:"
	}

	s := &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "apikey-redis",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("key store circuit breaker state change",
				observability.String("breaker", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return s
}

// redisKey returns the redis key for a credential digest.
func (s *RedisStore) redisKey(digest string) string {
	return s.keyPrefix + "key:" + digest
}

// FindByCredential returns the record for the raw credential.
func (s *RedisStore) FindByCredential(ctx context.Context, raw string) (*KeyRecord, error) {
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "apikey.FindByCredential",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("store.backend", "redis")),
	)
	defer span.End()

	digest := DigestCredential(raw)

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.HGetAll(ctx, s.redisKey(digest)).Result()
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("key lookup failed: %w", err)
	}

	fields, ok := result.(map[string]string)
	if !ok || len(fields) == 0 {
		span.SetAttributes(attribute.Bool("store.found", false))
		return nil, ErrKeyNotFound
	}

	record, err := recordFromFields(fields)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, fmt.Errorf("corrupt key record: %w", err)
	}

	span.SetAttributes(attribute.Bool("store.found", true))
	return record, nil
}

// IncrementUsage atomically increments the record's usage counter and
// stamps the last-used time in a single pipelined round trip.
func (s *RedisStore) IncrementUsage(ctx context.Context, raw string) error {
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "apikey.IncrementUsage",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("store.backend", "redis")),
	)
	defer span.End()

	digest := DigestCredential(raw)
	key := s.redisKey(digest)

	_, err := s.breaker.Execute(func() (interface{}, error) {
		pipe := s.client.Pipeline()
		pipe.HIncrBy(ctx, key, fieldUsageCount, 1)
		pipe.HSet(ctx, key, fieldLastUsedAt, time.Now().UTC().Format(time.RFC3339Nano))
		_, pipeErr := pipe.Exec(ctx)
		return nil, pipeErr
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return fmt.Errorf("usage increment failed: %w", err)
	}

	return nil
}

// Save writes a record for a raw credential. Used by provisioning
// tooling and tests; the gateway itself never creates records.
func (s *RedisStore) Save(ctx context.Context, raw string, record *KeyRecord) error {
	fields := map[string]interface{}{
		fieldProjectID:   record.ProjectID,
		fieldClass:       string(record.Class),
		fieldStatus:      string(record.Status),
		fieldIPAllowlist: strings.Join(record.IPAllowlist, ","),
		fieldPermissions: strings.Join(record.Permissions, ","),
		fieldUsageCount:  record.UsageCount,
	}
	if record.ExpiresAt != nil {
		fields[fieldExpiresAt] = record.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	return s.client.HSet(ctx, s.redisKey(DigestCredential(raw)), fields).Err()
}

// recordFromFields decodes a redis hash into a KeyRecord.
func recordFromFields(fields map[string]string) (*KeyRecord, error) {
	record := &KeyRecord{
		ProjectID: fields[fieldProjectID],
		Class:     KeyClass(fields[fieldClass]),
		Status:    Status(fields[fieldStatus]),
	}

	if record.ProjectID == "" {
		return nil, errors.New("missing project_id")
	}

	if v := fields[fieldExpiresAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid expires_at: %w", err)
		}
		record.ExpiresAt = &t
	}

	if v := fields[fieldIPAllowlist]; v != "" {
		record.IPAllowlist = strings.Split(v, ",")
	}
	if v := fields[fieldPermissions]; v != "" {
		record.Permissions = strings.Split(v, ",")
	}

	if v := fields[fieldUsageCount]; v != "" {
		count, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid usage_count: %w", err)
		}
		record.UsageCount = count
	}

	if v := fields[fieldLastUsedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			record.LastUsedAt = t
		}
	}

	return record, nil
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
