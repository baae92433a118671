package standards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/calcflow/pkg/expr"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/redis/go-redis/v9"
)

// ExternalResolver resolves external_lookup coefficients. ok is false when
// the source has no value for the parameters.
type ExternalResolver interface {
	Resolve(ctx context.Context, coefficient *models.StandardCoefficient, params map[string]any) (value float64, ok bool, err error)
}

// hashReader is the part of a redis client the resolver needs.
type hashReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// RedisResolver reads external coefficients from redis hashes. An external
// reference "hash" reads field FormatKey(params.key) of that hash; a
// reference "hash#field" pins the field.
type RedisResolver struct {
	client hashReader
	logger *slog.Logger
}

func NewRedisResolver(logger *slog.Logger, client hashReader) *RedisResolver {
	return &RedisResolver{client: client, logger: logger.With("module", "redis_resolver")}
}

// DialRedisResolver connects to the redis server at url (redis://...) and
// verifies it answers.
func DialRedisResolver(ctx context.Context, logger *slog.Logger, url string) (*RedisResolver, func() error, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewRedisResolver(logger, client), client.Close, nil
}

func (r *RedisResolver) Resolve(ctx context.Context, coefficient *models.StandardCoefficient, params map[string]any) (float64, bool, error) {
	key, field, pinned := strings.Cut(coefficient.ExternalRef, "#")
	if key == "" {
		return 0, false, fmt.Errorf("coefficient %s has no external reference", coefficient.Name)
	}

	if !pinned {
		lookupKey, ok := expr.ToFloat(params[KeyParam])
		if !ok {
			return 0, false, nil
		}

		field = models.FormatKey(lookupKey)
	}

	raw, err := r.client.HGet(ctx, key, field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("failed to read %s[%s]: %w", key, field, err)
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false, fmt.Errorf("value of %s[%s] is not a number: %w", key, field, err)
	}

	r.logger.DebugContext(ctx, "resolved external coefficient", "hash", key, "field", field, "value", value)

	return value, true, nil
}
