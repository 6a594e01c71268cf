package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis хранит профиль в Redis и рассылает изменения через канал PUBLISH/SUBSCRIBE профиля.
type Redis struct {
	client  *redis.Client
	profile string
	origin  string
	logger  *zap.Logger
}

var _ Store = (*Redis)(nil)

// NewRedis подключается к Redis по URL и проверяет соединение.
func NewRedis(ctx context.Context, redisURL, profile, origin string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisWithClient(client, profile, origin, logger), nil
}

// NewRedisWithClient создаёт хранилище поверх готового клиента.
func NewRedisWithClient(client *redis.Client, profile, origin string, logger *zap.Logger) *Redis {
	return &Redis{
		client:  client,
		profile: profile,
		origin:  origin,
		logger:  logger,
	}
}

func (r *Redis) key(k string) string {
	return fmt.Sprintf("storefront:%s:kv:%s", r.profile, k)
}

func (r *Redis) channel() string {
	return fmt.Sprintf("storefront:%s:changes", r.profile)
}

// Get возвращает значение ключа.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// Set записывает значение и публикует изменение для остальных контекстов.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	msg, err := r.encode(key, false)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(key), value, 0)
		pipe.Publish(ctx, r.channel(), msg)
		return nil
	})
	if err != nil {
		if isOOM(err) {
			return fmt.Errorf("set %s: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ и публикует изменение, если ключ существовал.
func (r *Redis) Delete(ctx context.Context, key string) error {
	removed, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if removed == 0 {
		return nil
	}

	msg, err := r.encode(key, true)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(), msg).Err(); err != nil {
		return fmt.Errorf("publish delete %s: %w", key, err)
	}
	return nil
}

// Watch подписывается на канал изменений профиля и отбрасывает собственные изменения.
func (r *Redis) Watch(ctx context.Context) (<-chan Change, error) {
	sub := r.client.Subscribe(ctx, r.channel())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel(), err)
	}

	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					r.logger.Warn("skip malformed change notification", zap.Error(err))
					continue
				}
				if n.Origin == r.origin || n.Profile != r.profile {
					continue
				}
				select {
				case out <- Change{Key: n.Key, Deleted: n.Deleted}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close закрывает клиент Redis.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) encode(key string, deleted bool) (string, error) {
	b, err := json.Marshal(notification{
		Profile: r.profile,
		Origin:  r.origin,
		Key:     key,
		Deleted: deleted,
	})
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	return string(b), nil
}

func isOOM(err error) bool {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return strings.HasPrefix(rerr.Error(), "OOM")
	}
	return false
}
