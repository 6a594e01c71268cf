package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const notifyChannel = "storefront_kv"

// Postgres хранит профили в PostgreSQL и рассылает изменения через LISTEN/NOTIFY.
type Postgres struct {
	pool    *pgxpool.Pool
	profile string
	origin  string
	logger  *zap.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres создаёт хранилище и инициализирует схему БД через миграции.
func NewPostgres(dsn, profile, origin string, logger *zap.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{
		pool:    pool,
		profile: profile,
		origin:  origin,
		logger:  logger,
	}

	if err := p.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return p, nil
}

func (p *Postgres) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (p *Postgres) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) && i < len(delays) {
			time.Sleep(delays[i])
			continue
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isQuotaError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.DiskFull ||
		pgErr.Code == pgerrcode.OutOfMemory ||
		pgErr.Code == pgerrcode.ProgramLimitExceeded
}

// Get возвращает значение ключа профиля.
func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE profile = $1 AND key = $2`,
		p.profile, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set записывает значение и уведомляет остальные контексты в одной транзакции.
func (p *Postgres) Set(ctx context.Context, key, value string) error {
	payload, err := p.encode(key, false)
	if err != nil {
		return err
	}

	err = p.withRetry(ctx, func() error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO kv_entries (profile, key, value, origin, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (profile, key) DO UPDATE
			 SET value = EXCLUDED.value, origin = EXCLUDED.origin, updated_at = now()`,
			p.profile, key, value, p.origin,
		)
		if err != nil {
			return fmt.Errorf("upsert entry: %w", err)
		}

		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, payload); err != nil {
			return fmt.Errorf("notify: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		if isQuotaError(err) {
			return fmt.Errorf("set %s: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ и уведомляет остальные контексты, если ключ существовал.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	payload, err := p.encode(key, true)
	if err != nil {
		return err
	}

	err = p.withRetry(ctx, func() error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx,
			`DELETE FROM kv_entries WHERE profile = $1 AND key = $2`,
			p.profile, key,
		)
		if err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}

		if tag.RowsAffected() > 0 {
			if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, payload); err != nil {
				return fmt.Errorf("notify: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Watch занимает отдельное соединение пула под LISTEN и пересылает чужие изменения профиля.
func (p *Postgres) Watch(ctx context.Context) (<-chan Change, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)
		defer func() {
			unlistenCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := conn.Exec(unlistenCtx, "UNLISTEN *"); err != nil {
				conn.Conn().Close(unlistenCtx)
			}
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("wait for notification", zap.Error(err))
				}
				return
			}

			var msg notification
			if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
				p.logger.Warn("skip malformed change notification", zap.Error(err))
				continue
			}
			if msg.Origin == p.origin || msg.Profile != p.profile {
				continue
			}

			select {
			case out <- Change{Key: msg.Key, Deleted: msg.Deleted}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close закрывает пул соединений с БД.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) encode(key string, deleted bool) (string, error) {
	b, err := json.Marshal(notification{
		Profile: p.profile,
		Origin:  p.origin,
		Key:     key,
		Deleted: deleted,
	})
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	return string(b), nil
}
