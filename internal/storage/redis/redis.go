package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stock_notifier/internal/models"
	"stock_notifier/internal/storage"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockRetryInterval = 100 * time.Millisecond

// unlockScript deletes the key only while it still holds our token, so an
// expired lease taken over by another run is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript продлевает лок, пока он держит наш токен.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var ErrLockLost = errors.New("run lock lost before release")

type RedisRepo struct {
	client *redis.Client

	LockKey   string
	LockTTL   time.Duration
	ReportKey string
	ReportTTL time.Duration
}

type Options struct {
	Addr      string
	Password  string
	DB        int
	LockKey   string
	LockTTL   time.Duration
	ReportKey string
	ReportTTL time.Duration
}

func New(ctx context.Context, opts Options) (*RedisRepo, error) {
	const op = "storage.redis.New"

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisRepo{
		client:    rdb,
		LockKey:   opts.LockKey,
		LockTTL:   opts.LockTTL,
		ReportKey: opts.ReportKey,
		ReportTTL: opts.ReportTTL,
	}, nil
}

// * TryLock пытается взять лок запуска в течение wait.
// * ok == false, если лок всё это время держал другой запуск.
// * Пока лок взят, он продлевается каждые LockTTL/3; release останавливает продление и снимает лок.
func (r *RedisRepo) TryLock(ctx context.Context, wait time.Duration) (release func() error, ok bool, err error) {
	const op = "storage.redis.TryLock"

	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		acquired, err := r.client.SetNX(ctx, r.LockKey, token, r.LockTTL).Result()
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
		if acquired {
			return r.hold(token), true, nil
		}

		if !time.Now().Add(lockRetryInterval).Before(deadline) {
			return nil, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

func (r *RedisRepo) hold(token string) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lost := make(chan error, 1)

	go func() {
		defer close(done)
		if r.LockTTL <= 0 {
			return
		}

		ticker := time.NewTicker(r.LockTTL / 3)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				extended, err := extendScript.Run(ctx, r.client, []string{r.LockKey}, token, r.LockTTL.Milliseconds()).Int()
				if ctx.Err() != nil {
					return
				}
				if err == nil && extended == 0 {
					lost <- ErrLockLost
					return
				}
				// Transient errors retry on the next tick while the TTL still holds.
			}
		}
	}()

	return func() error {
		cancel()
		<-done

		select {
		case err := <-lost:
			return fmt.Errorf("storage.redis.release: %w", err)
		default:
		}
		return r.unlock(token)
	}
}

func (r *RedisRepo) unlock(token string) error {
	const op = "storage.redis.unlock"

	// The run context may already be cancelled, release must still happen.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deleted, err := unlockScript.Run(ctx, r.client, []string{r.LockKey}, token).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if deleted == 0 {
		return fmt.Errorf("%s: %w", op, ErrLockLost)
	}

	return nil
}

// * SaveReport кэширует отчёт последнего запуска.
func (r *RedisRepo) SaveReport(ctx context.Context, report models.RunReport) error {
	const op = "storage.redis.SaveReport"

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.client.Set(
		ctx,
		r.ReportKey,
		data,
		r.ReportTTL,
	).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * Report возвращает отчёт последнего запуска.
func (r *RedisRepo) Report(ctx context.Context) (models.RunReport, error) {
	const op = "storage.redis.Report"

	var report models.RunReport

	data, err := r.client.Get(ctx, r.ReportKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return report, storage.ErrReportNotFound
		}
		return report, fmt.Errorf("%s: %w", op, err)
	}

	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}

	return report, nil
}

// Close закрывает соединение с базой данных.
func (r *RedisRepo) Close() {
	r.client.Close()
}
