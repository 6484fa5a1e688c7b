// Package redis подключает необязательный Redis.
// Сейчас он нужен только для аренды запуска сверки между процессами.
package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/config"
)

// NewClient создаёт клиента Redis.
// Возвращает nil, если REDIS_ADDR не задан или Redis не отвечает —
// сервис продолжает работу с арендой внутри процесса.
func NewClient(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR не задан, аренда сверки будет локальной")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("Redis недоступен, продолжаем без него")
		rdb.Close()
		return nil
	}

	log.WithField("addr", cfg.RedisAddr).Info("Подключение к Redis установлено")
	return rdb
}
