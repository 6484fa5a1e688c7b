// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт хранилище, сервисы, обработчики,
// HTTP-сервер и планировщик и собирает всё в один объект App.
package app

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/config"
	"serotonyl.ru/credit-ledger/internal/db/postgres"
	redisdb "serotonyl.ru/credit-ledger/internal/db/redis"
	"serotonyl.ru/credit-ledger/internal/features/ledger"
	"serotonyl.ru/credit-ledger/internal/features/rewards"
	"serotonyl.ru/credit-ledger/internal/jobs"
	"serotonyl.ru/credit-ledger/internal/server"
)

// reconcileLeaseKey — ключ аренды сверки в Redis.
const reconcileLeaseKey = "credit-ledger:reconcile:lease"

// App содержит все компоненты приложения.
type App struct {
	Server    *server.Server
	Scheduler *jobs.Scheduler // nil, если RECONCILE_ENABLED=false
	DB        *pgxpool.Pool   // nil при STORAGE_DRIVER=memory
	Redis     *goredis.Client // nil без Redis
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	// === 1. Хранилище и правила наград ===
	store, rules, err := a.openStorage(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	table, err := rewards.NewRuleTable(rules)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ошибка правил наград: %w", err)
	}
	log.WithField("active", len(table.Active())).Info("Правила наград загружены")

	// === 2. Redis (необязателен) ===
	a.Redis = redisdb.NewClient(ctx, cfg)
	var lease jobs.Lease = jobs.NewLocalLease()
	if a.Redis != nil {
		lease = jobs.NewRedisLease(a.Redis, reconcileLeaseKey)
	}

	// === 3. Сервисы ===
	ledgerService := ledger.NewService(store,
		ledger.WithObserver(ledger.NewAuditLogger(log.StandardLogger())),
		ledger.WithHistoryLimits(cfg.LedgerHistoryDefaultLimit, cfg.LedgerHistoryMaxLimit),
	)
	rewardService := rewards.NewService(ledgerService, table)
	reconciler := jobs.NewReconciler(ledgerService, lease, cfg.ReconcilePageSize, cfg.ReconcileLeaseTTL)

	// === 4. Обработчики и HTTP-сервер ===
	a.Server = server.New(cfg, server.Handlers{
		Ledger:  ledger.NewHandler(ledgerService, cfg.LedgerMaxAmount),
		Rewards: rewards.NewHandler(rewardService),
		Jobs:    jobs.NewHandler(reconciler),
		Health:  ledgerService,
	})

	// === 5. Планировщик задач ===
	if cfg.ReconcileEnabled {
		a.Scheduler = jobs.NewScheduler(reconciler, cfg.ReconcileSchedule, cfg.Location())
	} else {
		log.Info("Сверка по расписанию отключена (RECONCILE_ENABLED=false)")
	}

	return a, nil
}

// openStorage открывает хранилище реестра и читает правила наград.
func (a *App) openStorage(ctx context.Context, cfg *config.Config) (ledger.Store, []rewards.Rule, error) {
	if cfg.StorageDriver == config.StorageMemory {
		log.Warn("STORAGE_DRIVER=memory: данные живут только до перезапуска")
		return ledger.NewMemoryStore(), rewards.DefaultRules(), nil
	}

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	a.DB = pool

	// Запускаем миграции
	if err := runMigrations(ctx, pool); err != nil {
		return nil, nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	ruleRepo := rewards.NewRepository(pool)
	if cfg.RewardsSeedDefaults {
		inserted, err := ruleRepo.SeedDefaults(ctx, rewards.DefaultRules())
		if err != nil {
			return nil, nil, err
		}
		if inserted > 0 {
			log.Infof("Добавлено правил наград по умолчанию: %d", inserted)
		}
	}
	rules, err := ruleRepo.LoadRules(ctx)
	if err != nil {
		return nil, nil, err
	}

	return ledger.NewRepository(pool), rules, nil
}

// runMigrations выполняет все SQL-миграции.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	// Инициализируем систему миграций
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return err
	}

	// Выполняем миграции по порядку
	for _, m := range migrations {
		applied, err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql)
		if err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		if applied {
			log.Infof("Миграция %d применена", m.version)
		}
	}

	return nil
}

// Close закрывает внешние подключения.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия Redis")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
