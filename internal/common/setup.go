package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"vault-ledger-go/internal/alert"
	"vault-ledger-go/internal/api"
	"vault-ledger-go/internal/chain"
	"vault-ledger-go/internal/database"
	"vault-ledger-go/internal/freeze"
	"vault-ledger-go/internal/ledger"
	"vault-ledger-go/internal/lock"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/verification"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const reorgLockKey = "vault-ledger:reorg-detector"

// init loads environment variables from .env file if it exists
func init() {
	// a missing .env is fine; variables may come from the shell or the container
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services holds everything that only needs the database.
type Services struct {
	DbService    *database.Service
	Ledger       *ledger.Service
	Freeze       *freeze.Switch
	Verification *verification.Service
	Api          *api.Service
}

// InitializeLogger installs the global logger. "debug" switches to the console encoder.
func InitializeLogger(level string) (*zap.Logger, func()) {
	var cfg zap.Config
	if strings.EqualFold(level, "debug") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			log.Printf("Unknown LOG_LEVEL %q, using info\n", level)
			parsed = zapcore.InfoLevel
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}

	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	ledgerService := ledger.NewService(dbService)
	freezeSwitch := freeze.NewSwitch(dbService)

	// load the cached flag so IsFrozen is accurate from the start
	if err := freezeSwitch.CheckFrozen(ctx); err != nil {
		zap.L().Warn("System starts frozen", zap.Error(err))
	}

	return &Services{
		DbService:    dbService,
		Ledger:       ledgerService,
		Freeze:       freezeSwitch,
		Verification: verification.NewService(dbService),
		Api:          api.NewService(ledgerService, dbService, freezeSwitch),
	}, nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

// NewChainClient builds the JSON-RPC adapter for the settlement layer.
func NewChainClient(cfg models.RpcConfig) (*chain.RPCClient, error) {
	if cfg.Url == "" {
		return nil, fmt.Errorf("RPC_URL is required")
	}
	return chain.NewRPCClient(cfg)
}

// NewLocker returns a Redis lock when REDIS_ADDR is set, otherwise an in-process one.
func NewLocker(cfg models.Config) lock.Locker {
	if cfg.Redis.Addr == "" {
		zap.L().Info("Using in-process lock for reorg detection")
		return lock.NewLocalLocker()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Db,
	})
	zap.L().Info("Using Redis lock for reorg detection", zap.String("addr", cfg.Redis.Addr))
	return lock.NewRedisLocker(client, reorgLockKey, cfg.Reorg.LockTtl)
}

// NewNotifier fans alerts out to the log and every configured channel.
// The returned cleanup flushes and closes the Kafka producer.
func NewNotifier(cfg models.Config) (alert.Notifier, func(), error) {
	notifiers := alert.Multi{alert.LogNotifier{}}
	cleanup := func() {}

	if cfg.Alert.WebhookUrl != "" {
		notifiers = append(notifiers, alert.NewWebhookNotifier(cfg.Alert.WebhookUrl, cfg.Alert.WebhookTimeout))
	}

	if cfg.Alert.KafkaTopic != "" && cfg.Kafka.Brokers != "" {
		kafkaNotifier, err := alert.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Alert.KafkaTopic)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kafka alert producer: %w", err)
		}
		notifiers = append(notifiers, kafkaNotifier)
		cleanup = kafkaNotifier.Close
	}

	return notifiers, cleanup, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
