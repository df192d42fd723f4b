/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"vault-ledger-go/internal/models"
)

func Load() (*models.Config, error) {
	durations := map[string]time.Duration{
		"DB_CONN_MAX_LIFETIME":      5 * time.Minute,
		"DB_CONN_MAX_IDLE_TIME":     30 * time.Second,
		"DB_PING_TIMEOUT":           5 * time.Second,
		"DB_BUSY_TIMEOUT":           5 * time.Second,
		"RPC_TIMEOUT":               10 * time.Second,
		"FINALITY_POLL_INTERVAL":    2 * time.Second,
		"FINALITY_MAX_WAIT":         60 * time.Second,
		"FINALITY_SLOT_DURATION":    400 * time.Millisecond,
		"FINALITY_PROMOTE_INTERVAL": 10 * time.Second,
		"REORG_INTERVAL":            30 * time.Second,
		"REORG_LOCK_TTL":            2 * time.Minute,
		"RECONCILIATION_INTERVAL":   5 * time.Minute,
		"ALERT_WEBHOOK_TIMEOUT":     5 * time.Second,
		"KAFKA_RETRY_DELAY":         2 * time.Second,
	}
	d := make(map[string]time.Duration, len(durations))
	for key, defaultValue := range durations {
		value, err := getEnvDuration(key, defaultValue)
		if err != nil {
			return nil, err
		}
		d[key] = value
	}

	requiredConfirmations, err := getEnvUint("FINALITY_REQUIRED_CONFIRMATIONS", 32)
	if err != nil {
		return nil, err
	}
	dropAfterSlots, err := getEnvUint("FINALITY_DROP_AFTER_SLOTS", 150)
	if err != nil {
		return nil, err
	}
	windowSlots, err := getEnvUint("REORG_WINDOW_SLOTS", 100)
	if err != nil {
		return nil, err
	}
	requestsPerSecond, err := getEnvFloat("RPC_REQUESTS_PER_SECOND", 20)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		LogLevel: getEnvString("LOG_LEVEL", "info"),
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "ledger.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: d["DB_CONN_MAX_LIFETIME"],
			ConnMaxIdleTime: d["DB_CONN_MAX_IDLE_TIME"],
			PingTimeout:     d["DB_PING_TIMEOUT"],
			BusyTimeout:     d["DB_BUSY_TIMEOUT"],
		},
		Rpc: models.RpcConfig{
			Url:               getEnvString("RPC_URL", ""),
			Timeout:           d["RPC_TIMEOUT"],
			RequestsPerSecond: requestsPerSecond,
			Burst:             getEnvInt("RPC_BURST", 5),
		},
		Finality: models.FinalityConfig{
			RequiredConfirmations: requiredConfirmations,
			PollInterval:          d["FINALITY_POLL_INTERVAL"],
			MaxWait:               d["FINALITY_MAX_WAIT"],
			SlotDuration:          d["FINALITY_SLOT_DURATION"],
			PromoteInterval:       d["FINALITY_PROMOTE_INTERVAL"],
			DropAfterSlots:        dropAfterSlots,
		},
		Reorg: models.ReorgConfig{
			Interval:    d["REORG_INTERVAL"],
			WindowSlots: windowSlots,
			Concurrency: getEnvInt("REORG_CONCURRENCY", 8),
			LockTtl:     d["REORG_LOCK_TTL"],
		},
		Reconciliation: models.ReconciliationConfig{
			Interval:         d["RECONCILIATION_INTERVAL"],
			FreezeOnMismatch: getEnvBool("RECONCILIATION_FREEZE_ON_MISMATCH", true),
			IncludeFees:      getEnvBool("RECONCILIATION_INCLUDE_FEES", false),
			VaultsFile:       getEnvString("VAULTS_FILE", "vaults.yaml"),
		},
		Alert: models.AlertConfig{
			WebhookUrl:     getEnvString("ALERT_WEBHOOK_URL", ""),
			WebhookTimeout: d["ALERT_WEBHOOK_TIMEOUT"],
			KafkaTopic:     getEnvString("ALERT_KAFKA_TOPIC", ""),
		},
		Kafka: models.KafkaConfig{
			Brokers:     getEnvString("KAFKA_BROKERS", ""),
			GroupId:     getEnvString("KAFKA_GROUP_ID", "vault-ledger-indexer"),
			EventsTopic: getEnvString("KAFKA_EVENTS_TOPIC", "program-events"),
			RetryDelay:  d["KAFKA_RETRY_DELAY"],
		},
		Redis: models.RedisConfig{
			Addr:     getEnvString("REDIS_ADDR", ""),
			Password: getEnvString("REDIS_PASSWORD", ""),
			Db:       getEnvInt("REDIS_DB", 0),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvUint(key string, defaultValue uint64) (uint64, error) {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid unsigned integer for %s: %q (%w)", key, value, err)
		}
		return n, nil
	}
	return defaultValue, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %q (%w)", key, value, err)
		}
		return f, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
