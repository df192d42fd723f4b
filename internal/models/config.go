package models

import "time"

// Config represents the application configuration
type Config struct {
	LogLevel       string
	Database       DatabaseConfig
	Rpc            RpcConfig
	Finality       FinalityConfig
	Reorg          ReorgConfig
	Reconciliation ReconciliationConfig
	Alert          AlertConfig
	Kafka          KafkaConfig
	Redis          RedisConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// RpcConfig holds settlement-layer JSON-RPC settings
type RpcConfig struct {
	Url               string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// FinalityConfig holds confirmation-depth tracking settings
type FinalityConfig struct {
	RequiredConfirmations uint64
	PollInterval          time.Duration
	MaxWait               time.Duration
	SlotDuration          time.Duration
	PromoteInterval       time.Duration
	DropAfterSlots        uint64
}

// ReorgConfig holds reorg detector settings
type ReorgConfig struct {
	Interval    time.Duration
	WindowSlots uint64
	Concurrency int
	LockTtl     time.Duration
}

// ReconciliationConfig holds vault reconciliation settings
type ReconciliationConfig struct {
	Interval         time.Duration
	FreezeOnMismatch bool
	IncludeFees      bool
	VaultsFile       string
}

// AlertConfig holds alert channel settings
type AlertConfig struct {
	WebhookUrl     string
	WebhookTimeout time.Duration
	KafkaTopic     string
}

// KafkaConfig holds event intake settings. Empty Brokers disables Kafka.
type KafkaConfig struct {
	Brokers     string
	GroupId     string
	EventsTopic string
	RetryDelay  time.Duration
}

// RedisConfig holds the cross-process lock settings. Empty Addr selects an in-process lock.
type RedisConfig struct {
	Addr     string
	Password string
	Db       int
}

// VaultConfig lists the custodial token accounts holding one asset
type VaultConfig struct {
	TokenMint       string `yaml:"token_mint"`
	Symbol          string `yaml:"symbol"`
	Decimals        int32  `yaml:"decimals"`
	DepositVault    string `yaml:"deposit_vault"`
	MainVault       string `yaml:"main_vault"`
	WithdrawalVault string `yaml:"withdrawal_vault"`
}
