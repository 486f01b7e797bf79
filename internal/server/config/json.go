package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/timecapsule/internal/flagx"
	"github.com/dmitrijs2005/timecapsule/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. Interval fields use timex.Duration, which accepts both string values
// such as "30s" and integer nanoseconds. After unmarshalling, its fields are
// copied into the runtime Config struct.
type JsonConfig struct {
	DatabaseDSN   string `json:"database_dsn"`
	MasterKeyHex  string `json:"master_key_hex"`
	MasterKeySalt string `json:"master_key_salt"`

	SchedulerInterval  timex.Duration `json:"scheduler_interval"`
	SchedulerBatchSize int            `json:"scheduler_batch_size"`
	SchedulerWorkers   int            `json:"scheduler_workers"`
	MaxAttempts        int            `json:"max_attempts"`
	DispatchURL        string         `json:"dispatch_url"`
	DispatchTimeout    timex.Duration `json:"dispatch_timeout"`
	StaleClaimAfter    timex.Duration `json:"stale_claim_after"`

	StarterCredits int64 `json:"starter_credits"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`
	KafkaGroupID string   `json:"kafka_group_id"`

	MetricsAddr string `json:"metrics_addr"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path is taken from the -c or -config command-line flags; when
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process. Fields
// absent from the file keep their current values, so a partial file never
// zeroes a default.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.MasterKeyHex != "" {
		config.MasterKeyHex = c.MasterKeyHex
	}
	if c.MasterKeySalt != "" {
		config.MasterKeySalt = c.MasterKeySalt
	}
	if c.SchedulerInterval.Duration > 0 {
		config.SchedulerInterval = time.Duration(c.SchedulerInterval.Duration)
	}
	if c.SchedulerBatchSize > 0 {
		config.SchedulerBatchSize = c.SchedulerBatchSize
	}
	if c.SchedulerWorkers > 0 {
		config.SchedulerWorkers = c.SchedulerWorkers
	}
	if c.MaxAttempts > 0 {
		config.MaxAttempts = c.MaxAttempts
	}
	if c.DispatchURL != "" {
		config.DispatchURL = c.DispatchURL
	}
	if c.DispatchTimeout.Duration > 0 {
		config.DispatchTimeout = time.Duration(c.DispatchTimeout.Duration)
	}
	if c.StaleClaimAfter.Duration > 0 {
		config.StaleClaimAfter = time.Duration(c.StaleClaimAfter.Duration)
	}
	if c.StarterCredits != 0 {
		config.StarterCredits = c.StarterCredits
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
	if len(c.KafkaBrokers) > 0 {
		config.KafkaBrokers = c.KafkaBrokers
	}
	if c.KafkaTopic != "" {
		config.KafkaTopic = c.KafkaTopic
	}
	if c.KafkaGroupID != "" {
		config.KafkaGroupID = c.KafkaGroupID
	}
	if c.MetricsAddr != "" {
		config.MetricsAddr = c.MetricsAddr
	}
}
