package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/timecapsule/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-d string   PostgreSQL DSN
//	-k string   hex-encoded master key
//	-i int      scheduler interval, seconds
//	-n int      scheduler claim batch size
//	-w int      scheduler worker count
//	-m int      delivery attempt ceiling
//	-du string  dispatch webhook URL
//	-t int      dispatch timeout, seconds
//	-l int      stale claim threshold, seconds
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-kb string  Kafka brokers, comma-separated
//	-kt string  Kafka payment topic
//	-kg string  Kafka consumer group
//	-ma string  metrics bind address
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integer seconds.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-d", "-k", "-i", "-n", "-w", "-m", "-du", "-t", "-l",
		"-u", "-p", "-b", "-g", "-e", "-kb", "-kt", "-kg", "-ma",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.MasterKeyHex, "k", config.MasterKeyHex, "hex-encoded master key")

	interval := fs.Int("i", int(config.SchedulerInterval.Seconds()), "scheduler interval (in seconds)")
	fs.IntVar(&config.SchedulerBatchSize, "n", config.SchedulerBatchSize, "scheduler claim batch size")
	fs.IntVar(&config.SchedulerWorkers, "w", config.SchedulerWorkers, "scheduler worker count")
	fs.IntVar(&config.MaxAttempts, "m", config.MaxAttempts, "delivery attempt ceiling")
	fs.StringVar(&config.DispatchURL, "du", config.DispatchURL, "dispatch webhook URL")
	dispatchTimeout := fs.Int("t", int(config.DispatchTimeout.Seconds()), "dispatch timeout (in seconds)")
	staleAfter := fs.Int("l", int(config.StaleClaimAfter.Seconds()), "stale claim threshold (in seconds)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	brokers := fs.String("kb", strings.Join(config.KafkaBrokers, ","), "Kafka brokers, comma-separated")
	fs.StringVar(&config.KafkaTopic, "kt", config.KafkaTopic, "Kafka payment topic")
	fs.StringVar(&config.KafkaGroupID, "kg", config.KafkaGroupID, "Kafka consumer group")

	fs.StringVar(&config.MetricsAddr, "ma", config.MetricsAddr, "metrics bind address")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SchedulerInterval = time.Duration(*interval) * time.Second
	config.DispatchTimeout = time.Duration(*dispatchTimeout) * time.Second
	config.StaleClaimAfter = time.Duration(*staleAfter) * time.Second
	if *brokers != "" {
		config.KafkaBrokers = strings.Split(*brokers, ",")
	}
}
