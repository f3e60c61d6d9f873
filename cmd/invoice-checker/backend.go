package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoice-checker/internal/processing"
	"github.com/zombor/invoice-checker/internal/scanning"
)

// backendFlags are the settings shared by every command that processes
// uploads: where documents and files go and which model reads them
type backendFlags struct {
	dbDriver    *string
	dbPath      *string
	storageType *string
	storagePath *string

	s3Bucket    *string
	s3Region    *string
	s3Prefix    *string
	s3Endpoint  *string
	s3AccessKey *string
	s3SecretKey *string
	s3PathStyle *bool

	extractorType *string
	geminiKey     *string
	geminiModel   *string
	openaiKey     *string
	openaiBaseURL *string
	openaiModel   *string
	ollamaURL     *string
	ollamaModel   *string
	timeout       *time.Duration

	redisAddr     *string
	redisPassword *string
	redisDB       *int
	cacheTTL      *time.Duration

	kafkaBrokers *string
	kafkaTopic   *string
}

func registerBackendFlags(fs *ff.FlagSet) *backendFlags {
	return &backendFlags{
		dbDriver:    fs.StringLong("db-driver", "bolt", "document database: 'bolt' or 'sqlite'"),
		dbPath:      fs.StringLong("db", "invoice-checker.db", "database file path"),
		storageType: fs.StringLong("storage-type", "local", "upload storage: 'local' or 's3'"),
		storagePath: fs.StringLong("storage", "./invoices", "local storage directory path"),

		s3Bucket:    fs.StringLong("s3-bucket", "", "S3 bucket for uploads"),
		s3Region:    fs.StringLong("s3-region", "us-east-1", "S3 region"),
		s3Prefix:    fs.StringLong("s3-prefix", "", "S3 key prefix"),
		s3Endpoint:  fs.StringLong("s3-endpoint", "", "S3 compatible endpoint (e.g. MinIO)"),
		s3AccessKey: fs.StringLong("s3-access-key", "", "S3 access key id (default credential chain if empty)"),
		s3SecretKey: fs.StringLong("s3-secret-key", "", "S3 secret key"),
		s3PathStyle: fs.BoolLong("s3-path-style", "use path style S3 addressing"),

		extractorType: fs.StringLong("extractor", "gemini", "extractor: 'gemini', 'openai' or 'ollama'"),
		geminiKey:     fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:   fs.StringLong("gemini-model", "gemini-2.0-flash", "Google Gemini model name"),
		openaiKey:     fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)"),
		openaiBaseURL: fs.StringLong("openai-base-url", "", "OpenAI compatible API base URL"),
		openaiModel:   fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name"),
		ollamaURL:     fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:   fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)"),
		timeout:       fs.DurationLong("extract-timeout", 60*time.Second, "per request timeout for OpenAI"),

		redisAddr:     fs.StringLong("redis-addr", "", "Redis address for the verdict cache (disabled if empty)"),
		redisPassword: fs.StringLong("redis-password", "", "Redis password"),
		redisDB:       fs.IntLong("redis-db", 0, "Redis database number"),
		cacheTTL:      fs.DurationLong("cache-ttl", 24*time.Hour, "how long cached verdicts live"),

		kafkaBrokers: fs.StringLong("kafka-brokers", "", "comma separated Kafka brokers for verdict events (disabled if empty)"),
		kafkaTopic:   fs.StringLong("kafka-topic", "invoice-verdicts", "Kafka topic for verdict events"),
	}
}

// backend owns everything a Service needs and closes it in reverse order
type backend struct {
	service *processing.Service
	closers []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("Failed to close resource", "error", err)
		}
	}
}

func (f *backendFlags) open(ctx context.Context) (_ *backend, err error) {
	b := &backend{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	slog.Info("Initializing database...", "driver", *f.dbDriver, "path", *f.dbPath)
	var db processing.DB
	switch *f.dbDriver {
	case "bolt":
		db, err = processing.NewBoltDB(*f.dbPath)
	case "sqlite":
		db, err = processing.NewSQLiteDB(*f.dbPath)
	default:
		return nil, fmt.Errorf("invalid db driver %q, valid: bolt or sqlite", *f.dbDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	b.closers = append(b.closers, db.Close)

	extractor, err := f.openExtractor(ctx)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, extractor.Close)

	slog.Info("Initializing storage...", "type", *f.storageType)
	var store processing.Storage
	switch *f.storageType {
	case "local":
		store, err = processing.NewLocalStorage(*f.storagePath)
	case "s3":
		store, err = processing.NewS3Storage(ctx, processing.S3Config{
			Bucket:         *f.s3Bucket,
			Region:         *f.s3Region,
			Prefix:         *f.s3Prefix,
			AccessKeyID:    *f.s3AccessKey,
			SecretKey:      *f.s3SecretKey,
			Endpoint:       *f.s3Endpoint,
			ForcePathStyle: *f.s3PathStyle,
		})
	default:
		return nil, fmt.Errorf("invalid storage type %q, valid: local or s3", *f.storageType)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	var opts []processing.Option
	if *f.redisAddr != "" {
		slog.Info("Enabling verdict cache", "addr", *f.redisAddr, "ttl", *f.cacheTTL)
		cache, err := processing.NewRedisVerdictCache(*f.redisAddr, *f.redisPassword, *f.redisDB, *f.cacheTTL)
		if err != nil {
			return nil, fmt.Errorf("initializing verdict cache: %w", err)
		}
		b.closers = append(b.closers, cache.Close)
		opts = append(opts, processing.WithCache(cache))
	}
	if *f.kafkaBrokers != "" {
		brokers := strings.Split(*f.kafkaBrokers, ",")
		slog.Info("Publishing verdict events", "brokers", brokers, "topic", *f.kafkaTopic)
		publisher, err := processing.NewKafkaPublisher(brokers, *f.kafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("initializing publisher: %w", err)
		}
		b.closers = append(b.closers, publisher.Close)
		opts = append(opts, processing.WithPublisher(publisher))
	}

	b.service = processing.NewService(db, extractor, store, opts...)
	return b, nil
}

func (f *backendFlags) openExtractor(ctx context.Context) (scanning.Extractor, error) {
	switch *f.extractorType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *f.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required, set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini extractor...", "model", *f.geminiModel)
		g, err := scanning.NewGemini(ctx, apiKey, *f.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return g, nil
	case "openai":
		apiKey := *f.openaiKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI extractor...", "model", *f.openaiModel, "base_url", *f.openaiBaseURL)
		o, err := scanning.NewOpenAI(scanning.OpenAIConfig{
			APIKey:  apiKey,
			BaseURL: *f.openaiBaseURL,
			Model:   *f.openaiModel,
			Timeout: *f.timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing openai: %w", err)
		}
		return o, nil
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *f.ollamaURL, "model", *f.ollamaModel)
		return scanning.NewOllama(*f.ollamaURL, *f.ollamaModel), nil
	}
	return nil, fmt.Errorf("invalid extractor %q, valid: gemini, openai or ollama", *f.extractorType)
}
