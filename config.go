package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/gamma-omg/pdf-qa/chunker"
	"github.com/gamma-omg/pdf-qa/docstore"
	"github.com/gamma-omg/pdf-qa/embedding"
	"github.com/gamma-omg/pdf-qa/rag"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreChroma   = "chroma"
	StorePostgres = "postgres"
)

type Config struct {
	LogFile            string `yaml:"log"`
	Collection         string `yaml:"collection"`
	Provider           string `yaml:"provider"`
	Store              string `yaml:"store"`
	ChunkSize          int    `yaml:"chunk_size"`
	ChunkOverlap       int    `yaml:"chunk_overlap"`
	Results            int    `yaml:"results"`
	MaxContextChars    int    `yaml:"max_context_chars"`
	HistoryTurns       int    `yaml:"history_turns"`
	QueryPolicy        string `yaml:"query_policy"`
	Refusal            string `yaml:"refusal"`
	BatchSize          int    `yaml:"batch_size"`
	Workers            int    `yaml:"workers"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
	ServerAddr         string `yaml:"server_addr"`
	DocRoot            string `yaml:"doc_root"`
	MergeEventsMs      int    `yaml:"write_debounce_ms"`
	OpenAI             struct {
		ApiKey         string `yaml:"api_key"`
		EmbeddingModel string `yaml:"embedding_model"`
		ChatModel      string `yaml:"chat_model"`
		BaseURL        string `yaml:"base_url"`
	} `yaml:"open_ai"`
	Gemini struct {
		ApiKey         string `yaml:"api_key"`
		EmbeddingModel string `yaml:"embedding_model"`
		ChatModel      string `yaml:"chat_model"`
	} `yaml:"gemini"`
	Chroma struct {
		Addr string `yaml:"addr"`
	} `yaml:"chroma"`
	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"postgres"`
}

func defaultConfig() *Config {
	cfg := &Config{
		Collection:         docstore.DefaultCollection,
		Provider:           embedding.ProviderOpenAI,
		Store:              StorePostgres,
		ChunkSize:          1000,
		ChunkOverlap:       150,
		Results:            10,
		MaxContextChars:    12000,
		HistoryTurns:       6,
		QueryPolicy:        string(rag.PolicyCondensed),
		BatchSize:          64,
		Workers:            4,
		RequestTimeoutSecs: 60,
		ServerAddr:         "localhost:8080",
		DocRoot:            "docs",
		MergeEventsMs:      500,
	}
	cfg.Chroma.Addr = "http://localhost:8000"
	cfg.Postgres.Host = "localhost"
	cfg.Postgres.Port = 5432
	cfg.Postgres.Database = "vectordb"
	cfg.Postgres.User = "postgres"
	cfg.Postgres.Password = "postgres"
	cfg.Postgres.SSLMode = "disable"

	return cfg
}

// readConfig layers the yaml file over the defaults, then the environment over
// both. A missing file is not an error.
func readConfig(cfgPath string) (*Config, error) {
	cfg := defaultConfig()

	cfgFile, err := os.Open(cfgPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("unable to open config file: %w", err)
	default:
		defer cfgFile.Close()

		dec := yaml.NewDecoder(cfgFile)
		if err = dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("unable to parse config file: %w", err)
		}
	}

	if err = cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.OpenAI.ApiKey, "OPENAI_API_KEY")
	set(&c.Gemini.ApiKey, "GOOGLE_API_KEY")
	set(&c.Chroma.Addr, "CHROMA_ADDR")
	set(&c.Postgres.Host, "POSTGRES_HOST")
	set(&c.Postgres.Database, "POSTGRES_DB")
	set(&c.Postgres.User, "POSTGRES_USER")
	set(&c.Postgres.Password, "POSTGRES_PASSWORD")

	if v := getenv("POSTGRES_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid POSTGRES_PORT %q: %w", v, err)
		}
		c.Postgres.Port = port
	}

	if v := getenv("USE_GEMINI"); v != "" {
		useGemini, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid USE_GEMINI %q: %w", v, err)
		}
		if useGemini {
			c.Provider = embedding.ProviderGemini
		}
	}

	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if _, err := chunker.New(c.ChunkSize, c.ChunkOverlap); err != nil {
		errs = append(errs, err)
	}
	if c.Results <= 0 {
		errs = append(errs, fmt.Errorf("results must be positive, got %d", c.Results))
	}
	if c.Collection == "" {
		errs = append(errs, errors.New("collection must not be empty"))
	}
	if _, err := rag.ParsePolicy(c.QueryPolicy); err != nil {
		errs = append(errs, err)
	}

	switch c.Provider {
	case embedding.ProviderOpenAI:
		if c.OpenAI.ApiKey == "" {
			errs = append(errs, errors.New("open_ai.api_key or OPENAI_API_KEY is required"))
		}
	case embedding.ProviderGemini:
		if c.Gemini.ApiKey == "" {
			errs = append(errs, errors.New("gemini.api_key or GOOGLE_API_KEY is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	switch c.Store {
	case StoreMemory, StoreChroma, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:     "/" + c.Postgres.Database,
		RawQuery: url.Values{"sslmode": []string{c.Postgres.SSLMode}}.Encode(),
	}
	return u.String()
}
