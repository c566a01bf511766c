package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Mode selects between a real model integration and its deterministic stub.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeStub  Mode = "stub"
)

// Weights holds the per-signal fusion weights used by the hybrid retriever.
type Weights struct {
	Semantic float64 `json:"semantic"`
	FTS      float64 `json:"fts"`
	Graph    float64 `json:"graph"`
	Recency  float64 `json:"recency"`
}

// Config carries the runtime options recognized by EchoGarden.
type Config struct {
	WatchPath string `json:"watch_path"`
	DBPath    string `json:"db_path"`

	PollInterval       time.Duration `json:"-"`
	PollIntervalString string        `json:"poll_interval"`

	MaxFileMB      int `json:"max_file_mb"`
	MaxJobAttempts int `json:"max_job_attempts"`
	Workers        int `json:"workers"`

	WhisperMode Mode `json:"whisper_mode"`
	VisionMode  Mode `json:"vision_mode"`

	LLMURL   string `json:"llm_url"`
	LLMModel string `json:"llm_model"`

	VectorEndpoint   string `json:"vector_endpoint"`
	VectorCollection string `json:"vector_collection"`

	CaptureAPIKey string `json:"capture_api_key"`

	FusionWeights Weights `json:"fusion_weights"`
}

// Merge overlays non-zero fields from the override onto the base configuration.
func (c Config) Merge(override Config) Config {
	result := c
	if strings.TrimSpace(override.WatchPath) != "" {
		result.WatchPath = strings.TrimSpace(override.WatchPath)
	}
	if strings.TrimSpace(override.DBPath) != "" {
		result.DBPath = strings.TrimSpace(override.DBPath)
	}
	if override.PollInterval > 0 {
		result.PollInterval = override.PollInterval
	}
	if strings.TrimSpace(override.PollIntervalString) != "" {
		result.PollIntervalString = strings.TrimSpace(override.PollIntervalString)
	}
	if override.MaxFileMB > 0 {
		result.MaxFileMB = override.MaxFileMB
	}
	if override.MaxJobAttempts > 0 {
		result.MaxJobAttempts = override.MaxJobAttempts
	}
	if override.Workers > 0 {
		result.Workers = override.Workers
	}
	if override.WhisperMode != "" {
		result.WhisperMode = override.WhisperMode
	}
	if override.VisionMode != "" {
		result.VisionMode = override.VisionMode
	}
	if strings.TrimSpace(override.LLMURL) != "" {
		result.LLMURL = strings.TrimSpace(override.LLMURL)
	}
	if strings.TrimSpace(override.LLMModel) != "" {
		result.LLMModel = strings.TrimSpace(override.LLMModel)
	}
	if strings.TrimSpace(override.VectorEndpoint) != "" {
		result.VectorEndpoint = strings.TrimSpace(override.VectorEndpoint)
	}
	if strings.TrimSpace(override.VectorCollection) != "" {
		result.VectorCollection = strings.TrimSpace(override.VectorCollection)
	}
	if strings.TrimSpace(override.CaptureAPIKey) != "" {
		result.CaptureAPIKey = strings.TrimSpace(override.CaptureAPIKey)
	}
	if override.FusionWeights != (Weights{}) {
		result.FusionWeights = override.FusionWeights
	}
	return result
}

// Load resolves the configuration from an optional JSON file (EG_CONFIG_FILE)
// overlaid with environment variables, then applies defaults.
func Load() (Config, error) {
	cfg := Config{}
	if path := strings.TrimSpace(os.Getenv("EG_CONFIG_FILE")); path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = cfg.Merge(fileCfg)
	}
	envCfg, err := loadEnv()
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.Merge(envCfg)
	cfg.applyDefaults()
	return cfg, nil
}

// DefaultWeights returns the standard fusion weight set.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.40, FTS: 0.20, Graph: 0.20, Recency: 0.20}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.WatchPath) == "" {
		c.WatchPath = filepath.Join("data", "watch")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = filepath.Join("data", "echogarden.db")
	}
	if c.PollInterval <= 0 {
		if c.PollIntervalString != "" {
			if parsed, err := time.ParseDuration(c.PollIntervalString); err == nil {
				c.PollInterval = parsed
			}
		}
		if c.PollInterval <= 0 {
			c.PollInterval = 2 * time.Second
		}
	}
	if c.MaxFileMB <= 0 {
		c.MaxFileMB = 20
	}
	if c.MaxJobAttempts <= 0 {
		c.MaxJobAttempts = 5
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.WhisperMode == "" {
		c.WhisperMode = ModeStub
	}
	if c.VisionMode == "" {
		c.VisionMode = ModeStub
	}
	if strings.TrimSpace(c.LLMModel) == "" {
		c.LLMModel = "llama3.1"
	}
	if strings.TrimSpace(c.VectorCollection) == "" {
		c.VectorCollection = "echogarden_cards"
	}
	if c.FusionWeights == (Weights{}) {
		c.FusionWeights = DefaultWeights()
	}
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func loadEnv() (Config, error) {
	cfg := Config{}
	cfg.WatchPath = strings.TrimSpace(os.Getenv("EG_WATCH_PATH"))
	cfg.DBPath = strings.TrimSpace(os.Getenv("EG_DB_PATH"))
	if interval := strings.TrimSpace(os.Getenv("EG_POLL_INTERVAL_S")); interval != "" {
		seconds, err := strconv.ParseFloat(interval, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse EG_POLL_INTERVAL_S: %w", err)
		}
		cfg.PollInterval = time.Duration(seconds * float64(time.Second))
	}
	if maxMB := strings.TrimSpace(os.Getenv("EG_MAX_FILE_MB")); maxMB != "" {
		value, err := strconv.Atoi(maxMB)
		if err != nil {
			return Config{}, fmt.Errorf("parse EG_MAX_FILE_MB: %w", err)
		}
		cfg.MaxFileMB = value
	}
	if attempts := strings.TrimSpace(os.Getenv("EG_MAX_JOB_ATTEMPTS")); attempts != "" {
		value, err := strconv.Atoi(attempts)
		if err != nil {
			return Config{}, fmt.Errorf("parse EG_MAX_JOB_ATTEMPTS: %w", err)
		}
		cfg.MaxJobAttempts = value
	}
	if workers := strings.TrimSpace(os.Getenv("EG_WORKERS")); workers != "" {
		value, err := strconv.Atoi(workers)
		if err != nil {
			return Config{}, fmt.Errorf("parse EG_WORKERS: %w", err)
		}
		cfg.Workers = value
	}
	if mode := strings.TrimSpace(os.Getenv("EG_WHISPER_MODE")); mode != "" {
		parsed, err := parseMode(mode)
		if err != nil {
			return Config{}, fmt.Errorf("parse EG_WHISPER_MODE: %w", err)
		}
		cfg.WhisperMode = parsed
	}
	if mode := strings.TrimSpace(os.Getenv("EG_VISION_MODE")); mode != "" {
		parsed, err := parseMode(mode)
		if err != nil {
			return Config{}, fmt.Errorf("parse EG_VISION_MODE: %w", err)
		}
		cfg.VisionMode = parsed
	}
	cfg.LLMURL = strings.TrimSpace(os.Getenv("EG_LLM_URL"))
	cfg.LLMModel = strings.TrimSpace(os.Getenv("EG_LLM_MODEL"))
	cfg.VectorEndpoint = strings.TrimSpace(os.Getenv("EG_VECTOR_ENDPOINT"))
	cfg.VectorCollection = strings.TrimSpace(os.Getenv("EG_VECTOR_COLLECTION"))
	cfg.CaptureAPIKey = strings.TrimSpace(os.Getenv("EG_CAPTURE_API_KEY"))
	if weights := strings.TrimSpace(os.Getenv("EG_FUSION_WEIGHTS")); weights != "" {
		parsed, err := ParseWeights(weights)
		if err != nil {
			return Config{}, fmt.Errorf("parse EG_FUSION_WEIGHTS: %w", err)
		}
		cfg.FusionWeights = parsed
	}
	return cfg, nil
}

func parseMode(value string) (Mode, error) {
	switch strings.ToLower(value) {
	case "local":
		return ModeLocal, nil
	case "stub":
		return ModeStub, nil
	}
	return "", fmt.Errorf("unknown mode %q (want local or stub)", value)
}

// ParseWeights parses "semantic=0.4,fts=0.2,graph=0.2,recency=0.2".
// Signals not named keep their default weight.
func ParseWeights(value string) (Weights, error) {
	weights := DefaultWeights()
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, raw, ok := strings.Cut(part, "=")
		if !ok {
			return Weights{}, fmt.Errorf("malformed weight %q", part)
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Weights{}, fmt.Errorf("weight %q: %w", part, err)
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "semantic":
			weights.Semantic = weight
		case "fts":
			weights.FTS = weight
		case "graph":
			weights.Graph = weight
		case "recency":
			weights.Recency = weight
		default:
			return Weights{}, fmt.Errorf("unknown signal %q", name)
		}
	}
	return weights, nil
}
