// Package config loads DashSystem configuration: store connection
// settings, log level, and tunable overrides of the memory model's
// constants (§6.4). Layering follows env-first, optional YAML file
// underneath, the way the teacher's skill loader reaches for
// gopkg.in/yaml.v3 rather than hand-rolling a parser.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/abhisek/dashsystem/internal/memorymodel"
	"github.com/abhisek/dashsystem/internal/persistence"
)

// Tuning holds overridable memory-model constants. Zero values mean "use
// the package default"; ToMemoryModelParams and the OrDefault helpers only
// override a constant when its field is non-zero.
type Tuning struct {
	RecallThreshold      float64 `yaml:"recall_threshold"`
	MasteryThreshold     float64 `yaml:"mastery_threshold"`
	SigmoidBias          float64 `yaml:"sigmoid_bias"`
	LearningRate         float64 `yaml:"learning_rate"`
	WrongDecayFactor     float64 `yaml:"wrong_decay_factor"`
	PrereqBoost          float64 `yaml:"prereq_boost"`
	CascadeSameConcept   float64 `yaml:"cascade_same_concept"`
	CascadeSameTopic     float64 `yaml:"cascade_same_topic"`
	CascadeSameGrade     float64 `yaml:"cascade_same_grade"`
	CascadeLowerGrade    float64 `yaml:"cascade_lower_grade"`
	HistoryCap           int     `yaml:"history_cap"`
	MaxTimesShown        int     `yaml:"max_times_shown"`
	IdealResponseSeconds float64 `yaml:"ideal_response_seconds"`
	SlowResponseSeconds  float64 `yaml:"slow_response_seconds"`
}

// ToMemoryModelParams overlays the non-zero fields of t onto
// memorymodel.Default(), producing the Params an Engine threads through its
// Scheduler and updateengine.Engine via SetParams.
func (t Tuning) ToMemoryModelParams() memorymodel.Params {
	p := memorymodel.Default()
	if t.RecallThreshold != 0 {
		p.RecallThreshold = t.RecallThreshold
	}
	if t.MasteryThreshold != 0 {
		p.MasteryThreshold = t.MasteryThreshold
	}
	if t.SigmoidBias != 0 {
		p.SigmoidBias = t.SigmoidBias
	}
	if t.LearningRate != 0 {
		p.LearningRate = t.LearningRate
	}
	if t.WrongDecayFactor != 0 {
		p.WrongDecayFactor = t.WrongDecayFactor
	}
	if t.PrereqBoost != 0 {
		p.PrereqBoost = t.PrereqBoost
	}
	if t.CascadeSameConcept != 0 {
		p.CascadeSameConcept = t.CascadeSameConcept
	}
	if t.CascadeSameTopic != 0 {
		p.CascadeSameTopic = t.CascadeSameTopic
	}
	if t.CascadeSameGrade != 0 {
		p.CascadeSameGrade = t.CascadeSameGrade
	}
	if t.CascadeLowerGrade != 0 {
		p.CascadeLowerGrade = t.CascadeLowerGrade
	}
	if t.IdealResponseSeconds != 0 {
		p.IdealResponseSeconds = t.IdealResponseSeconds
	}
	if t.SlowResponseSeconds != 0 {
		p.SlowResponseSeconds = t.SlowResponseSeconds
	}
	return p
}

// HistoryCapOrDefault returns t.HistoryCap, or persistence.HistoryCap if
// unset.
func (t Tuning) HistoryCapOrDefault() int {
	if t.HistoryCap != 0 {
		return t.HistoryCap
	}
	return persistence.HistoryCap
}

// MaxTimesShownOrDefault returns t.MaxTimesShown, or persistence.MaxTimesShown
// if unset.
func (t Tuning) MaxTimesShownOrDefault() int {
	if t.MaxTimesShown != 0 {
		return t.MaxTimesShown
	}
	return persistence.MaxTimesShown
}

// Config is the fully-resolved process configuration.
type Config struct {
	MongoURI string `yaml:"mongo_uri"`
	MongoDB  string `yaml:"mongo_db"`
	LogLevel string `yaml:"log_level"`
	Tuning   Tuning `yaml:"tuning"`
}

// Default returns the baseline configuration before env/file layering.
func Default() Config {
	return Config{
		MongoURI: "mongodb://localhost:27017",
		MongoDB:  "dashsystem",
		LogLevel: "info",
	}
}

// Load resolves configuration by layering, in increasing priority:
// package defaults, an optional YAML file at path (skipped silently if it
// doesn't exist), then environment variables (DASH_MONGO_URI,
// DASH_MONGO_DB, DASH_LOG_LEVEL, DASH_TUNING_HISTORY_CAP,
// DASH_TUNING_MAX_TIMES_SHOWN).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// no file; defaults + env stand.
		case err != nil:
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
			}
		}
	}

	if v := os.Getenv("DASH_MONGO_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := os.Getenv("DASH_MONGO_DB"); v != "" {
		cfg.MongoDB = v
	}
	if v := os.Getenv("DASH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.Tuning.HistoryCap = envInt("DASH_TUNING_HISTORY_CAP", cfg.Tuning.HistoryCap)
	cfg.Tuning.MaxTimesShown = envInt("DASH_TUNING_MAX_TIMES_SHOWN", cfg.Tuning.MaxTimesShown)

	return cfg, nil
}

// ParseLogLevel maps the configured log level string to a slog.Level,
// defaulting to Info on an unrecognized value.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// envInt reads an integer environment variable, returning fallback if
// unset or unparsable.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
