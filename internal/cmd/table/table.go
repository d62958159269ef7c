// Package table parses table server configuration and starts the server.
package table

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/cardtable/internal/platform/cmd"
	"github.com/louisbranch/cardtable/internal/platform/logging"
	server "github.com/louisbranch/cardtable/internal/services/table/app"
)

const (
	envCheckInvariants  = "CARDTABLE_CHECK_INVARIANTS"
	flagCheckInvariants = "check-invariants"
)

// Config holds table command configuration.
type Config struct {
	Env             string        `env:"CARDTABLE_ENV"               envDefault:"production"`
	HTTPAddr        string        `env:"CARDTABLE_HTTP_ADDR"         envDefault:":8090"`
	RulesDir        string        `env:"CARDTABLE_RULES_DIR"`
	MaxActiveGames  int           `env:"CARDTABLE_MAX_ACTIVE_GAMES"  envDefault:"100"`
	FinishedGameTTL time.Duration `env:"CARDTABLE_FINISHED_GAME_TTL" envDefault:"30m"`
	SweepInterval   time.Duration `env:"CARDTABLE_SWEEP_INTERVAL"    envDefault:"1m"`
	// CheckInvariants defaults to on in development environments.
	CheckInvariants bool          `env:"CARDTABLE_CHECK_INVARIANTS"`
	AllowGodView    bool          `env:"CARDTABLE_ALLOW_GOD_VIEW"`
	OriginPatterns  []string      `env:"CARDTABLE_ORIGIN_PATTERNS"   envSeparator:","`

	AIEnabled      bool          `env:"CARDTABLE_AI_ENABLED"        envDefault:"true"`
	AITurnTimeout  time.Duration `env:"CARDTABLE_AI_TURN_TIMEOUT"   envDefault:"20s"`
	AIMinThinkTime time.Duration `env:"CARDTABLE_AI_MIN_THINK_TIME" envDefault:"800ms"`

	LLMBaseURL     string `env:"CARDTABLE_LLM_BASE_URL"    envDefault:"https://api.openai.com/v1"`
	LLMAPIKey      string `env:"CARDTABLE_LLM_API_KEY"`
	LLMModel       string `env:"CARDTABLE_LLM_MODEL"       envDefault:"gpt-4o-mini"`
	LLMTemperature string `env:"CARDTABLE_LLM_TEMPERATURE"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	_, checkSet := os.LookupEnv(envCheckInvariants)

	fs.StringVar(&cfg.Env, "env", cfg.Env, "deployment environment (development enables debug logging)")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "table HTTP listen address")
	fs.StringVar(&cfg.RulesDir, "rules-dir", cfg.RulesDir, "directory of extra Lua rules scripts")
	fs.IntVar(&cfg.MaxActiveGames, "max-games", cfg.MaxActiveGames, "maximum concurrently active games (0 for no limit)")
	fs.BoolVar(&cfg.CheckInvariants, flagCheckInvariants, cfg.CheckInvariants, "verify card conservation after every commit (default on in development)")
	fs.BoolVar(&cfg.AllowGodView, "allow-god-view", cfg.AllowGodView, "allow the unfiltered spectator view")
	fs.BoolVar(&cfg.AIEnabled, "ai", cfg.AIEnabled, "run server-side AI seats")
	fs.DurationVar(&cfg.AITurnTimeout, "ai-turn-timeout", cfg.AITurnTimeout, "time an AI seat may think before a random move is played")
	fs.DurationVar(&cfg.AIMinThinkTime, "ai-min-think-time", cfg.AIMinThinkTime, "minimum duration of an AI turn")
	fs.StringVar(&cfg.LLMBaseURL, "llm-base-url", cfg.LLMBaseURL, "OpenAI-compatible API base URL")
	fs.StringVar(&cfg.LLMModel, "llm-model", cfg.LLMModel, "model used by AI seats")
	fs.StringVar(&cfg.LLMTemperature, "llm-temperature", cfg.LLMTemperature, "sampling temperature (empty for the provider default)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == flagCheckInvariants {
			checkSet = true
		}
	})
	if !checkSet {
		cfg.CheckInvariants = logging.IsDevelopment(cfg.Env)
	}
	if _, err := cfg.temperature(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) temperature() (*float64, error) {
	raw := strings.TrimSpace(c.LLMTemperature)
	if raw == "" {
		return nil, nil
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil || t < 0 || t > 2 {
		return nil, fmt.Errorf("llm temperature must be a number between 0 and 2, got %q", c.LLMTemperature)
	}
	return &t, nil
}

// Run builds the table server and serves until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	temperature, err := cfg.temperature()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTable, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:        cfg.HTTPAddr,
			RulesDir:        cfg.RulesDir,
			MaxActiveGames:  cfg.MaxActiveGames,
			FinishedGameTTL: cfg.FinishedGameTTL,
			SweepInterval:   cfg.SweepInterval,
			CheckInvariants: cfg.CheckInvariants,
			AIEnabled:       cfg.AIEnabled,
			AITurnTimeout:   cfg.AITurnTimeout,
			AIMinThinkTime:  cfg.AIMinThinkTime,
			LLMBaseURL:      cfg.LLMBaseURL,
			LLMAPIKey:       cfg.LLMAPIKey,
			LLMModel:        cfg.LLMModel,
			LLMTemperature:  temperature,
			AllowGodView:    cfg.AllowGodView,
			OriginPatterns:  cfg.OriginPatterns,
		}, logger); err != nil {
			return fmt.Errorf("serve table: %w", err)
		}
		return nil
	})
}
