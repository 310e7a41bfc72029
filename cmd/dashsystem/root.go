package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/dashsystem/internal/config"
	"github.com/abhisek/dashsystem/internal/engine"
	dashmongo "github.com/abhisek/dashsystem/internal/persistence/mongo"
	"github.com/abhisek/dashsystem/internal/skillcache"
)

var rootCmd = &cobra.Command{
	Use:   "dashsystem",
	Short: "Adaptive skill scheduler for the DASH learning engine",
	Long:  "dashsystem — drives next_question/record_attempt/stats against a MongoDB-backed skill cache.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("mongo-uri", "", "MongoDB connection string (overrides DASH_MONGO_URI env var)")
	rootCmd.PersistentFlags().String("mongo-db", "", "MongoDB database name (overrides DASH_MONGO_DB env var)")
	rootCmd.PersistentFlags().String("config", "", "Path to optional YAML config file")

	rootCmd.AddCommand(ensureUserCmd)
	rootCmd.AddCommand(nextQuestionCmd)
	rootCmd.AddCommand(recordAttemptCmd)
	rootCmd.AddCommand(statsCmd)
}

// newEngine resolves config from flags/env/file, connects to MongoDB,
// builds the skill cache, and returns a ready-to-use Engine plus its
// underlying handler (so callers can Close it when done).
func newEngine(cmd *cobra.Command) (*engine.Engine, *dashmongo.Handler, error) {
	ctx := context.Background()

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if v, _ := cmd.Flags().GetString("mongo-uri"); v != "" {
		cfg.MongoURI = v
	}
	if v, _ := cmd.Flags().GetString("mongo-db"); v != "" {
		cfg.MongoDB = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))

	handler, err := dashmongo.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, nil, err
	}

	docs, err := handler.ListSkillDocuments(ctx)
	if err != nil {
		handler.Close(ctx)
		return nil, nil, err
	}
	cache, err := skillcache.BuildFromDocs(docs, logger)
	if err != nil {
		handler.Close(ctx)
		return nil, nil, err
	}

	handler.SetHistoryCap(cfg.Tuning.HistoryCapOrDefault())
	params := cfg.Tuning.ToMemoryModelParams()

	e := engine.New(engine.Options{
		Cache:         cache,
		Adapter:       handler,
		Logger:        logger,
		Params:        &params,
		MaxTimesShown: cfg.Tuning.MaxTimesShownOrDefault(),
	})
	return e, handler, nil
}
