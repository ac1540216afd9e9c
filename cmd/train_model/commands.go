package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finpredict/config"
	"finpredict/db"
	"finpredict/logging"
	"finpredict/ml"
	"finpredict/pipeline"
)

type trainOptions struct {
	configPath string
	dataPath   string
	samples    int
	seed       int64
	estimator  string
	maxDepth   int
	minLeaf    int
	testRatio  float64
	seasonal   bool
	modelPath  string
	dbPath     string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &trainOptions{}
	cmd := &cobra.Command{
		Use:   "train_model",
		Short: "Train the monthly expense model and write its artifact",
		Long: "Fits an estimator on a CSV dataset, or on synthetic data when no dataset is given,\n" +
			"evaluates it on a held-out partition and writes the model artifact.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "config.yaml", "YAML or TOML config file")
	flags.StringVar(&opts.dataPath, "data", "", "CSV dataset; synthetic data is generated when empty")
	flags.IntVar(&opts.samples, "samples", ml.DefaultSamples, "number of synthetic samples")
	flags.Int64Var(&opts.seed, "seed", ml.DefaultSeed, "seed for synthetic data and the split")
	flags.StringVar(&opts.estimator, "estimator", ml.LinearEstimatorType, "estimator type: linear or tree")
	flags.IntVar(&opts.maxDepth, "max-depth", 8, "maximum depth of the tree estimator")
	flags.IntVar(&opts.minLeaf, "min-leaf", 5, "minimum samples per leaf of the tree estimator")
	flags.Float64Var(&opts.testRatio, "test-ratio", ml.DefaultTestRatio, "share of samples held out for evaluation")
	flags.BoolVar(&opts.seasonal, "seasonal", false, "apply the seasonal factor to synthetic targets")
	flags.StringVar(&opts.modelPath, "model-path", "", "artifact output path (defaults to model.path from config)")
	flags.StringVar(&opts.dbPath, "db", "", "SQLite database for the training log")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newHistoryCommand())
	return cmd
}

// resolve merges the config file with explicitly set flags; flags win.
func (o *trainOptions) resolve(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("data") {
		cfg.Training.DataPath = o.dataPath
	}
	if flags.Changed("samples") {
		cfg.Training.Samples = o.samples
	}
	if flags.Changed("seed") {
		cfg.Training.Seed = o.seed
	}
	if flags.Changed("estimator") {
		cfg.Training.Estimator = o.estimator
	}
	if flags.Changed("max-depth") {
		cfg.Training.MaxDepth = o.maxDepth
	}
	if flags.Changed("min-leaf") {
		cfg.Training.MinLeaf = o.minLeaf
	}
	if flags.Changed("test-ratio") {
		cfg.Training.TestRatio = o.testRatio
	}
	if flags.Changed("seasonal") {
		cfg.Training.Seasonal = o.seasonal
	}
	if flags.Changed("model-path") {
		cfg.Model.Path = o.modelPath
	}
	if flags.Changed("db") {
		cfg.Database.Path = o.dbPath
	}
	if cfg.Training.Samples <= 0 {
		return nil, errors.New("samples must be positive")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runTrain(cmd *cobra.Command, opts *trainOptions) error {
	cfg, err := opts.resolve(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log, cfg.Server.Debug || opts.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var dataset *ml.Dataset
	if cfg.Training.DataPath != "" {
		dataset, err = ml.LoadCSV(cfg.Training.DataPath)
		if err != nil {
			return fmt.Errorf("load dataset: %w", err)
		}
		logger.Info("dataset loaded", zap.String("path", cfg.Training.DataPath), zap.Int("rows", dataset.Len()))

		cleaner := pipeline.NewDataCleaner(logger, pipeline.DefaultRules(dataset)...)
		cleaned, issues := cleaner.Clean(dataset)
		for _, issue := range issues {
			logger.Debug("row rejected",
				zap.Int("line", issue.Line),
				zap.String("rule", issue.Rule),
				zap.String("reason", issue.Message))
		}
		if cleaned.Len() == 0 {
			return errors.New("no usable rows left after cleaning")
		}
		printCleaning(cmd.OutOrStdout(), cleaner.GetStats())
		dataset = cleaned
	}

	trainer := ml.NewTrainer(trainerConfig(cfg.Training), logger)
	if err := trainer.Train(dataset); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if err := trainer.Save(cfg.Model.Path); err != nil {
		return err
	}

	metrics, err := trainer.Metrics()
	if err != nil {
		return err
	}
	artifact, err := trainer.Artifact()
	if err != nil {
		return err
	}
	estimatorType := artifact.Estimator.Type()

	if cfg.Database.Path != "" {
		if err := recordTraining(cmd.Context(), cfg.Database.Path, estimatorType, cfg.Model.Path, metrics); err != nil {
			return err
		}
		logger.Info("training run recorded", zap.String("db", cfg.Database.Path))
	}

	printReport(cmd.OutOrStdout(), estimatorType, cfg.Model.Path, metrics)
	return nil
}

func trainerConfig(training config.TrainingConfig) ml.TrainerConfig {
	return ml.TrainerConfig{
		Estimator: ml.EstimatorConfig{
			Type:     training.Estimator,
			MaxDepth: training.MaxDepth,
			MinLeaf:  training.MinLeaf,
		},
		Synthetic: ml.SyntheticConfig{
			Samples:  training.Samples,
			Seed:     training.Seed,
			Seasonal: training.Seasonal,
		},
		TestRatio: training.TestRatio,
		SplitSeed: training.Seed,
	}
}

func recordTraining(ctx context.Context, dbPath, estimatorType, modelPath string, metrics ml.Metrics) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := db.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	return store.SaveTrainingLog(ctx, db.TrainingLog{
		Estimator:    estimatorType,
		R2:           metrics[ml.MetricR2],
		RMSE:         metrics[ml.MetricRMSE],
		TrainSamples: int(metrics[ml.MetricTrainSamples]),
		TestSamples:  int(metrics[ml.MetricTestSamples]),
		ArtifactPath: modelPath,
		TrainedAt:    time.Unix(int64(metrics[ml.MetricTrainedAt]), 0),
	})
}

func newHistoryCommand() *cobra.Command {
	var (
		configPath string
		dbPath     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:          "history",
		Short:        "List recorded training runs, newest first",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("db") {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				dbPath = cfg.Database.Path
			}
			if dbPath == "" {
				return errors.New("no database configured; pass --db")
			}

			store, err := db.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()

			runs, err := store.LoadTrainingLog(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "YAML or TOML config file")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database holding the training log")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of runs to list; 0 lists all")
	return cmd
}
