package main

import (
	"io"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"finpredict/db"
	"finpredict/ml"
	"finpredict/pipeline"
)

var reportPrinter = message.NewPrinter(language.English)

func printReport(w io.Writer, estimatorType, modelPath string, metrics ml.Metrics) {
	p := reportPrinter
	p.Fprintf(w, "Model trained (%s)\n", estimatorType)
	p.Fprintf(w, "  samples:   %d train / %d test\n",
		int(metrics[ml.MetricTrainSamples]), int(metrics[ml.MetricTestSamples]))
	p.Fprintf(w, "  R²:        %.4f (train %.4f)\n", metrics[ml.MetricR2], metrics[ml.MetricTrainR2])
	p.Fprintf(w, "  RMSE:      %.2f\n", metrics[ml.MetricRMSE])
	if intercept, ok := metrics[ml.MetricIntercept]; ok {
		p.Fprintf(w, "  intercept: %.2f\n", intercept)
	}

	var importances []string
	for _, feature := range ml.FeatureNames() {
		if _, ok := metrics[ml.ImportanceMetric(feature)]; ok {
			importances = append(importances, feature)
		}
	}
	if len(importances) > 0 {
		sort.SliceStable(importances, func(i, j int) bool {
			return metrics[ml.ImportanceMetric(importances[i])] > metrics[ml.ImportanceMetric(importances[j])]
		})
		p.Fprintf(w, "  feature importance:\n")
		for _, feature := range importances {
			p.Fprintf(w, "    %-22s %.4f\n", feature, metrics[ml.ImportanceMetric(feature)])
		}
	}
	p.Fprintf(w, "Saved to %s\n", modelPath)
}

func printHistory(w io.Writer, runs []db.TrainingLog) {
	p := reportPrinter
	if len(runs) == 0 {
		p.Fprintf(w, "no training runs recorded\n")
		return
	}
	p.Fprintf(w, "%-20s  %-8s  %8s  %10s  %9s  %s\n", "trained at", "type", "R²", "RMSE", "samples", "artifact")
	p.Fprintf(w, "%s\n", strings.Repeat("-", 78))
	for _, run := range runs {
		p.Fprintf(w, "%-20s  %-8s  %8.4f  %10.2f  %9d  %s\n",
			run.TrainedAt.UTC().Format(time.DateTime),
			run.Estimator,
			run.R2,
			run.RMSE,
			run.TrainSamples+run.TestSamples,
			run.ArtifactPath)
	}
}

func printCleaning(w io.Writer, stats pipeline.CleaningStats) {
	p := reportPrinter
	p.Fprintf(w, "Dataset cleaned: %d of %d rows kept\n", stats.Passed, stats.TotalProcessed)
	rules := make([]string, 0, len(stats.Issues))
	for rule := range stats.Issues {
		rules = append(rules, rule)
	}
	sort.Strings(rules)
	for _, rule := range rules {
		p.Fprintf(w, "  %-20s %d\n", rule, stats.Issues[rule])
	}
}
