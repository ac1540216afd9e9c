package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
)

const TargetColumn = "monthly_expense"

// Dataset holds one observation per row: the feature columns and the observed expense.
type Dataset struct {
	Features [][]float64
	Targets  []float64
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Targets)
}

func (d *Dataset) append(features []float64, target float64) {
	d.Features = append(d.Features, features)
	d.Targets = append(d.Targets, target)
}

// SyntheticConfig drives GenerateSynthetic. Zero values fall back to defaults.
type SyntheticConfig struct {
	Samples  int
	Seed     int64
	Seasonal bool
}

const (
	DefaultSamples = 1000
	DefaultSeed    = 42
)

type normalParams struct {
	mean, std float64
}

var (
	syntheticFeatures = []normalParams{
		{1200, 250},
		{1100, 250},
		{1300, 250},
		{500, 150},
	}
	syntheticWeights = []float64{0.35, 0.30, 0.45, 1.10}
	syntheticNoise   = 100.0
)

// GenerateSynthetic draws a reproducible dataset: each feature is an independent normal,
// the target a fixed linear combination plus normal noise, all clipped to non-negative.
func GenerateSynthetic(config SyntheticConfig) *Dataset {
	if config.Samples <= 0 {
		config.Samples = DefaultSamples
	}
	rng := rand.New(rand.NewSource(config.Seed))

	dataset := &Dataset{
		Features: make([][]float64, 0, config.Samples),
		Targets:  make([]float64, 0, config.Samples),
	}
	for i := 0; i < config.Samples; i++ {
		row := make([]float64, len(syntheticFeatures))
		for j, p := range syntheticFeatures {
			row[j] = nonNegative(p.mean + p.std*rng.NormFloat64())
		}

		target := 0.0
		for j, w := range syntheticWeights {
			target += w * row[j]
		}
		if config.Seasonal {
			month := rng.Intn(12) + 1
			target *= 1 + 0.1*math.Sin(2*math.Pi*float64(month)/12)
		}
		target += syntheticNoise * rng.NormFloat64()
		dataset.append(row, nonNegative(target))
	}
	return dataset
}

// ReadCSV parses a dataset whose header names every feature column and the target column.
// Column order in the file is free; rows are returned in feature order.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	columns := append(FeatureNames(), TargetColumn)
	positions := make([]int, len(columns))
	for i, name := range columns {
		pos, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		positions[i] = pos
	}

	dataset := &Dataset{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		values := make([]float64, len(columns))
		for i, pos := range positions {
			value, err := strconv.ParseFloat(strings.TrimSpace(record[pos]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, columns[i], err)
			}
			if !isFinite(value) {
				return nil, fmt.Errorf("line %d column %s: value is not finite", line, columns[i])
			}
			values[i] = value
		}
		dataset.append(values[:FeatureCount], values[FeatureCount])
	}
	if dataset.Len() == 0 {
		return nil, errors.New("dataset has no rows")
	}
	return dataset, nil
}

func LoadCSV(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadCSV(file)
}

func nonNegative(value float64) float64 {
	if value < 0 {
		return 0
	}
	return value
}
