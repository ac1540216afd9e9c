// Package pipeline 训练数据清洗
package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"finpredict/ml"
)

// DefaultOutlierThreshold 异常值阈值（标准差倍数）
const DefaultOutlierThreshold = 5.0

// Row 数据集中的一行
type Row struct {
	Line     int
	Features []float64
	Target   float64
}

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(*Row) error
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Rule    string `json:"rule"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// DataCleaner 数据清洗器；规则按添加顺序执行，任一规则失败则丢弃该行
type DataCleaner struct {
	rules  []CleaningRule
	logger *zap.Logger

	mu    sync.RWMutex
	stats CleaningStats
}

// NewDataCleaner 创建数据清洗器
func NewDataCleaner(logger *zap.Logger, rules ...CleaningRule) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataCleaner{
		rules:  rules,
		logger: logger,
		stats:  CleaningStats{Issues: make(map[string]int64)},
	}
}

// DefaultRules 默认规则：取值范围、重复行、基于dataset统计量的异常值
func DefaultRules(dataset *ml.Dataset) []CleaningRule {
	return []CleaningRule{
		NewRangeValidationRule(),
		NewDuplicateDetectionRule(),
		NewOutlierDetectionRule(dataset, DefaultOutlierThreshold),
	}
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean 清洗数据集，返回保留的行与发现的问题；输入不会被修改
func (dc *DataCleaner) Clean(dataset *ml.Dataset) (*ml.Dataset, []QualityIssue) {
	cleaned := &ml.Dataset{}
	var issues []QualityIssue

	dc.mu.Lock()
	defer dc.mu.Unlock()

	for i := 0; i < dataset.Len(); i++ {
		dc.stats.TotalProcessed++
		// CSV行号：表头占第1行
		row := &Row{Line: i + 2, Features: dataset.Features[i], Target: dataset.Targets[i]}

		var rowIssues []QualityIssue
		for _, rule := range dc.rules {
			if err := rule.Apply(row); err != nil {
				rowIssues = append(rowIssues, QualityIssue{Rule: rule.Name(), Line: row.Line, Message: err.Error()})
				dc.stats.Issues[rule.Name()]++
			}
		}

		if len(rowIssues) > 0 {
			dc.stats.Rejected++
			issues = append(issues, rowIssues...)
			continue
		}
		dc.stats.Passed++
		cleaned.Features = append(cleaned.Features, row.Features)
		cleaned.Targets = append(cleaned.Targets, row.Target)
	}
	dc.stats.LastClean = time.Now()

	if len(issues) > 0 {
		dc.logger.Warn("rows rejected during cleaning",
			zap.Int("kept", cleaned.Len()),
			zap.Int("issues", len(issues)))
	}
	return cleaned, issues
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// ============ 清洗规则实现 ============

// RangeValidationRule 取值范围验证：宽度正确、有限、非负且不超过上限
type RangeValidationRule struct {
	MaxAmount float64
}

func NewRangeValidationRule() *RangeValidationRule {
	return &RangeValidationRule{MaxAmount: 1e7}
}

func (r *RangeValidationRule) Name() string {
	return "range_validation"
}

func (r *RangeValidationRule) Apply(row *Row) error {
	if err := ml.FeatureVector(row.Features).Validate(); err != nil {
		return err
	}
	for i, value := range row.Features {
		if value > r.MaxAmount {
			return fmt.Errorf("%s %.2f exceeds %.2f", ml.FeatureNames()[i], value, r.MaxAmount)
		}
	}
	if math.IsNaN(row.Target) || math.IsInf(row.Target, 0) || row.Target < 0 {
		return fmt.Errorf("%s %v must be a finite non-negative amount", ml.TargetColumn, row.Target)
	}
	if row.Target > r.MaxAmount {
		return fmt.Errorf("%s %.2f exceeds %.2f", ml.TargetColumn, row.Target, r.MaxAmount)
	}
	return nil
}

// DuplicateDetectionRule 重复行检测
type DuplicateDetectionRule struct {
	mu      sync.Mutex
	seenMap map[string]int
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{seenMap: make(map[string]int)}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Apply(row *Row) error {
	key := rowKey(row)

	r.mu.Lock()
	defer r.mu.Unlock()

	if line, exists := r.seenMap[key]; exists {
		return fmt.Errorf("duplicate of line %d", line)
	}
	r.seenMap[key] = row.Line
	return nil
}

func rowKey(row *Row) string {
	parts := make([]string, 0, len(row.Features)+1)
	for _, v := range row.Features {
		parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
	}
	parts = append(parts, strconv.FormatFloat(row.Target, 'g', -1, 64))
	return strings.Join(parts, ",")
}

// OutlierDetectionRule 异常值检测：任一列的z分数超过阈值即拒绝
type OutlierDetectionRule struct {
	StdDevThreshold float64
	means           []float64
	stdDevs         []float64
}

// NewOutlierDetectionRule 根据dataset计算每列（特征列加目标列）的均值和标准差
func NewOutlierDetectionRule(dataset *ml.Dataset, threshold float64) *OutlierDetectionRule {
	if threshold <= 0 {
		threshold = DefaultOutlierThreshold
	}
	rule := &OutlierDetectionRule{StdDevThreshold: threshold}
	n := dataset.Len()
	if n < 2 {
		return rule
	}

	columns := ml.FeatureCount + 1
	rule.means = make([]float64, columns)
	rule.stdDevs = make([]float64, columns)
	values := make([]float64, 0, n)
	for col := 0; col < columns; col++ {
		values = values[:0]
		for i := 0; i < n; i++ {
			value, ok := columnValue(dataset, i, col)
			if ok {
				values = append(values, value)
			}
		}
		if len(values) < 2 {
			continue
		}
		rule.means[col], rule.stdDevs[col] = stat.MeanStdDev(values, nil)
	}
	return rule
}

func columnValue(dataset *ml.Dataset, row, col int) (float64, bool) {
	var value float64
	if col == ml.FeatureCount {
		value = dataset.Targets[row]
	} else {
		if col >= len(dataset.Features[row]) {
			return 0, false
		}
		value = dataset.Features[row][col]
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

func (r *OutlierDetectionRule) Name() string {
	return "outlier_detection"
}

func (r *OutlierDetectionRule) Apply(row *Row) error {
	if r.means == nil {
		return nil
	}
	for col := range r.means {
		if r.stdDevs[col] == 0 || math.IsNaN(r.stdDevs[col]) {
			continue
		}
		var value float64
		name := ml.TargetColumn
		if col == ml.FeatureCount {
			value = row.Target
		} else {
			if col >= len(row.Features) {
				continue
			}
			value = row.Features[col]
			name = ml.FeatureNames()[col]
		}
		z := math.Abs(value-r.means[col]) / r.stdDevs[col]
		if z > r.StdDevThreshold {
			return fmt.Errorf("%s %.2f is %.1f standard deviations from the mean", name, value, z)
		}
	}
	return nil
}
