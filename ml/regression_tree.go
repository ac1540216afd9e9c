package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const TreeEstimatorType = "tree"

const (
	defaultTreeDepth   = 8
	defaultTreeMinLeaf = 5
)

var splitQuantiles = []float64{0.25, 0.5, 0.75}

// RegressionTree is a binary tree stored as a flat node slice; node 0 is the root.
type RegressionTree struct {
	MaxDepth           int        `json:"max_depth"`
	MinLeaf            int        `json:"min_leaf"`
	Width              int        `json:"width"`
	Nodes              []TreeNode `json:"nodes"`
	FeatureImportances []float64  `json:"feature_importances"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	Spread     float64 `json:"spread"`
	Samples    int     `json:"samples"`
	IsLeaf     bool    `json:"is_leaf"`
}

func NewRegressionTree(maxDepth, minLeaf int) *RegressionTree {
	if maxDepth <= 0 {
		maxDepth = defaultTreeDepth
	}
	if minLeaf <= 0 {
		minLeaf = defaultTreeMinLeaf
	}
	return &RegressionTree{MaxDepth: maxDepth, MinLeaf: minLeaf}
}

func (dt *RegressionTree) Type() string {
	return TreeEstimatorType
}

func (dt *RegressionTree) Fit(features [][]float64, targets []float64) error {
	if err := checkTrainingSet(features, targets); err != nil {
		return err
	}
	if dt.MaxDepth <= 0 {
		dt.MaxDepth = defaultTreeDepth
	}
	if dt.MinLeaf <= 0 {
		dt.MinLeaf = defaultTreeMinLeaf
	}

	dt.Width = len(features[0])
	gains := make([]float64, dt.Width)
	dt.Nodes = dt.buildNode(features, targets, 0, 0, gains)
	dt.FeatureImportances = normalizeImportances(gains)
	return nil
}

func (dt *RegressionTree) Predict(features []float64) (float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return 0, err
	}
	return leaf.Value, nil
}

// Confidence shrinks as the spread of the training targets in the reached leaf grows
// relative to the leaf's mean.
func (dt *RegressionTree) Confidence(features []float64) (float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return 0, err
	}
	if leaf.Value <= 0 {
		return 0, nil
	}
	return clamp01(1 - leaf.Spread/leaf.Value), nil
}

func (dt *RegressionTree) Importances() []float64 {
	return append([]float64(nil), dt.FeatureImportances...)
}

func (dt *RegressionTree) leaf(features []float64) (TreeNode, error) {
	if len(dt.Nodes) == 0 {
		return TreeNode{}, ErrModelNotTrained
	}
	if dt.Width > 0 && len(features) != dt.Width {
		return TreeNode{}, fmt.Errorf("regression tree: expected %d features, got %d", dt.Width, len(features))
	}
	idx := 0
	for steps := 0; steps <= len(dt.Nodes); steps++ {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return TreeNode{}, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return TreeNode{}, errors.New("invalid tree state")
		}
	}
	return TreeNode{}, errors.New("invalid tree state: cycle detected")
}

// buildNode returns the subtree rooted at absolute index base, children laid out
// depth-first right after it.
func (dt *RegressionTree) buildNode(features [][]float64, targets []float64, depth, base int, gains []float64) []TreeNode {
	mean, spread := meanStd(targets)
	leaf := []TreeNode{{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      mean,
		Spread:     spread,
		Samples:    len(targets),
		IsLeaf:     true,
	}}
	if depth >= dt.MaxDepth || len(targets) < 2*dt.MinLeaf || spread == 0 {
		return leaf
	}

	bestFeature, threshold, gain, ok := dt.findBestSplit(features, targets)
	if !ok {
		return leaf
	}

	leftFeatures, leftTargets, rightFeatures, rightTargets := splitData(features, targets, bestFeature, threshold)
	gains[bestFeature] += gain

	leftNodes := dt.buildNode(leftFeatures, leftTargets, depth+1, base+1, gains)
	rightNodes := dt.buildNode(rightFeatures, rightTargets, depth+1, base+1+len(leftNodes), gains)

	root := TreeNode{
		FeatureIdx: bestFeature,
		Threshold:  threshold,
		LeftChild:  base + 1,
		RightChild: base + 1 + len(leftNodes),
		Value:      mean,
		Spread:     spread,
		Samples:    len(targets),
		IsLeaf:     false,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, leftNodes...)
	nodes = append(nodes, rightNodes...)
	return nodes
}

// findBestSplit tries quantile thresholds of every feature and keeps the one with the
// largest reduction in squared error.
func (dt *RegressionTree) findBestSplit(features [][]float64, targets []float64) (int, float64, float64, bool) {
	parentSSE := sumSquaredError(targets)
	bestFeature := -1
	bestThreshold := 0.0
	bestGain := 0.0

	for featureIdx := 0; featureIdx < len(features[0]); featureIdx++ {
		values := make([]float64, len(features))
		for i := range features {
			values[i] = features[i][featureIdx]
		}
		sort.Float64s(values)
		for _, q := range splitQuantiles {
			threshold := quantile(values, q)
			left, right := splitTargets(features, targets, featureIdx, threshold)
			if len(left) < dt.MinLeaf || len(right) < dt.MinLeaf {
				continue
			}
			gain := parentSSE - sumSquaredError(left) - sumSquaredError(right)
			if gain > bestGain {
				bestGain = gain
				bestFeature = featureIdx
				bestThreshold = threshold
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, 0, false
	}
	return bestFeature, bestThreshold, bestGain, true
}

func (dt *RegressionTree) validate() error {
	if len(dt.Nodes) == 0 {
		return errors.New("no nodes")
	}
	for i, node := range dt.Nodes {
		if node.IsLeaf {
			continue
		}
		if node.LeftChild <= i || node.RightChild <= i ||
			node.LeftChild >= len(dt.Nodes) || node.RightChild >= len(dt.Nodes) {
			return fmt.Errorf("node %d has invalid children", i)
		}
		if node.FeatureIdx < 0 || (dt.Width > 0 && node.FeatureIdx >= dt.Width) {
			return fmt.Errorf("node %d has invalid feature index", i)
		}
	}
	return nil
}

func splitData(features [][]float64, targets []float64, featureIdx int, threshold float64) ([][]float64, []float64, [][]float64, []float64) {
	leftFeatures := make([][]float64, 0)
	leftTargets := make([]float64, 0)
	rightFeatures := make([][]float64, 0)
	rightTargets := make([]float64, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			leftFeatures = append(leftFeatures, feature)
			leftTargets = append(leftTargets, targets[i])
		} else {
			rightFeatures = append(rightFeatures, feature)
			rightTargets = append(rightTargets, targets[i])
		}
	}
	return leftFeatures, leftTargets, rightFeatures, rightTargets
}

func splitTargets(features [][]float64, targets []float64, featureIdx int, threshold float64) ([]float64, []float64) {
	left := make([]float64, 0)
	right := make([]float64, 0)
	for i, feature := range features {
		if feature[featureIdx] <= threshold {
			left = append(left, targets[i])
		} else {
			right = append(right, targets[i])
		}
	}
	return left, right
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}

func sumSquaredError(values []float64) float64 {
	_, std := meanStd(values)
	return std * std * float64(len(values))
}

// quantile expects sorted input.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func normalizeImportances(gains []float64) []float64 {
	total := 0.0
	for _, g := range gains {
		total += g
	}
	importances := make([]float64, len(gains))
	if total == 0 {
		return importances
	}
	for i, g := range gains {
		importances[i] = g / total
	}
	return importances
}

func clamp01(value float64) float64 {
	switch {
	case math.IsNaN(value), value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}
