// Package detector provides the unsupervised outlier model used by the
// anomaly service: an isolation forest fit fresh on each batch.
//
// Scores follow the common isolation-based convention: ScoreSamples
// returns values in [-1, 0) where values closer to -1 are more
// anomalous; Predict labels the lowest contamination-quantile of the
// training scores as outliers (-1), everything else as inliers (1).
package detector

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Config holds the ensemble parameters.
type Config struct {
	// Trees is the number of isolation trees in the ensemble.
	Trees int
	// SubsampleSize caps the number of samples used to grow each tree.
	SubsampleSize int
	// Contamination is the expected proportion of outliers in the batch.
	Contamination float64
	// Seed makes scoring reproducible for a fixed input batch.
	Seed int64
}

// DefaultConfig returns the parameters used by the anomaly service.
func DefaultConfig() Config {
	return Config{
		Trees:         100,
		SubsampleSize: 256,
		Contamination: 0.05,
		Seed:          42,
	}
}

type treeNode struct {
	// leaf nodes have left == nil and carry the sample count.
	size         int
	splitFeature int
	splitValue   float64
	left, right  *treeNode
}

// IsolationForest isolates points via random recursive partitioning.
// A forest is single-use: Fit once on a batch, then score that batch
// (or others of the same dimensionality). It holds no state shared
// between instances, so concurrent detection runs each build their own.
type IsolationForest struct {
	cfg        Config
	trees      []*treeNode
	sampleSize int
	features   int
	offset     float64
	fitted     bool
}

// New creates an unfitted forest with the given configuration.
func New(cfg Config) *IsolationForest {
	if cfg.Trees <= 0 {
		cfg.Trees = DefaultConfig().Trees
	}
	if cfg.SubsampleSize <= 0 {
		cfg.SubsampleSize = DefaultConfig().SubsampleSize
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 1 {
		cfg.Contamination = DefaultConfig().Contamination
	}
	return &IsolationForest{cfg: cfg}
}

// Fit grows the ensemble on X and derives the outlier threshold from
// the contamination quantile of the training scores.
func (f *IsolationForest) Fit(X [][]float64) error {
	n := len(X)
	if n == 0 {
		return errors.New("iforest: empty feature matrix")
	}
	d := len(X[0])
	if d == 0 {
		return errors.New("iforest: zero-width feature matrix")
	}
	for i, row := range X {
		if len(row) != d {
			return fmt.Errorf("iforest: ragged feature matrix at row %d", i)
		}
	}

	f.features = d
	f.sampleSize = f.cfg.SubsampleSize
	if n < f.sampleSize {
		f.sampleSize = n
	}
	heightLimit := int(math.Ceil(math.Log2(float64(f.sampleSize))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	rng := rand.New(rand.NewSource(f.cfg.Seed))
	f.trees = make([]*treeNode, f.cfg.Trees)
	for i := range f.trees {
		idx := rng.Perm(n)[:f.sampleSize]
		f.trees[i] = buildTree(X, idx, 0, heightLimit, rng)
	}
	f.fitted = true

	// Threshold at the contamination quantile of the training scores,
	// so roughly that fraction of the batch is labeled outlier.
	scores, err := f.ScoreSamples(X)
	if err != nil {
		return err
	}
	f.offset = quantile(scores, f.cfg.Contamination)
	return nil
}

// ScoreSamples returns the anomaly score for each row of X.
// Lower (more negative) means more anomalous.
func (f *IsolationForest) ScoreSamples(X [][]float64) ([]float64, error) {
	if !f.fitted {
		return nil, errors.New("iforest: not fitted")
	}
	norm := avgPathLength(f.sampleSize)
	scores := make([]float64, len(X))
	for i, x := range X {
		if len(x) != f.features {
			return nil, fmt.Errorf("iforest: sample %d has %d features, expected %d", i, len(x), f.features)
		}
		var total float64
		for _, t := range f.trees {
			total += pathLength(t, x, 0)
		}
		mean := total / float64(len(f.trees))
		scores[i] = -math.Pow(2, -mean/norm)
	}
	return scores, nil
}

// Predict returns -1 for outliers and 1 for inliers.
func (f *IsolationForest) Predict(X [][]float64) ([]int, error) {
	scores, err := f.ScoreSamples(X)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(scores))
	for i, s := range scores {
		if s < f.offset {
			labels[i] = -1
		} else {
			labels[i] = 1
		}
	}
	return labels, nil
}

// FitPredict fits on X and returns labels and scores for X in one pass.
func (f *IsolationForest) FitPredict(X [][]float64) ([]int, []float64, error) {
	if err := f.Fit(X); err != nil {
		return nil, nil, err
	}
	scores, err := f.ScoreSamples(X)
	if err != nil {
		return nil, nil, err
	}
	labels, err := f.Predict(X)
	if err != nil {
		return nil, nil, err
	}
	return labels, scores, nil
}

func buildTree(X [][]float64, idx []int, depth, limit int, rng *rand.Rand) *treeNode {
	if depth >= limit || len(idx) <= 1 {
		return &treeNode{size: len(idx)}
	}

	// Pick a random feature that still varies within this partition.
	// If every feature is constant the points are indistinguishable.
	candidates := rng.Perm(len(X[idx[0]]))
	feature := -1
	var lo, hi float64
	for _, q := range candidates {
		lo, hi = X[idx[0]][q], X[idx[0]][q]
		for _, i := range idx[1:] {
			v := X[i][q]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			feature = q
			break
		}
	}
	if feature < 0 {
		return &treeNode{size: len(idx)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var leftIdx, rightIdx []int
	for _, i := range idx {
		if X[i][feature] < split {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}
	if len(leftIdx) == 0 || len(rightIdx) == 0 {
		return &treeNode{size: len(idx)}
	}

	return &treeNode{
		size:         len(idx),
		splitFeature: feature,
		splitValue:   split,
		left:         buildTree(X, leftIdx, depth+1, limit, rng),
		right:        buildTree(X, rightIdx, depth+1, limit, rng),
	}
}

func pathLength(node *treeNode, x []float64, depth int) float64 {
	if node.left == nil {
		return float64(depth) + avgPathLength(node.size)
	}
	if x[node.splitFeature] < node.splitValue {
		return pathLength(node.left, x, depth+1)
	}
	return pathLength(node.right, x, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful
// BST search over n points, used to normalize tree depths.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}

// quantile returns the q-quantile of values using linear interpolation.
func quantile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
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
