package boost

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
)

var ErrNotFitted = errors.New("boost model not fitted")

type Options struct {
	Rounds       int
	Depth        int
	LearningRate float64
	Subsample    float64
	ColSample    float64
	Seed         uint64
	// TestSize observations from the end of the sample are held out
	// and never seen during training.
	TestSize int
}

// Model is a gradient-boosted regression tree ensemble with a
// squared-error objective.
type Model struct {
	logger *zap.Logger
	opts   Options

	fitted       bool
	trees        []*tree
	base         float64
	featureNames []string

	TrainRMSE float64
	TestRMSE  float64
}

func New(logger *zap.Logger, opts Options) *Model {
	if opts.Rounds <= 0 {
		opts.Rounds = 100
	}
	if opts.Depth <= 0 {
		opts.Depth = 3
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.1
	}
	if opts.Subsample <= 0 || opts.Subsample > 1 {
		opts.Subsample = 0.8
	}
	if opts.ColSample <= 0 || opts.ColSample > 1 {
		opts.ColSample = 0.8
	}
	return &Model{logger: logger, opts: opts}
}

// Fit trains the ensemble on all but the trailing TestSize rows and
// reports in and out of sample RMSE.
func (m *Model) Fit(featureNames []string, x [][]float64, y []float64) error {
	if len(x) != len(y) {
		return fmt.Errorf("boost: %d feature rows for %d targets", len(x), len(y))
	}
	trainN := len(y) - m.opts.TestSize
	if trainN < 4*minLeafRows {
		return fmt.Errorf("boost: %d training observations too few after holding out %d",
			trainN, m.opts.TestSize)
	}

	m.featureNames = featureNames
	rng := rand.New(rand.NewSource(m.opts.Seed))

	xTrain, yTrain := x[:trainN], y[:trainN]
	m.base = meanAll(yTrain)

	pred := make([]float64, trainN)
	for i := range pred {
		pred[i] = m.base
	}
	residual := make([]float64, trainN)

	nSample := int(float64(trainN) * m.opts.Subsample)
	nFeatures := int(float64(len(featureNames)) * m.opts.ColSample)
	if nFeatures < 1 {
		nFeatures = 1
	}

	m.trees = make([]*tree, 0, m.opts.Rounds)
	for round := 0; round < m.opts.Rounds; round++ {
		for i := range residual {
			residual[i] = yTrain[i] - pred[i]
		}

		rows := sampleRows(rng, trainN, nSample)
		features := sampleFeatures(rng, len(featureNames), nFeatures)

		t := buildTree(xTrain, residual, rows, features, m.opts.Depth)
		m.trees = append(m.trees, t)

		for i := range pred {
			pred[i] += m.opts.LearningRate * t.predict(xTrain[i])
		}
	}
	m.fitted = true

	m.TrainRMSE = rmse(pred, yTrain)
	if m.opts.TestSize > 0 {
		testPred := make([]float64, m.opts.TestSize)
		for i, row := range x[trainN:] {
			testPred[i] = m.Predict(row)
		}
		m.TestRMSE = rmse(testPred, y[trainN:])
	}

	m.logger.Info("boost model fitted",
		zap.Int("rounds", m.opts.Rounds),
		zap.Int("train_obs", trainN),
		zap.Int("test_obs", m.opts.TestSize),
		zap.Float64("train_rmse", m.TrainRMSE),
		zap.Float64("test_rmse", m.TestRMSE))
	return nil
}

func (m *Model) Predict(row []float64) float64 {
	out := m.base
	for _, t := range m.trees {
		out += m.opts.LearningRate * t.predict(row)
	}
	return out
}

func (m *Model) FeatureNames() []string {
	return m.featureNames
}

// sampleRows draws n distinct row indices without replacement.
func sampleRows(rng *rand.Rand, total, n int) []int {
	perm := rng.Perm(total)
	rows := perm[:n]
	sort.Ints(rows)
	return rows
}

func sampleFeatures(rng *rand.Rand, total, n int) []int {
	perm := rng.Perm(total)
	features := perm[:n]
	sort.Ints(features)
	return features
}

func meanAll(y []float64) float64 {
	sum := 0.0
	for _, v := range y {
		sum += v
	}
	return sum / float64(len(y))
}
