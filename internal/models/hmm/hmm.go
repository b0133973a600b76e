package hmm

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrNotFitted    = errors.New("hmm not fitted")
	ErrNotConverged = errors.New("em did not converge")
)

type Options struct {
	States  int
	MaxIter int
	Tol     float64
	// Seed fixes the random restarts so decoded regimes are
	// reproducible run to run.
	Seed     uint64
	Restarts int
}

// Model is a Gaussian hidden Markov model estimated by EM. States are
// relabeled after fitting so state 0 is always the low-mean regime.
type Model struct {
	logger *zap.Logger
	opts   Options

	fitted     bool
	Means      []float64
	Variances  []float64
	Transition [][]float64
	Initial    []float64

	LogLikelihood float64
	Iterations    int
	Converged     bool
}

func New(logger *zap.Logger, opts Options) *Model {
	if opts.States < 2 {
		opts.States = 2
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 1000
	}
	if opts.Tol <= 0 {
		opts.Tol = 1e-6
	}
	if opts.Restarts <= 0 {
		opts.Restarts = 3
	}
	return &Model{logger: logger, opts: opts}
}

// Fit runs EM from a deterministic quantile initialization plus seeded
// random restarts, keeping the best log-likelihood.
func (m *Model) Fit(obs []float64) error {
	if len(obs) < m.opts.States*10 {
		return fmt.Errorf("hmm: %d observations too few for %d states", len(obs), m.opts.States)
	}
	for _, v := range obs {
		if math.IsNaN(v) {
			return errors.New("hmm: observations contain missing values")
		}
	}

	src := rand.NewSource(m.opts.Seed)
	best := math.Inf(-1)
	var bestFit *Model

	for restart := 0; restart <= m.opts.Restarts; restart++ {
		cand := &Model{logger: m.logger, opts: m.opts}
		cand.initialize(obs, restart, src)
		cand.em(obs)
		if cand.LogLikelihood > best {
			best = cand.LogLikelihood
			bestFit = cand
		}
	}

	m.Means = bestFit.Means
	m.Variances = bestFit.Variances
	m.Transition = bestFit.Transition
	m.Initial = bestFit.Initial
	m.LogLikelihood = bestFit.LogLikelihood
	m.Iterations = bestFit.Iterations
	m.Converged = bestFit.Converged
	m.relabel()
	m.fitted = true

	if !m.Converged {
		m.logger.Warn("hmm estimation hit the iteration cap",
			zap.Int("iterations", m.Iterations),
			zap.Float64("log_likelihood", m.LogLikelihood))
		return ErrNotConverged
	}

	m.logger.Info("hmm fitted",
		zap.Int("states", m.opts.States),
		zap.Int("iterations", m.Iterations),
		zap.Float64("log_likelihood", m.LogLikelihood),
		zap.Float64s("means", m.Means))
	return nil
}

// initialize seeds state means from sorted sample quantiles on the
// first pass and from seeded draws on restarts.
func (m *Model) initialize(obs []float64, restart int, src rand.Source) {
	S := m.opts.States
	sorted := append([]float64(nil), obs...)
	sort.Float64s(sorted)

	sampleVar := stat.Variance(obs, nil)
	if sampleVar <= 0 {
		sampleVar = 1e-6
	}

	m.Means = make([]float64, S)
	m.Variances = make([]float64, S)
	for s := 0; s < S; s++ {
		q := (float64(s) + 0.5) / float64(S)
		m.Means[s] = stat.Quantile(q, stat.Empirical, sorted, nil)
		m.Variances[s] = sampleVar
	}
	if restart > 0 {
		jitter := distuv.Normal{Mu: 0, Sigma: math.Sqrt(sampleVar), Src: src}
		for s := 0; s < S; s++ {
			m.Means[s] += jitter.Rand()
		}
	}

	m.Transition = make([][]float64, S)
	m.Initial = make([]float64, S)
	for s := 0; s < S; s++ {
		m.Initial[s] = 1 / float64(S)
		m.Transition[s] = make([]float64, S)
		for j := 0; j < S; j++ {
			if s == j {
				m.Transition[s][j] = 0.9
			} else {
				m.Transition[s][j] = 0.1 / float64(S-1)
			}
		}
	}
}

func (m *Model) emissionDensity(s int, x float64) float64 {
	v := m.Variances[s]
	d := x - m.Means[s]
	return math.Exp(-d*d/(2*v)) / math.Sqrt(2*math.Pi*v)
}

// em runs scaled forward-backward Baum-Welch updates.
func (m *Model) em(obs []float64) {
	T := len(obs)
	S := m.opts.States
	prev := math.Inf(-1)

	for iter := 1; iter <= m.opts.MaxIter; iter++ {
		// Forward pass with per-step scaling.
		alpha := make([][]float64, T)
		scale := make([]float64, T)
		alpha[0] = make([]float64, S)
		for s := 0; s < S; s++ {
			alpha[0][s] = m.Initial[s] * m.emissionDensity(s, obs[0])
			scale[0] += alpha[0][s]
		}
		normalize(alpha[0], scale[0])
		for t := 1; t < T; t++ {
			alpha[t] = make([]float64, S)
			for s := 0; s < S; s++ {
				sum := 0.0
				for j := 0; j < S; j++ {
					sum += alpha[t-1][j] * m.Transition[j][s]
				}
				alpha[t][s] = sum * m.emissionDensity(s, obs[t])
				scale[t] += alpha[t][s]
			}
			normalize(alpha[t], scale[t])
		}

		ll := 0.0
		for t := 0; t < T; t++ {
			ll += math.Log(math.Max(scale[t], 1e-300))
		}

		// Backward pass, same scaling.
		beta := make([][]float64, T)
		beta[T-1] = make([]float64, S)
		for s := 0; s < S; s++ {
			beta[T-1][s] = 1
		}
		for t := T - 2; t >= 0; t-- {
			beta[t] = make([]float64, S)
			for s := 0; s < S; s++ {
				sum := 0.0
				for j := 0; j < S; j++ {
					sum += m.Transition[s][j] * m.emissionDensity(j, obs[t+1]) * beta[t+1][j]
				}
				beta[t][s] = sum
			}
			normalize(beta[t], scale[t+1])
		}

		// State and transition responsibilities.
		gamma := make([][]float64, T)
		for t := 0; t < T; t++ {
			gamma[t] = make([]float64, S)
			total := 0.0
			for s := 0; s < S; s++ {
				gamma[t][s] = alpha[t][s] * beta[t][s]
				total += gamma[t][s]
			}
			normalize(gamma[t], total)
		}

		xiSum := make([][]float64, S)
		for s := range xiSum {
			xiSum[s] = make([]float64, S)
		}
		for t := 0; t < T-1; t++ {
			total := 0.0
			xi := make([][]float64, S)
			for s := 0; s < S; s++ {
				xi[s] = make([]float64, S)
				for j := 0; j < S; j++ {
					xi[s][j] = alpha[t][s] * m.Transition[s][j] *
						m.emissionDensity(j, obs[t+1]) * beta[t+1][j]
					total += xi[s][j]
				}
			}
			if total > 0 {
				for s := 0; s < S; s++ {
					for j := 0; j < S; j++ {
						xiSum[s][j] += xi[s][j] / total
					}
				}
			}
		}

		// M step.
		for s := 0; s < S; s++ {
			m.Initial[s] = gamma[0][s]

			rowSum := 0.0
			for j := 0; j < S; j++ {
				rowSum += xiSum[s][j]
			}
			if rowSum > 0 {
				for j := 0; j < S; j++ {
					m.Transition[s][j] = xiSum[s][j] / rowSum
				}
			}

			weight, mean := 0.0, 0.0
			for t := 0; t < T; t++ {
				weight += gamma[t][s]
				mean += gamma[t][s] * obs[t]
			}
			if weight > 0 {
				mean /= weight
				variance := 0.0
				for t := 0; t < T; t++ {
					d := obs[t] - mean
					variance += gamma[t][s] * d * d
				}
				m.Means[s] = mean
				m.Variances[s] = math.Max(variance/weight, 1e-10)
			}
		}

		m.Iterations = iter
		m.LogLikelihood = ll
		if math.Abs(ll-prev) < m.opts.Tol {
			m.Converged = true
			return
		}
		prev = ll
	}
}

// relabel orders states by mean so state 0 is the low-mean regime.
func (m *Model) relabel() {
	S := m.opts.States
	order := make([]int, S)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return m.Means[order[a]] < m.Means[order[b]] })

	means := make([]float64, S)
	variances := make([]float64, S)
	initial := make([]float64, S)
	transition := make([][]float64, S)
	for newS, oldS := range order {
		means[newS] = m.Means[oldS]
		variances[newS] = m.Variances[oldS]
		initial[newS] = m.Initial[oldS]
		transition[newS] = make([]float64, S)
		for newJ, oldJ := range order {
			transition[newS][newJ] = m.Transition[oldS][oldJ]
		}
	}
	m.Means, m.Variances, m.Initial, m.Transition = means, variances, initial, transition
}

// Decode returns the most likely state path by the Viterbi algorithm.
func (m *Model) Decode(obs []float64) ([]int, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}

	T := len(obs)
	S := m.opts.States
	logDelta := make([][]float64, T)
	back := make([][]int, T)

	logDelta[0] = make([]float64, S)
	back[0] = make([]int, S)
	for s := 0; s < S; s++ {
		logDelta[0][s] = safeLog(m.Initial[s]) + safeLog(m.emissionDensity(s, obs[0]))
	}
	for t := 1; t < T; t++ {
		logDelta[t] = make([]float64, S)
		back[t] = make([]int, S)
		for s := 0; s < S; s++ {
			bestVal, bestState := math.Inf(-1), 0
			for j := 0; j < S; j++ {
				v := logDelta[t-1][j] + safeLog(m.Transition[j][s])
				if v > bestVal {
					bestVal, bestState = v, j
				}
			}
			logDelta[t][s] = bestVal + safeLog(m.emissionDensity(s, obs[t]))
			back[t][s] = bestState
		}
	}

	path := make([]int, T)
	bestVal := math.Inf(-1)
	for s := 0; s < S; s++ {
		if logDelta[T-1][s] > bestVal {
			bestVal = logDelta[T-1][s]
			path[T-1] = s
		}
	}
	for t := T - 2; t >= 0; t-- {
		path[t] = back[t+1][path[t+1]]
	}
	return path, nil
}

// Stationary returns the long-run state distribution implied by the
// transition matrix, by power iteration.
func (m *Model) Stationary() ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}

	S := m.opts.States
	pi := make([]float64, S)
	for s := range pi {
		pi[s] = 1 / float64(S)
	}
	for iter := 0; iter < 1000; iter++ {
		next := make([]float64, S)
		for j := 0; j < S; j++ {
			for s := 0; s < S; s++ {
				next[j] += pi[s] * m.Transition[s][j]
			}
		}
		diff := 0.0
		for s := range pi {
			diff += math.Abs(next[s] - pi[s])
		}
		pi = next
		if diff < 1e-12 {
			break
		}
	}
	return pi, nil
}

func normalize(v []float64, total float64) {
	if total <= 0 {
		return
	}
	for i := range v {
		v[i] /= total
	}
}

func safeLog(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return math.Log(v)
}
