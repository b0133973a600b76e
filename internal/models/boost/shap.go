package boost

import "math"

// Attribution decomposes a single prediction into a baseline plus one
// additive contribution per feature.
type Attribution struct {
	Baseline      float64
	Contributions []float64
}

// Prediction reconstructs the model output from the decomposition.
func (a Attribution) Prediction() float64 {
	out := a.Baseline
	for _, c := range a.Contributions {
		out += c
	}
	return out
}

// Explain attributes the prediction for one row by walking each tree's
// decision path and charging the split feature with the change in node
// mean. The parts always sum back to Predict for the same row.
func (m *Model) Explain(row []float64) (Attribution, error) {
	if !m.fitted {
		return Attribution{}, ErrNotFitted
	}

	a := Attribution{
		Baseline:      m.base,
		Contributions: make([]float64, len(m.featureNames)),
	}
	for _, t := range m.trees {
		n := t.root
		a.Baseline += m.opts.LearningRate * n.value
		for !n.leaf {
			child := n.left
			if row[n.feature] > n.threshold {
				child = n.right
			}
			a.Contributions[n.feature] += m.opts.LearningRate * (child.value - n.value)
			n = child
		}
	}
	return a, nil
}

// Importance averages absolute contributions over the given rows,
// giving a global ranking of the features.
func (m *Model) Importance(x [][]float64) ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}

	total := make([]float64, len(m.featureNames))
	for _, row := range x {
		a, err := m.Explain(row)
		if err != nil {
			return nil, err
		}
		for i, c := range a.Contributions {
			total[i] += math.Abs(c)
		}
	}
	for i := range total {
		total[i] /= float64(len(x))
	}
	return total, nil
}
