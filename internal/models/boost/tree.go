package boost

import (
	"math"
	"sort"
)

// node stores the mean response of the training rows that reach it, so
// attribution can walk the path and charge each split's feature with
// the change in mean.
type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	value     float64
	leaf      bool
}

type tree struct {
	root *node
}

const minLeafRows = 5

// buildTree grows a depth-limited regression tree on the given rows,
// greedily minimizing squared error over the allowed features.
func buildTree(x [][]float64, y []float64, rows []int, features []int, depth int) *tree {
	return &tree{root: buildNode(x, y, rows, features, depth)}
}

func buildNode(x [][]float64, y []float64, rows []int, features []int, depth int) *node {
	n := &node{value: meanOf(y, rows)}
	if depth <= 0 || len(rows) < 2*minLeafRows {
		n.leaf = true
		return n
	}

	feature, threshold, gain := bestSplit(x, y, rows, features)
	if gain <= 0 {
		n.leaf = true
		return n
	}

	var left, right []int
	for _, r := range rows {
		if x[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) < minLeafRows || len(right) < minLeafRows {
		n.leaf = true
		return n
	}

	n.feature = feature
	n.threshold = threshold
	n.left = buildNode(x, y, left, features, depth-1)
	n.right = buildNode(x, y, right, features, depth-1)
	return n
}

// bestSplit scans midpoints between consecutive sorted values of each
// allowed feature and returns the split with the largest SSE reduction.
func bestSplit(x [][]float64, y []float64, rows []int, features []int) (int, float64, float64) {
	parentSSE := sseOf(y, rows)
	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0

	ordered := make([]int, len(rows))
	for _, f := range features {
		copy(ordered, rows)
		sort.Slice(ordered, func(a, b int) bool { return x[ordered[a]][f] < x[ordered[b]][f] })

		// Prefix sums over the ordered rows give every split's SSE in
		// one pass.
		sum, sumSq := 0.0, 0.0
		totalSum, totalSumSq := 0.0, 0.0
		for _, r := range ordered {
			totalSum += y[r]
			totalSumSq += y[r] * y[r]
		}
		for i := 0; i < len(ordered)-1; i++ {
			r := ordered[i]
			sum += y[r]
			sumSq += y[r] * y[r]

			next := ordered[i+1]
			if x[r][f] == x[next][f] {
				continue
			}
			nl := float64(i + 1)
			nr := float64(len(ordered) - i - 1)
			if int(nl) < minLeafRows || int(nr) < minLeafRows {
				continue
			}
			leftSSE := sumSq - sum*sum/nl
			rs := totalSum - sum
			rightSSE := (totalSumSq - sumSq) - rs*rs/nr
			gain := parentSSE - leftSSE - rightSSE
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (x[r][f] + x[next][f]) / 2
			}
		}
	}
	return bestFeature, bestThreshold, bestGain
}

func (t *tree) predict(row []float64) float64 {
	n := t.root
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

func meanOf(y []float64, rows []int) float64 {
	sum := 0.0
	for _, r := range rows {
		sum += y[r]
	}
	return sum / float64(len(rows))
}

func sseOf(y []float64, rows []int) float64 {
	m := meanOf(y, rows)
	sse := 0.0
	for _, r := range rows {
		d := y[r] - m
		sse += d * d
	}
	return sse
}

func rmse(pred, y []float64) float64 {
	sum := 0.0
	for i := range y {
		d := pred[i] - y[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(y)))
}
