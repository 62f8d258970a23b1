package metrics

import "sync"

// psquare implements the P² algorithm (Jain & Chlamtac, 1985) for
// estimating a single quantile from a data stream in O(1) space: five
// markers track the minimum, the target quantile, and three
// surrounding points, adjusted incrementally as each new sample
// arrives instead of sorting a retained window.
//
// Ported from the shape of the P² estimator in
// joeycumines-go-utilpkg/eventloop's psquare.go (read for this port's
// grounding before the eventloop tree was pruned, see DESIGN.md), used
// here to estimate Worker dispatch-loop batch latency without
// retaining every sample.
type psquare struct {
	mu  sync.Mutex
	p   float64
	n   [5]int
	np  [5]float64
	dn  [5]float64
	q   [5]float64
	cnt int
}

func newPSquare(quantile float64) *psquare {
	return &psquare{
		p:  quantile,
		dn: [5]float64{0, quantile / 2, quantile, (1 + quantile) / 2, 1},
	}
}

// observe feeds one sample into the estimator.
func (ps *psquare) observe(x float64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.cnt < 5 {
		ps.q[ps.cnt] = x
		ps.cnt++
		if ps.cnt == 5 {
			// sort the first five observations to seed the markers.
			for i := 1; i < 5; i++ {
				for j := i; j > 0 && ps.q[j-1] > ps.q[j]; j-- {
					ps.q[j-1], ps.q[j] = ps.q[j], ps.q[j-1]
				}
			}
			for i := 0; i < 5; i++ {
				ps.n[i] = i + 1
			}
			ps.np = [5]float64{1, 1 + 2*ps.p, 1 + 4*ps.p, 3 + 2*ps.p, 5}
		}
		return
	}

	k := 0
	switch {
	case x < ps.q[0]:
		ps.q[0] = x
		k = 0
	case x >= ps.q[4]:
		ps.q[4] = x
		k = 3
	default:
		for i := 1; i < 5; i++ {
			if x < ps.q[i] {
				k = i - 1
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		ps.n[i]++
	}
	for i := 0; i < 5; i++ {
		ps.np[i] += ps.dn[i]
	}

	for i := 1; i < 4; i++ {
		d := ps.np[i] - float64(ps.n[i])
		if (d >= 1 && ps.n[i+1]-ps.n[i] > 1) || (d <= -1 && ps.n[i-1]-ps.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			qNew := ps.parabolic(i, sign)
			if ps.q[i-1] < qNew && qNew < ps.q[i+1] {
				ps.q[i] = qNew
			} else {
				ps.q[i] = ps.linear(i, sign)
			}
			ps.n[i] += sign
		}
	}
}

func (ps *psquare) parabolic(i, d int) float64 {
	df := float64(d)
	return ps.q[i] + df/float64(ps.n[i+1]-ps.n[i-1])*
		((float64(ps.n[i]-ps.n[i-1])+df)*(ps.q[i+1]-ps.q[i])/float64(ps.n[i+1]-ps.n[i])+
			(float64(ps.n[i+1]-ps.n[i])-df)*(ps.q[i]-ps.q[i-1])/float64(ps.n[i]-ps.n[i-1]))
}

func (ps *psquare) linear(i, d int) float64 {
	return ps.q[i] + float64(d)*(ps.q[i+d]-ps.q[i])/float64(ps.n[i+d]-ps.n[i])
}

// value returns the current quantile estimate. Before five samples
// have been observed, it returns the median of what's been seen so
// far.
func (ps *psquare) value() float64 {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.cnt < 5 {
		if ps.cnt == 0 {
			return 0
		}
		sorted := append([]float64(nil), ps.q[:ps.cnt]...)
		for i := 1; i < len(sorted); i++ {
			for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
				sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
			}
		}
		return sorted[len(sorted)/2]
	}
	return ps.q[2]
}
