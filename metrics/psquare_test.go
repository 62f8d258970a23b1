package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPSquareMedianOfFiveIsExact(t *testing.T) {
	ps := newPSquare(0.5)
	for _, x := range []float64{3, 1, 4, 1, 5} {
		ps.observe(x)
	}
	assert.Equal(t, 3.0, ps.value())
}

func TestPSquareFewerThanFiveReturnsRunningMedian(t *testing.T) {
	ps := newPSquare(0.99)
	assert.Equal(t, 0.0, ps.value())
	ps.observe(10)
	assert.Equal(t, 10.0, ps.value())
	ps.observe(20)
	assert.Equal(t, 20.0, ps.value())
}

func TestPSquareConvergesOnUniform(t *testing.T) {
	ps := newPSquare(0.5)
	for i := 1; i <= 1001; i++ {
		ps.observe(float64(i))
	}
	assert.Less(t, math.Abs(ps.value()-501), 15.0)
}
