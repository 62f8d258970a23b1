package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct{ id uint32 }

func (f *fakeSource) ProcessID() uint32 { return f.id }

type fakeWarner struct{ calls int }

func (f *fakeWarner) WarnEndless() { f.calls++ }

func TestFirstSampleNeverWarns(t *testing.T) {
	src := &fakeSource{id: 1}
	warner := &fakeWarner{}
	m := New(src, warner)
	m.Check()
	assert.Equal(t, 0, warner.calls)
}

func TestStalledProcessIDWarns(t *testing.T) {
	src := &fakeSource{id: 5}
	warner := &fakeWarner{}
	m := New(src, warner)
	m.Check()
	m.Check() // same id both times: stalled
	assert.Equal(t, 1, warner.calls)
}

func TestProgressingProcessIDNeverWarns(t *testing.T) {
	src := &fakeSource{id: 0}
	warner := &fakeWarner{}
	m := New(src, warner)
	for i := 0; i < 10; i++ {
		src.id = uint32(i)
		m.Check()
	}
	assert.Equal(t, 0, warner.calls)
}
