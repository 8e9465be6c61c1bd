package knowledge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

func TestActivationMonotonicity(t *testing.T) {
	// For d1 <= d2, a(d1) >= a(d2); floor of 0.1.
	prev := Activation(0)
	for d := 1; d <= 1000; d += 7 {
		a := Activation(d)
		assert.GreaterOrEqual(t, prev, a, "activation must be non-increasing as days elapse")
		assert.GreaterOrEqual(t, a, activationFloor)
		prev = a
	}
}

func TestBreadthConcavity(t *testing.T) {
	k := 0.3
	assert.Equal(t, 0.0, Regularize(0, k))
	assert.InDelta(t, 1.0, Regularize(1, k), 1e-9)
	for _, xy := range [][2]float64{{1, 1}, {2, 3}, {0.5, 10}, {4, 4}} {
		x, y := xy[0], xy[1]
		assert.GreaterOrEqual(t, Regularize(x, k)+Regularize(y, k), Regularize(x+y, k)-1e-9)
	}
}

func TestPrivateSentinelDropped(t *testing.T) {
	m := New("v1")
	m.AddReference(time.Now(), 5, domain.PrivateSentinel, "module")
	assert.Empty(t, m.Keys())
}

func TestAddReferenceBasic(t *testing.T) {
	m := New("v1")
	m.AddReference(time.Now(), 3, "python", "socket", "recv")
	assert.Len(t, m.References("python.socket.recv"), 3)
}

func TestDepthPadding(t *testing.T) {
	m := New("v1")
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	m.AddReference(today, 1, "python")
	nk := m.Normalize(3, today, 0.3)
	_, ok := nk["python.__unknown__.__unknown__"]
	assert.True(t, ok, "short path should be left-padded with __unknown__ to depth")
}

func TestOverallRollup(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	m := New("v1")
	m.AddReference(today, 10, "python", "socket", "recv")
	m.AddReference(today, 10, "python", "os", "path")
	nk := m.Normalize(3, today, 0.3)

	expected := nk["python.socket.recv"] + nk["python.os.path"]
	assert.InDelta(t, expected, nk["python.__overall__"], 1e-9)
}

func TestKnowledgeExampleNarrowVsBroad(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	personA := New("v1")
	personA.AddReference(today, 80, "python", "socket", "recv")

	personB := New("v1")
	modules := []string{"socket", "os", "json", "time", "re", "io", "math", "sys"}
	for _, mod := range modules {
		personB.AddReference(today, 10, "python", mod, "fn")
	}

	nkA := personA.Normalize(2, today, 0.3)
	nkB := personB.Normalize(2, today, 0.3)

	assert.Greater(t, nkB["python.__overall__"], nkA["python.__overall__"],
		"broader reference spread should score higher overall than one narrow, heavily repeated reference")
}

func TestNormalizeIsPure(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	m := New("v1")
	m.AddReference(today, 4, "javascript", "array", "map")
	first := m.Normalize(2, today, 0.3)
	second := m.Normalize(2, today, 0.3)
	assert.Equal(t, first, second)
	assert.Len(t, m.References("javascript.array.map"), 4, "Normalize must not mutate the model")
}

func TestDevProfileSummarize(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	m := New("v1")
	m.AddReference(today, 50, "python", "socket", "recv")
	m.AddReference(today, 5, "javascript", "array", "map")
	nk := m.Normalize(2, today, 0.3)

	profile := Summarize(nk, 1)
	assert.Len(t, profile.TopLanguages, 1)
	assert.Equal(t, "python", profile.TopLanguages[0].Language)
}
