// Package knowledge implements the temporally-weighted reference accumulator
// (C9): a flat map of dotted symbol names to References, and a pure
// normalization function that projects it to a fixed depth with breadth
// regularization and an __overall__ rollup.
package knowledge

import (
	"math"
	"strings"
	"time"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// Model is a versioned accumulator owned exclusively by one scan. It is not
// safe for concurrent mutation; the orchestrator (C11) is its single writer.
type Model struct {
	Version string
	refs    map[string][]domain.Reference
}

// New returns an empty Model tagged with version.
func New(version string) *Model {
	return &Model{Version: version, refs: map[string][]domain.Reference{}}
}

// AddReference appends count copies of a Reference dated date under the
// dotted name formed by joining path components. A path whose first
// component equals the PrivateSentinel is dropped entirely (never admitted).
func (m *Model) AddReference(date time.Time, count int, path ...string) {
	if len(path) == 0 || count <= 0 {
		return
	}
	if path[0] == domain.PrivateSentinel {
		return
	}
	key := strings.Join(path, ".")
	ref := domain.NewReference(date)
	for i := 0; i < count; i++ {
		m.refs[key] = append(m.refs[key], ref)
	}
}

// References returns the raw references stored under a dotted name, for
// inspection/testing. The returned slice must not be mutated.
func (m *Model) References(dottedName string) []domain.Reference {
	return m.refs[dottedName]
}

// Keys returns all dotted names currently present in the model.
func (m *Model) Keys() []string {
	keys := make([]string, 0, len(m.refs))
	for k := range m.refs {
		keys = append(keys, k)
	}
	return keys
}

// activationFloor is the floor "a(d) = max(0.1, ...)" term in spec.md §4.9.
const activationFloor = 0.1

// Activation computes a reference's current weight under temporal decay,
// given the number of days elapsed since the reference's Day (today - date).
// a(d) = max(0.1, 1 / (1 + exp(d/300 - 4))).
func Activation(daysElapsed int) float64 {
	sigmoid := 1.0 / (1.0 + math.Exp(float64(daysElapsed)/300.0-4.0))
	return math.Max(activationFloor, sigmoid)
}

// Regularize applies the concave breadth-regularization remapping
// r(x) = log1p(x/K) / log1p(1/K). K (REPETITION_PENALTY) must be > 0.
func Regularize(x, k float64) float64 {
	if k <= 0 {
		k = 1
	}
	denom := math.Log1p(1.0 / k)
	if denom == 0 {
		return 0
	}
	return math.Log1p(x/k) / denom
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
