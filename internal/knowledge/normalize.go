package knowledge

import (
	"strings"
	"time"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// NormalizedKnowledge is the depth-truncated score vector published to the
// population store: a mapping from a D-truncated dotted name (or a strict
// prefix suffixed with __overall__) to a score.
type NormalizedKnowledge map[string]float64

// Normalize projects the Model's references into a NormalizedKnowledge at
// depth, relative to today, with breadth regularization constant k
// (REPETITION_PENALTY). It is a pure function of the stored references: it
// never mutates m and two calls with identical inputs always agree.
//
// Per spec.md §4.9/§9, the __overall__ rollup sums already-regularized
// bucket scores rather than re-regularizing the sum; this is an intentional,
// documented approximation (see DESIGN.md).
func (m *Model) Normalize(depth int, today time.Time, k float64) NormalizedKnowledge {
	if depth < 1 {
		depth = 1
	}
	out := NormalizedKnowledge{}
	todayOrdinal := domain.Ordinal(today)

	// Bucket every reference, across all dotted names that truncate to the
	// same depth-D bucket, before regularizing: r() is concave and must be
	// applied once to the full activation sum of a bucket, not summed
	// per-contributing-name.
	activationSums := map[string]float64{}
	bucketOrder := make([]string, 0)
	for dottedName, refs := range m.refs {
		bucket := bucketName(dottedName, depth)
		if _, seen := activationSums[bucket]; !seen {
			bucketOrder = append(bucketOrder, bucket)
		}
		for _, r := range refs {
			activationSums[bucket] += Activation(todayOrdinal - r.Day)
		}
	}

	for _, bucket := range bucketOrder {
		score := round4(Regularize(activationSums[bucket], k))
		out[bucket] += score

		// Roll the (already-regularized) score up into every strict prefix
		// shorter than depth, per the commutativity caveat in spec.md §9.
		comps := strings.Split(bucket, ".")
		for prefixLen := 1; prefixLen < depth; prefixLen++ {
			prefixKey := strings.Join(comps[:prefixLen], ".") + "." + domain.OverallKey
			out[prefixKey] += score
		}
	}
	return out
}

// bucketName truncates dottedName to depth components, left-padding with the
// UnknownSentinel when dottedName has fewer than depth components.
func bucketName(dottedName string, depth int) string {
	comps := strings.Split(dottedName, ".")
	if len(comps) >= depth {
		return strings.Join(comps[:depth], ".")
	}
	padded := make([]string, 0, depth)
	padded = append(padded, comps...)
	for len(padded) < depth {
		padded = append(padded, domain.UnknownSentinel)
	}
	return strings.Join(padded, ".")
}
