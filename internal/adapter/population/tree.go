package population

import (
	"strings"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
	"github.com/rebase-inc/knowledge-scanner/internal/knowledge"
)

// RankedNode is one node of the nested-ranking tree: a language or module's
// rank/population/relevance, plus its child modules keyed under the
// sentinel "modules" field, per spec.md §4.10.
type RankedNode struct {
	Rank       int                    `json:"rank"`
	Population int                    `json:"population"`
	Relevance  int                    `json:"relevance"`
	Modules    map[string]*RankedNode `json:"modules,omitempty"`
}

// BuildRankingTree folds nk's flat dotted-name scores into the nested tree
// described by spec.md §4.10: "__overall__" is stripped from the path and
// its score attaches to the parent node it rolled up into; every other key
// is a full-depth bucket whose score attaches directly to its own leaf node.
func (s *Store) BuildRankingTree(ctx domain.Context, nk knowledge.NormalizedKnowledge) (map[string]*RankedNode, error) {
	root := map[string]*RankedNode{}
	for key, score := range nk {
		parts := strings.Split(key, ".")
		if len(parts) == 0 {
			continue
		}
		pathParts := parts
		if parts[len(parts)-1] == domain.OverallKey {
			pathParts = parts[:len(parts)-1]
		}
		if len(pathParts) == 0 {
			continue
		}

		node := ensureNode(root, pathParts)
		ranking, err := s.Rank(ctx, key, score)
		if err != nil {
			return nil, err
		}
		node.Rank = ranking.Rank
		node.Population = ranking.Population
		node.Relevance = ranking.Relevance
	}
	return root, nil
}

func ensureNode(root map[string]*RankedNode, parts []string) *RankedNode {
	node, ok := root[parts[0]]
	if !ok {
		node = &RankedNode{}
		root[parts[0]] = node
	}
	current := node
	for _, p := range parts[1:] {
		if current.Modules == nil {
			current.Modules = map[string]*RankedNode{}
		}
		child, ok := current.Modules[p]
		if !ok {
			child = &RankedNode{}
			current.Modules[p] = child
		}
		current = child
	}
	return current
}
