package knowledge

import (
	"sort"
	"strings"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// DevProfile is a read-only summary projection over a NormalizedKnowledge,
// modeled on original_source's devprofile.py (see SPEC_FULL.md §6.5): a small
// report of the languages and modules a user's knowledge is strongest in.
// It adds no data beyond what C9 already produced.
type DevProfile struct {
	TopLanguages []LanguageScore
	TopModules   []ModuleScore
}

// LanguageScore is one language's __overall__ rollup at depth 1.
type LanguageScore struct {
	Language string
	Score    float64
}

// ModuleScore is one non-rollup bucket's score at the configured depth.
type ModuleScore struct {
	DottedName string
	Score      float64
}

// Summarize projects nk into a DevProfile, listing languages and modules in
// descending score order. limit bounds how many of each are returned (<=0
// means unbounded).
func Summarize(nk NormalizedKnowledge, limit int) DevProfile {
	var languages []LanguageScore
	var modules []ModuleScore

	for name, score := range nk {
		comps := strings.Split(name, ".")
		switch {
		case len(comps) == 2 && comps[1] == domain.OverallKey:
			languages = append(languages, LanguageScore{Language: comps[0], Score: score})
		case !strings.HasSuffix(name, "."+domain.OverallKey):
			modules = append(modules, ModuleScore{DottedName: name, Score: score})
		}
	}

	sort.Slice(languages, func(i, j int) bool { return languages[i].Score > languages[j].Score })
	sort.Slice(modules, func(i, j int) bool { return modules[i].Score > modules[j].Score })

	if limit > 0 {
		if len(languages) > limit {
			languages = languages[:limit]
		}
		if len(modules) > limit {
			modules = modules[:limit]
		}
	}
	return DevProfile{TopLanguages: languages, TopModules: modules}
}
