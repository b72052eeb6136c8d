package dom

import (
	"cmp"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/treesync/internal/meta"
	"github.com/agext/levenshtein"
)

const (
	QueryLimitDefault   = 20
	QueryLimitMaximum   = 100
	QueryMinimumDefault = 0.25

	openableBonus = 1.5
)

// Query selects instances by fuzzy name match and metadata filters.
type Query struct {
	Text         string
	ClassName    string // exact, case-insensitive; empty matches any
	Limit        int
	MinimumScore float64
	SkipNonFiles bool // only instances backed by a file or meta file
	SkipPackages bool // drop instances inside dependency packages
}

// NewQuery returns a query for text with the default filters.
func NewQuery(text string) Query {
	return Query{
		Text:         text,
		Limit:        QueryLimitDefault,
		MinimumScore: QueryMinimumDefault,
		SkipNonFiles: true,
		SkipPackages: true,
	}
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return QueryLimitDefault
	}
	return min(q.Limit, QueryLimitMaximum)
}

type QueryResult struct {
	ID    Ref
	Score float64
}

// nameScore rates how well name matches the lowercased query. Exact matches
// score 1. Others score by edit similarity with a boost for substrings that
// grows with the query length up to eight characters.
func nameScore(queryLow, name string) float64 {
	if queryLow == "" {
		return 0
	}
	nameLow := strings.ToLower(name)
	if nameLow == queryLow {
		return 1
	}
	score := 0.75 * levenshtein.Similarity(queryLow, nameLow, nil)
	if strings.Contains(nameLow, queryLow) {
		score += min(0.25, 0.25*float64(len(queryLow))/8)
	}
	return score
}

func (q Query) score(inst *Instance, m *meta.Metadata, queryLow string) (float64, bool) {
	if q.ClassName != "" && !strings.EqualFold(q.ClassName, inst.ClassName) {
		return 0, false
	}
	s := nameScore(queryLow, inst.Name)
	if s < q.MinimumScore {
		return 0, false
	}
	if m.CanOpen() {
		s += openableBonus
	}
	return s, true
}

// FindByQuery ranks matching instances by score, best first, capped at the
// query limit. Ties order by name, then Ref.
func (d *Dom) FindByQuery(q Query) []QueryResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	candidates := d.candidates(q)
	queryLow := strings.ToLower(q.Text)

	var results []QueryResult
	it := candidates.Iterator()
	for it.HasNext() {
		id := Ref(it.Next())
		inst, ok := d.live(id)
		if !ok {
			continue
		}
		if s, ok := q.score(inst, d.metas[id], queryLow); ok {
			results = append(results, QueryResult{ID: id, Score: s})
		}
	}

	slices.SortFunc(results, func(a, b QueryResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := strings.Compare(d.instances[a.ID].Name, d.instances[b.ID].Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if n := q.limit(); len(results) > n {
		results = results[:n]
	}
	return results
}

func (d *Dom) candidates(q Query) *roaring.Bitmap {
	var bm *roaring.Bitmap
	if q.SkipNonFiles {
		bm = d.fileBacked.Clone()
	} else {
		bm = roaring.New()
		for id := range d.instances {
			bm.Add(uint32(id))
		}
	}
	if q.SkipPackages {
		bm.AndNot(d.packaged)
	}
	return bm
}
