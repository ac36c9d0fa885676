package facets

import (
	"github.com/calderas/lattice/pkg/engine"
	"github.com/calderas/lattice/pkg/model"
)

// Option is one facet value with its paired counts. Count is the global
// occurrence within the base result set; FilteredCount the occurrence among
// documents matching every other active filter, which is how many results
// selecting this option would surface.
type Option struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	Count         int    `json:"count"`
	FilteredCount int    `json:"filteredCount"`
}

// Facet is the resolved option list for one property. Sub is set for nested
// properties, one facet per sub-key.
type Facet struct {
	Property string   `json:"property"`
	Sub      string   `json:"sub,omitempty"`
	Options  []Option `json:"options"`
}

// Resolve pairs raw aggregation buckets with the facetable properties of the
// selected templates. Facets come out in template declaration order;
// select/multiselect options in thesaurus-declared order with absent buckets
// zeroed; relationship and nested options in engine count order.
func Resolve(aggs map[string]engine.Aggregation, templates []model.Template, thesauri map[string]model.Thesaurus, language string) []Facet {
	var out []Facet
	seen := make(map[string]bool)

	for _, t := range templates {
		for _, prop := range t.Properties {
			if !prop.Filter || seen[prop.Name] {
				continue
			}
			seen[prop.Name] = true

			switch {
			case prop.IsSelect():
				agg, ok := aggs[prop.Name]
				if !ok {
					continue
				}
				thesaurus, found := thesauri[prop.Content]
				if !found {
					out = append(out, Facet{Property: prop.Name, Options: bucketOptions(agg)})
					continue
				}
				out = append(out, Facet{Property: prop.Name, Options: thesaurusOptions(agg, &thesaurus, language)})

			case prop.Type == model.PropertyRelationship:
				agg, ok := aggs[prop.Name]
				if !ok {
					continue
				}
				out = append(out, Facet{Property: prop.Name, Options: bucketOptions(agg)})

			case prop.Type == model.PropertyNested:
				for _, sub := range prop.NestedProperties {
					agg, ok := aggs[prop.Name+"."+sub.Name]
					if !ok {
						continue
					}
					out = append(out, Facet{Property: prop.Name, Sub: sub.Name, Options: bucketOptions(agg)})
				}
			}
		}
	}
	return out
}

// thesaurusOptions lists every thesaurus option in declared order, zeroing
// counts for options absent from the buckets. Bucket keys unknown to the
// thesaurus are appended afterwards so stale stored values stay visible.
func thesaurusOptions(agg engine.Aggregation, thesaurus *model.Thesaurus, language string) []Option {
	byKey := make(map[string]engine.Bucket, len(agg.Buckets))
	for _, b := range agg.Buckets {
		byKey[b.Key] = b
	}

	values := thesaurus.FlatValues()
	out := make([]Option, 0, len(values))
	for _, v := range values {
		label, _ := thesaurus.LabelIn(language, v.ID)
		opt := Option{ID: v.ID, Label: label}
		if b, ok := byKey[v.ID]; ok {
			opt.Count = b.Count
			opt.FilteredCount = b.FilteredCount
			delete(byKey, v.ID)
		}
		out = append(out, opt)
	}

	for _, b := range agg.Buckets {
		if _, stale := byKey[b.Key]; stale {
			out = append(out, Option{ID: b.Key, Label: b.Key, Count: b.Count, FilteredCount: b.FilteredCount})
		}
	}
	return out
}

func bucketOptions(agg engine.Aggregation) []Option {
	out := make([]Option, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		out = append(out, Option{ID: b.Key, Label: b.Key, Count: b.Count, FilteredCount: b.FilteredCount})
	}
	return out
}
