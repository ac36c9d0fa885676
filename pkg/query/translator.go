package query

import (
	"fmt"
	"strings"

	"github.com/calderas/lattice/pkg/engine"
	"github.com/calderas/lattice/pkg/model"
)

const (
	// DefaultLimit applies when the request carries no page size.
	DefaultLimit = 30
	// MaxLimit bounds offset pagination; exports use a separate path.
	MaxLimit = 9999
	// aggregationSize bounds the number of buckets per facet property.
	aggregationSize = 1000
)

// FilterSpec is one per-property constraint from the UI.
type FilterSpec struct {
	// Values and And carry select, multiselect and relationship filters.
	// And=true requires the document to contain every value; And=false any
	// one of them.
	Values []string
	And    bool

	// From and To carry inclusive numeric and date ranges.
	From *float64
	To   *float64

	// Nested carries per-sub-key constraints for nested properties.
	Nested map[string][]string
}

// UIQuery is the client-facing search request.
type UIQuery struct {
	SearchTerm   string
	Language     string
	Types        []string
	Filters      map[string]FilterSpec
	Sort         string
	Order        string
	From         int
	Limit        int
	Geolocation  bool
	SelectFields []string
	Unpublished  bool
}

// Translate compiles a UI request into an engine query. The user may be nil
// for anonymous requests.
func Translate(q UIQuery, user *model.User, settings model.Settings, templates []model.Template) *engine.Query {
	selected := SelectTemplates(q.Types, templates)

	if q.Geolocation && !anyGeolocation(selected) {
		return &engine.Query{MatchNone: true}
	}

	out := &engine.Query{
		From:         q.From,
		Limit:        q.Limit,
		SelectFields: q.SelectFields,
		Aggregations: make(map[string]engine.TermsAggregation),
	}
	if out.From < 0 {
		out.From = 0
	}
	if out.Limit <= 0 {
		out.Limit = DefaultLimit
	}
	if out.Limit > MaxLimit {
		out.Limit = MaxLimit
	}

	buildBase(&out.Bool, q, user, settings, selected)

	props := filterableProperties(selected)
	out.PostFilter = buildPostFilter(q.Filters, props)
	addAggregations(out, q.Filters, props)
	out.Sort = buildSort(q, props)

	if q.Geolocation && len(q.SelectFields) == 0 {
		out.SelectFields = geolocationFields(selected)
	}

	return out
}

// SelectTemplates resolves the requested template ids, defaulting to all.
func SelectTemplates(types []string, templates []model.Template) []model.Template {
	if len(types) == 0 {
		return templates
	}
	wanted := make(map[string]bool, len(types))
	for _, id := range types {
		wanted[id] = true
	}
	var out []model.Template
	for _, t := range templates {
		if wanted[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

func anyGeolocation(templates []model.Template) bool {
	for _, t := range templates {
		if t.HasGeolocation() {
			return true
		}
	}
	return false
}

func buildBase(b *engine.BoolQuery, q UIQuery, user *model.User, settings model.Settings, selected []model.Template) {
	if !user.CanSeeUnpublished() {
		b.Filter = append(b.Filter, engine.Clause{Term: &engine.TermClause{Field: "published", Value: true}})
	} else if q.Unpublished {
		b.Filter = append(b.Filter, engine.Clause{Term: &engine.TermClause{Field: "published", Value: false}})
	}

	language := q.Language
	if language == "" {
		language = settings.DefaultLanguage()
	}
	if language != "" {
		b.Filter = append(b.Filter, engine.Clause{Term: &engine.TermClause{Field: "language", Value: language}})
	}

	if len(q.Types) > 0 {
		b.Filter = append(b.Filter, engine.Clause{Terms: &engine.TermsClause{Field: "template", Values: q.Types}})
	}

	if term := strings.TrimSpace(q.SearchTerm); term != "" {
		b.Must = append(b.Must, engine.Clause{QueryString: &engine.QueryStringClause{
			Query:  term,
			Fields: fullTextFields(selected),
		}})
	}
}

// fullTextFields returns the searchable text fields for the selected
// templates: title, extracted file text and every text-type property.
func fullTextFields(templates []model.Template) []string {
	fields := []string{"title", "fullText"}
	seen := make(map[string]bool)
	for _, t := range templates {
		for _, p := range t.Properties {
			if p.Type != model.PropertyText && p.Type != model.PropertyMarkdown {
				continue
			}
			field := metadataField(p.Name, "value")
			if !seen[field] {
				seen[field] = true
				fields = append(fields, field)
			}
		}
	}
	return fields
}

// filterableProperties collects the properties a filter or facet may target,
// keyed by name, across the selected templates. The first declaration wins
// when templates reuse a name; the mapper enforces type compatibility there.
func filterableProperties(templates []model.Template) map[string]model.Property {
	out := make(map[string]model.Property)
	for _, t := range templates {
		for _, p := range t.Properties {
			if _, ok := out[p.Name]; !ok {
				out[p.Name] = p
			}
		}
	}
	return out
}

// buildPostFilter compiles property filters. Filters for properties absent
// from every selected template are dropped.
func buildPostFilter(filters map[string]FilterSpec, props map[string]model.Property) *engine.BoolQuery {
	if len(filters) == 0 {
		return nil
	}
	b := &engine.BoolQuery{}
	for name, spec := range filters {
		prop, ok := props[name]
		if !ok {
			continue
		}
		appendPropertyFilter(b, prop, spec)
	}
	if b.Empty() {
		return nil
	}
	return b
}

func appendPropertyFilter(b *engine.BoolQuery, prop model.Property, spec FilterSpec) {
	switch prop.Type {
	case model.PropertySelect, model.PropertyMultiSelect, model.PropertyRelationship:
		field := metadataField(prop.Name, "value")
		if spec.And {
			// Multi-value containment: one clause per value, all required.
			for _, v := range spec.Values {
				b.Filter = append(b.Filter, engine.Clause{Term: &engine.TermClause{Field: field, Value: v}})
			}
		} else if len(spec.Values) > 0 {
			b.Filter = append(b.Filter, engine.Clause{Terms: &engine.TermsClause{Field: field, Values: spec.Values}})
		}

	case model.PropertyNumeric, model.PropertyDate, model.PropertyMultiDate:
		if spec.From != nil || spec.To != nil {
			b.Filter = append(b.Filter, engine.Clause{Range: &engine.RangeClause{
				Field: metadataField(prop.Name, "value"),
				From:  spec.From,
				To:    spec.To,
			}})
		}

	case model.PropertyDateRange, model.PropertyMultiDateRange:
		if spec.From != nil || spec.To != nil {
			// Stored {from, to} pairs match on overlap with the requested
			// range.
			b.Filter = append(b.Filter, engine.Clause{Range: &engine.RangeClause{
				Field: "metadata." + prop.Name,
				From:  spec.From,
				To:    spec.To,
			}})
		}

	case model.PropertyNested:
		if len(spec.Nested) == 0 {
			return
		}
		nested := engine.BoolQuery{}
		for sub, values := range spec.Nested {
			if len(values) == 0 {
				continue
			}
			nested.Filter = append(nested.Filter, engine.Clause{Terms: &engine.TermsClause{
				Field:  metadataField(prop.Name, sub),
				Values: values,
			}})
		}
		if !nested.Empty() {
			b.Filter = append(b.Filter, engine.Clause{Nested: &engine.NestedClause{
				Path:  "metadata." + prop.Name,
				Query: nested,
			}})
		}
	}
}

// addAggregations registers one terms aggregation per filterable facet
// property. Each aggregation is filtered by every other property's active
// filter so its buckets carry the "how many more results would this option
// add" count next to the global one.
func addAggregations(out *engine.Query, filters map[string]FilterSpec, props map[string]model.Property) {
	for name, prop := range props {
		if !prop.Filter {
			continue
		}
		switch prop.Type {
		case model.PropertySelect, model.PropertyMultiSelect, model.PropertyRelationship:
			out.Aggregations[name] = engine.TermsAggregation{
				Field:      metadataField(name, "value"),
				Size:       aggregationSize,
				FilteredBy: filtersExcept(filters, props, name),
			}
		case model.PropertyNested:
			for _, sub := range prop.NestedProperties {
				out.Aggregations[fmt.Sprintf("%s.%s", name, sub.Name)] = engine.TermsAggregation{
					Field:      metadataField(name, sub.Name),
					NestedPath: "metadata." + name,
					Size:       aggregationSize,
					FilteredBy: filtersExcept(filters, props, name),
				}
			}
		}
		// Geolocation and date properties never produce facets.
	}
}

// filtersExcept compiles every active filter except the named property's own.
func filtersExcept(filters map[string]FilterSpec, props map[string]model.Property, except string) *engine.BoolQuery {
	b := &engine.BoolQuery{}
	for name, spec := range filters {
		if name == except {
			continue
		}
		prop, ok := props[name]
		if !ok {
			continue
		}
		appendPropertyFilter(b, prop, spec)
	}
	if b.Empty() {
		return nil
	}
	return b
}

// buildSort maps the requested sort to the field's keyword sub-field.
// Unknown sort fields fall back to relevance rather than failing.
func buildSort(q UIQuery, props map[string]model.Property) []engine.SortSpec {
	desc := strings.EqualFold(q.Order, "desc")

	switch q.Sort {
	case "", "_score":
		return []engine.SortSpec{{ByScore: true, Desc: true}}
	case "title":
		return []engine.SortSpec{{Field: "title.sort", Desc: desc}}
	case "creationDate", "editDate":
		return []engine.SortSpec{{Field: q.Sort, Desc: desc}}
	}

	name := strings.TrimPrefix(q.Sort, "metadata.")
	prop, ok := props[name]
	if !ok {
		return []engine.SortSpec{{ByScore: true, Desc: true}}
	}

	var field string
	switch prop.Type {
	case model.PropertyText, model.PropertyMarkdown:
		field = metadataField(name, "value") + ".sort"
	case model.PropertySelect, model.PropertyMultiSelect, model.PropertyRelationship:
		field = metadataField(name, "label") + ".sort"
	case model.PropertyNumeric, model.PropertyDate, model.PropertyMultiDate:
		field = metadataField(name, "value")
	case model.PropertyDateRange, model.PropertyMultiDateRange:
		field = metadataField(name, "from")
	default:
		return []engine.SortSpec{{ByScore: true, Desc: true}}
	}
	return []engine.SortSpec{{Field: field, Desc: desc}}
}

// geolocationFields projects results down to the fields the map view needs.
func geolocationFields(templates []model.Template) []string {
	fields := []string{"sharedId", "language", "template", "title"}
	seen := make(map[string]bool)
	for _, t := range templates {
		for _, p := range t.Properties {
			if p.Type != model.PropertyGeolocation {
				continue
			}
			field := "metadata." + p.Name
			if !seen[field] {
				seen[field] = true
				fields = append(fields, field)
			}
		}
	}
	return fields
}

func metadataField(name, sub string) string {
	return "metadata." + name + "." + sub
}
