package mapping

import (
	"github.com/calderas/lattice/pkg/model"
)

// fieldBuilder returns the mapping object for one metadata property.
type fieldBuilder func(p model.Property) map[string]any

// fieldBuilders dispatches on property type. Unknown types fall through to
// genericField: new property types degrade to an unanalyzed keyword field
// instead of failing the mapping. That is explicit forward-compatibility
// policy, not an accident.
var fieldBuilders = map[model.PropertyType]fieldBuilder{
	model.PropertyText:           textField,
	model.PropertyMarkdown:       textField,
	model.PropertySelect:         keywordPairField,
	model.PropertyMultiSelect:    keywordPairField,
	model.PropertyRelationship:   relationshipField,
	model.PropertyDate:           dateField,
	model.PropertyMultiDate:      dateField,
	model.PropertyDateRange:      dateRangeField,
	model.PropertyMultiDateRange: dateRangeField,
	model.PropertyNumeric:        numericField,
	model.PropertyGeolocation:    geolocationField,
	model.PropertyLink:           linkField,
	model.PropertyNested:         nestedField,
}

// baseFields are the top-level fields BaseMapping already covers. Common
// property declarations reusing these names never override the base mapping.
var baseFields = map[string]bool{
	"sharedId":     true,
	"language":     true,
	"template":     true,
	"published":    true,
	"title":        true,
	"creationDate": true,
	"editDate":     true,
	"fullText":     true,
	"joinField":    true,
}

// BuildMapping returns the per-template mapping fragment for the shared
// entity index. Applying the same template twice yields an identical
// fragment. Common properties beyond the base field set map at the top
// level, next to title and creationDate.
func BuildMapping(t *model.Template) map[string]any {
	metadata := make(map[string]any, len(t.Properties))
	for _, p := range t.Properties {
		metadata[p.Name] = buildField(p)
	}

	top := map[string]any{
		"metadata": map[string]any{
			"properties": metadata,
		},
	}
	for _, p := range t.CommonProperties {
		if baseFields[p.Name] {
			continue
		}
		top[p.Name] = buildField(p)
	}

	return map[string]any{
		"properties": top,
	}
}

func buildField(p model.Property) map[string]any {
	builder, ok := fieldBuilders[p.Type]
	if !ok {
		builder = genericField
	}
	return builder(p)
}

// BaseMapping returns the fixed top-level fields every entity document
// carries, independent of template.
func BaseMapping() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"sharedId": map[string]any{"type": "keyword"},
			"language": map[string]any{"type": "keyword"},
			"template": map[string]any{"type": "keyword"},
			"published": map[string]any{
				"type": "boolean",
			},
			"title": map[string]any{
				"type": "text",
				"fields": map[string]any{
					"raw":  map[string]any{"type": "keyword"},
					"sort": map[string]any{"type": "keyword", "normalizer": "lowercase"},
				},
			},
			"creationDate": map[string]any{"type": "date", "format": "epoch_millis"},
			"editDate":     map[string]any{"type": "date", "format": "epoch_millis"},
			"fullText":     map[string]any{"type": "text"},
			"joinField": map[string]any{
				"type":      "join",
				"relations": map[string]any{"entity": "fullText"},
			},
		},
	}
}

func textField(model.Property) map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"value": map[string]any{
				"type": "text",
				"fields": map[string]any{
					"raw":  map[string]any{"type": "keyword"},
					"sort": map[string]any{"type": "keyword", "normalizer": "lowercase"},
				},
			},
		},
	}
}

func keywordPairField(model.Property) map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"value": map[string]any{"type": "keyword"},
			"label": map[string]any{
				"type": "keyword",
				"fields": map[string]any{
					"sort": map[string]any{"type": "keyword", "normalizer": "lowercase"},
				},
			},
		},
	}
}

func relationshipField(p model.Property) map[string]any {
	field := keywordPairField(p)
	if p.Inherit {
		props := field["properties"].(map[string]any)
		props["inherited"] = map[string]any{
			"properties": map[string]any{
				"value": map[string]any{"type": "keyword"},
				"label": map[string]any{"type": "keyword"},
			},
		}
	}
	return field
}

func dateField(model.Property) map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"value": map[string]any{"type": "date", "format": "epoch_millis"},
		},
	}
}

func dateRangeField(model.Property) map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"from": map[string]any{"type": "date", "format": "epoch_millis"},
			"to":   map[string]any{"type": "date", "format": "epoch_millis"},
		},
	}
}

func numericField(model.Property) map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"value": map[string]any{"type": "double"},
		},
	}
}

func geolocationField(model.Property) map[string]any {
	return map[string]any{"type": "geo_point"}
}

func linkField(model.Property) map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"value": map[string]any{"type": "keyword"},
			"label": map[string]any{"type": "text"},
		},
	}
}

func nestedField(p model.Property) map[string]any {
	sub := make(map[string]any, len(p.NestedProperties))
	for _, sp := range p.NestedProperties {
		sub[sp.Name] = nestedSubField(sp)
	}
	return map[string]any{
		"type":       "nested",
		"properties": sub,
	}
}

// nestedSubField maps a nested sub-property with the scalar variant of the
// type table: nested values store bare scalars per sub-key, not {value,
// label} pairs.
func nestedSubField(p model.Property) map[string]any {
	switch p.Type {
	case model.PropertyText, model.PropertyMarkdown:
		return map[string]any{
			"type":   "text",
			"fields": map[string]any{"raw": map[string]any{"type": "keyword"}},
		}
	case model.PropertyDate, model.PropertyMultiDate:
		return map[string]any{"type": "date", "format": "epoch_millis"}
	case model.PropertyNumeric:
		return map[string]any{"type": "double"}
	default:
		return map[string]any{"type": "keyword"}
	}
}

func genericField(model.Property) map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"value": map[string]any{"type": "keyword"},
		},
	}
}
