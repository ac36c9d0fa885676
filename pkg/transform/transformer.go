package transform

import (
	"github.com/calderas/lattice/pkg/model"
)

// Input carries everything ToSearchDocument needs, pre-resolved by the
// caller. RelatedEntities holds every language variant of every entity the
// transformed entity references; Thesauri is keyed by thesaurus id.
type Input struct {
	Entity   model.Entity
	Template model.Template

	RelatedEntities  []model.Entity
	RelatedTemplates map[string]model.Template
	Thesauri         map[string]model.Thesaurus
	Chunks           []model.TextChunk

	DefaultLanguage string
}

// elementBuilder converts one stored metadata value into its index element
// shape.
type elementBuilder func(in Input, p model.Property, v model.MetadataValue) map[string]any

// elementBuilders dispatches on property type; unknown types fall through to
// plainElement, matching the mapper's generic-field policy.
var elementBuilders map[model.PropertyType]elementBuilder

func init() {
	elementBuilders = map[model.PropertyType]elementBuilder{
		model.PropertyText:           plainElement,
		model.PropertyMarkdown:       plainElement,
		model.PropertyLink:           plainElement,
		model.PropertySelect:         selectElement,
		model.PropertyMultiSelect:    selectElement,
		model.PropertyRelationship:   relationshipElement,
		model.PropertyDate:           dateElement,
		model.PropertyMultiDate:      dateElement,
		model.PropertyDateRange:      rangeElement,
		model.PropertyMultiDateRange: rangeElement,
		model.PropertyNumeric:        plainElement,
		model.PropertyGeolocation:    geolocationElement,
		model.PropertyNested:         nestedElement,
	}
}

// ToSearchDocument flattens one entity variant into its search document and
// fullText child documents. The output carries exactly one metadata entry
// per declared template property; properties without stored values map to an
// empty element list.
func ToSearchDocument(in Input) (*SearchDocument, []ChunkDocument) {
	doc := &SearchDocument{
		ID:           in.Entity.ID,
		SharedID:     in.Entity.SharedID,
		Language:     in.Entity.Language,
		Template:     in.Entity.Template,
		Title:        in.Entity.Title,
		Published:    in.Entity.Published,
		CreationDate: in.Entity.CreationDate,
		EditDate:     in.Entity.EditDate,
		Metadata:     make(map[string][]map[string]any, len(in.Template.Properties)),
	}

	for _, p := range in.Template.Properties {
		builder, ok := elementBuilders[p.Type]
		if !ok {
			builder = plainElement
		}

		values := in.Entity.Metadata[p.Name]
		elements := make([]map[string]any, 0, len(values))
		for _, v := range values {
			if el := builder(in, p, v); el != nil {
				elements = append(elements, el)
			}
		}
		doc.Metadata[p.Name] = elements
	}

	var chunks []ChunkDocument
	for _, chunk := range in.Chunks {
		chunks = append(chunks, ChunkDocument{
			ID:     chunkID(in.Entity.ID, chunk.Page),
			Parent: in.Entity.ID,
			Page:   chunk.Page,
			Text:   chunk.Text,
		})
	}

	return doc, chunks
}

func plainElement(_ Input, _ model.Property, v model.MetadataValue) map[string]any {
	el := map[string]any{"value": v.Value}
	if v.Label != "" {
		el["label"] = v.Label
	}
	return el
}

// selectElement resolves the thesaurus label in the entity's language. A
// failed lookup keeps the value and emits an empty label rather than failing
// the transform.
func selectElement(in Input, p model.Property, v model.MetadataValue) map[string]any {
	id, _ := v.Value.(string)
	label := ""
	if thes, ok := in.Thesauri[p.Content]; ok {
		if resolved, ok := thes.LabelIn(in.Entity.Language, id); ok {
			label = resolved
		}
	}
	return map[string]any{"value": v.Value, "label": label}
}

// relationshipElement denormalizes the referenced entity's title as the
// label and, for inheriting properties, embeds a copy of the referenced
// entity's inherit property values. A dangling reference keeps the stored
// value and embeds nothing.
func relationshipElement(in Input, p model.Property, v model.MetadataValue) map[string]any {
	sharedID, _ := v.Value.(string)
	related, found := resolveRelated(in, sharedID)

	el := map[string]any{"value": v.Value, "label": v.Label}
	if found {
		el["label"] = related.Title
	}

	if !p.Inherit || !found {
		return el
	}

	inheritedProp := model.Property{Name: p.InheritProperty, Type: model.PropertyText}
	if tmpl, ok := in.RelatedTemplates[related.Template]; ok {
		if declared := tmpl.Property(p.InheritProperty); declared != nil {
			inheritedProp = *declared
		}
	}
	builder, ok := elementBuilders[inheritedProp.Type]
	if !ok || inheritedProp.Type == model.PropertyRelationship {
		// Inheriting through a second relationship hop is not expanded;
		// the raw value is kept.
		builder = plainElement
	}

	relatedIn := in
	relatedIn.Entity = related
	var inherited []any
	for _, rv := range related.Metadata[p.InheritProperty] {
		if inheritedEl := builder(relatedIn, inheritedProp, rv); inheritedEl != nil {
			inherited = append(inherited, inheritedEl)
		}
	}
	if len(inherited) > 0 {
		el["inherited"] = inherited
	}
	return el
}

// resolveRelated finds the referenced entity variant matching the
// transformed entity's language, falling back to the default language, else
// reporting a dangling reference.
func resolveRelated(in Input, sharedID string) (model.Entity, bool) {
	var fallback model.Entity
	haveFallback := false
	for _, e := range in.RelatedEntities {
		if e.SharedID != sharedID {
			continue
		}
		if e.Language == in.Entity.Language {
			return e, true
		}
		if e.Language == in.DefaultLanguage {
			fallback = e
			haveFallback = true
		}
	}
	return fallback, haveFallback
}

func dateElement(_ Input, _ model.Property, v model.MetadataValue) map[string]any {
	return map[string]any{"value": v.Value}
}

func rangeElement(_ Input, _ model.Property, v model.MetadataValue) map[string]any {
	el := map[string]any{}
	if v.From != nil {
		el["from"] = *v.From
	}
	if v.To != nil {
		el["to"] = *v.To
	}
	if len(el) == 0 {
		return nil
	}
	return el
}

func geolocationElement(_ Input, _ model.Property, v model.MetadataValue) map[string]any {
	if v.Lat == nil || v.Lon == nil {
		return nil
	}
	el := map[string]any{"lat": *v.Lat, "lon": *v.Lon}
	if v.Label != "" {
		el["label"] = v.Label
	}
	return el
}

func nestedElement(_ Input, _ model.Property, v model.MetadataValue) map[string]any {
	if len(v.Nested) == 0 {
		return nil
	}
	el := make(map[string]any, len(v.Nested))
	for key, values := range v.Nested {
		arr := make([]any, 0, len(values))
		for _, s := range values {
			arr = append(arr, s)
		}
		el[key] = arr
	}
	return el
}
