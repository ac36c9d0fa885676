package transform

import "fmt"

// SearchDocument is the flattened projection of one entity variant. It holds
// no identity of its own: it mirrors the entity id and is fully rebuildable
// from source records.
type SearchDocument struct {
	ID           string
	SharedID     string
	Language     string
	Template     string
	Title        string
	Published    bool
	CreationDate int64
	EditDate     int64

	// Metadata holds one entry per declared template property, in the
	// element shapes pkg/mapping maps: {value, label} pairs, {from, to}
	// ranges, {lat, lon} points, or nested sub-key maps.
	Metadata map[string][]map[string]any
}

// Source returns the document body sent to the engine.
func (d *SearchDocument) Source() map[string]any {
	metadata := make(map[string]any, len(d.Metadata))
	for name, elements := range d.Metadata {
		arr := make([]any, 0, len(elements))
		for _, el := range elements {
			arr = append(arr, el)
		}
		metadata[name] = arr
	}

	return map[string]any{
		"sharedId":     d.SharedID,
		"language":     d.Language,
		"template":     d.Template,
		"title":        d.Title,
		"published":    d.Published,
		"creationDate": d.CreationDate,
		"editDate":     d.EditDate,
		"metadata":     metadata,
		"joinField":    map[string]any{"name": "entity"},
	}
}

// ChunkDocument is one fullText child document, routed to its parent entity.
type ChunkDocument struct {
	ID     string
	Parent string
	Page   int
	Text   string
}

// Source returns the child document body.
func (c *ChunkDocument) Source() map[string]any {
	return map[string]any{
		"fullText": c.Text,
		"page":     c.Page,
		"joinField": map[string]any{
			"name":   "fullText",
			"parent": c.Parent,
		},
	}
}

func chunkID(entityID string, page int) string {
	return fmt.Sprintf("%s_fulltext_%d", entityID, page)
}
