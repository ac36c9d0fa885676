package model

// PropertyType identifies the value shape of a template property.
type PropertyType string

// Known property types. Unknown types are tolerated throughout the core and
// map to a generic unanalyzed field (see pkg/mapping).
const (
	PropertyText           PropertyType = "text"
	PropertyMarkdown       PropertyType = "markdown"
	PropertySelect         PropertyType = "select"
	PropertyMultiSelect    PropertyType = "multiselect"
	PropertyRelationship   PropertyType = "relationship"
	PropertyDate           PropertyType = "date"
	PropertyMultiDate      PropertyType = "multidate"
	PropertyDateRange      PropertyType = "daterange"
	PropertyMultiDateRange PropertyType = "multidaterange"
	PropertyNumeric        PropertyType = "numeric"
	PropertyGeolocation    PropertyType = "geolocation"
	PropertyLink           PropertyType = "link"
	PropertyNested         PropertyType = "nested"
)

// Property defines one field of a template.
type Property struct {
	Name  string       `json:"name"`
	Type  PropertyType `json:"type"`
	Label string       `json:"label"`

	// Content references a thesaurus (select/multiselect) or a template
	// (relationship) by id.
	Content string `json:"content,omitempty"`

	// RelationType is the connection type a relationship property traverses.
	RelationType string `json:"relationType,omitempty"`

	// Inherit marks a relationship property that embeds a cached copy of
	// InheritProperty's value from the referenced entity.
	Inherit         bool   `json:"inherit,omitempty"`
	InheritProperty string `json:"inheritProperty,omitempty"`

	// Filter marks the property as facetable in the UI.
	Filter bool `json:"filter,omitempty"`

	// NestedProperties describes the sub-fields of a nested property, one
	// level deep.
	NestedProperties []Property `json:"nestedProperties,omitempty"`
}

// IsSelect reports whether the property resolves its values against a
// thesaurus.
func (p Property) IsSelect() bool {
	return p.Type == PropertySelect || p.Type == PropertyMultiSelect
}

// IsRange reports whether the property carries {from, to} pairs.
func (p Property) IsRange() bool {
	return p.Type == PropertyDateRange || p.Type == PropertyMultiDateRange
}

// Template defines an entity type: an ordered list of properties plus the
// common properties every entity carries (title, creation date).
type Template struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties"`

	// CommonProperties declares the template-independent fields. Their
	// values come from the fixed Entity fields (Title, CreationDate,
	// EditDate), not from Metadata; pkg/mapping maps any declaration
	// beyond that fixed set as a typed top-level index field.
	CommonProperties []Property `json:"commonProperties,omitempty"`
}

// Property returns the named property, or nil when the template does not
// declare it.
func (t *Template) Property(name string) *Property {
	for i := range t.Properties {
		if t.Properties[i].Name == name {
			return &t.Properties[i]
		}
	}
	return nil
}

// HasGeolocation reports whether the template declares at least one
// geolocation property.
func (t *Template) HasGeolocation() bool {
	for _, p := range t.Properties {
		if p.Type == PropertyGeolocation {
			return true
		}
	}
	return false
}

// InheritingProperties returns the relationship properties that embed values
// from referenced entities.
func (t *Template) InheritingProperties() []Property {
	var out []Property
	for _, p := range t.Properties {
		if p.Type == PropertyRelationship && p.Inherit {
			out = append(out, p)
		}
	}
	return out
}

// ThesaurusValue is one selectable option of a thesaurus. Group options carry
// their children in Values, one level deep.
type ThesaurusValue struct {
	ID     string           `json:"id"`
	Label  string           `json:"label"`
	Values []ThesaurusValue `json:"values,omitempty"`
}

// Thesaurus is a controlled vocabulary referenced by select/multiselect
// properties. Translations maps language key to value id to localized label.
type Thesaurus struct {
	ID           string                       `json:"id"`
	Name         string                       `json:"name"`
	Values       []ThesaurusValue             `json:"values"`
	Translations map[string]map[string]string `json:"translations,omitempty"`
}

// LabelIn resolves a value id to its label in the given language, falling
// back to the base label when no translation exists. The second return is
// false when the id is not part of the thesaurus at all.
func (t *Thesaurus) LabelIn(language, id string) (string, bool) {
	base, ok := t.findBase(t.Values, id)
	if !ok {
		return "", false
	}
	if langLabels, ok := t.Translations[language]; ok {
		if label, ok := langLabels[id]; ok {
			return label, true
		}
	}
	return base, true
}

func (t *Thesaurus) findBase(values []ThesaurusValue, id string) (string, bool) {
	for _, v := range values {
		if v.ID == id {
			return v.Label, true
		}
		if label, ok := t.findBase(v.Values, id); ok {
			return label, true
		}
	}
	return "", false
}

// FlatValues returns the thesaurus options in declared order, with group
// children expanded in place.
func (t *Thesaurus) FlatValues() []ThesaurusValue {
	var out []ThesaurusValue
	var walk func([]ThesaurusValue)
	walk = func(values []ThesaurusValue) {
		for _, v := range values {
			if len(v.Values) > 0 {
				walk(v.Values)
				continue
			}
			out = append(out, v)
		}
	}
	walk(t.Values)
	return out
}

// MetadataValue is one stored value of an entity property. It is a tagged
// union over the property type table: plain scalars use Value/Label, date
// ranges use From/To, geolocation uses Lat/Lon, nested values use Nested, and
// inheriting relationship values additionally carry the denormalized copy of
// the referenced entity's inherited property in InheritedValues.
type MetadataValue struct {
	Value any    `json:"value,omitempty"`
	Label string `json:"label,omitempty"`

	From *int64 `json:"from,omitempty"`
	To   *int64 `json:"to,omitempty"`

	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`

	Nested map[string][]string `json:"nested,omitempty"`

	// InheritedValues is a derived cache of the referenced entity's
	// inheritProperty values at indexing time. It is never the only place a
	// value is stored; pkg/propagate invalidates it.
	InheritedValues []MetadataValue `json:"inheritedValues,omitempty"`
	InheritedType   PropertyType    `json:"inheritedType,omitempty"`
}

// Entity is one language variant of a logical document. Variants share a
// SharedID; exactly one variant exists per configured language.
type Entity struct {
	ID           string                     `json:"id"`
	SharedID     string                     `json:"sharedId"`
	Language     string                     `json:"language"`
	Template     string                     `json:"template"`
	Title        string                     `json:"title"`
	Published    bool                       `json:"published"`
	CreationDate int64                      `json:"creationDate"`
	EditDate     int64                      `json:"editDate,omitempty"`
	Metadata     map[string][]MetadataValue `json:"metadata,omitempty"`

	// File is the id of the uploaded document whose extracted text chunks
	// become the entity's fullText children, when present.
	File string `json:"file,omitempty"`
}

// EntityRef identifies one entity variant for reindex worklists.
type EntityRef struct {
	SharedID string `json:"sharedId"`
	Language string `json:"language"`
}

// SelectionRectangle anchors a text reference to a region of a document page.
type SelectionRectangle struct {
	Page   int     `json:"page"`
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextReference scopes a connection to a text selection inside a document.
type TextReference struct {
	Text                string               `json:"text,omitempty"`
	SelectionRectangles []SelectionRectangle `json:"selectionRectangles,omitempty"`
}

// Connection is a relationship edge between entities. Connections sharing a
// Hub belong to the same relationship group; edges are treated as
// bidirectional for propagation purposes.
type Connection struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"` // sharedId of the connected entity
	Hub      string `json:"hub"`
	Template string `json:"template,omitempty"` // relation type id

	Reference *TextReference `json:"reference,omitempty"`
}

// TextChunk is one page of extracted document text, used to build fullText
// child documents.
type TextChunk struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// Language is one configured content language.
type Language struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Default bool   `json:"default,omitempty"`
}

// Settings holds the installation-wide configuration the core needs: the
// language set and the default language. It is always passed explicitly,
// never read from ambient state.
type Settings struct {
	Languages []Language `json:"languages"`
}

// DefaultLanguage returns the configured default language, or the first
// language when none is flagged.
func (s Settings) DefaultLanguage() string {
	for _, l := range s.Languages {
		if l.Default {
			return l.Key
		}
	}
	if len(s.Languages) > 0 {
		return s.Languages[0].Key
	}
	return ""
}

// HasLanguage reports whether key is part of the configured language set.
func (s Settings) HasLanguage(key string) bool {
	for _, l := range s.Languages {
		if l.Key == key {
			return true
		}
	}
	return false
}

// LanguageKeys returns the configured language keys in order.
func (s Settings) LanguageKeys() []string {
	keys := make([]string, 0, len(s.Languages))
	for _, l := range s.Languages {
		keys = append(keys, l.Key)
	}
	return keys
}

// Role is a user's access level.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleEditor       Role = "editor"
	RoleCollaborator Role = "collaborator"
)

// User is the requesting user of a search. A nil *User means anonymous.
type User struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// CanSeeUnpublished reports whether the user may see unpublished entities.
func (u *User) CanSeeUnpublished() bool {
	if u == nil {
		return false
	}
	return u.Role == RoleAdmin || u.Role == RoleEditor
}
