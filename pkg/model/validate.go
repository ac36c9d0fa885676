package model

import (
	"errors"
	"fmt"
)

// ValidationRule is one named, independently testable template check.
type ValidationRule struct {
	Name  string
	Check func(*Template) error
}

// TemplateRules returns the rules every template must satisfy before its
// mapping is applied.
func TemplateRules() []ValidationRule {
	return []ValidationRule{
		{Name: "unique-property-names", Check: checkUniquePropertyNames},
		{Name: "content-required-for-select", Check: checkContentForSelect},
		{Name: "relation-type-required-for-inherit", Check: checkRelationTypeForInherit},
		{Name: "inherit-property-required", Check: checkInheritProperty},
		{Name: "nested-sub-properties", Check: checkNestedSubProperties},
	}
}

// ValidateTemplate runs all template rules and joins their failures.
func ValidateTemplate(t *Template) error {
	var errs []error
	for _, rule := range TemplateRules() {
		if err := rule.Check(t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rule.Name, err))
		}
	}
	return errors.Join(errs...)
}

func checkUniquePropertyNames(t *Template) error {
	seen := make(map[string]bool, len(t.Properties))
	for _, p := range t.Properties {
		if seen[p.Name] {
			return fmt.Errorf("duplicate property name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

func checkContentForSelect(t *Template) error {
	for _, p := range t.Properties {
		if p.IsSelect() && p.Content == "" {
			return fmt.Errorf("property %q requires a thesaurus reference", p.Name)
		}
	}
	return nil
}

func checkRelationTypeForInherit(t *Template) error {
	for _, p := range t.Properties {
		if p.Type == PropertyRelationship && p.Inherit && p.RelationType == "" {
			return fmt.Errorf("inheriting relationship %q requires a relation type", p.Name)
		}
	}
	return nil
}

func checkInheritProperty(t *Template) error {
	for _, p := range t.Properties {
		if p.Type == PropertyRelationship && p.Inherit && p.InheritProperty == "" {
			return fmt.Errorf("inheriting relationship %q requires an inherit property", p.Name)
		}
	}
	return nil
}

func checkNestedSubProperties(t *Template) error {
	for _, p := range t.Properties {
		if p.Type != PropertyNested {
			continue
		}
		if len(p.NestedProperties) == 0 {
			return fmt.Errorf("nested property %q declares no sub-properties", p.Name)
		}
		for _, sub := range p.NestedProperties {
			if sub.Type == PropertyNested {
				return fmt.Errorf("nested property %q nests deeper than one level", p.Name)
			}
		}
	}
	return nil
}
