package models

import (
	"fmt"
	"slices"
	"strconv"
)

// Custom field types.
const (
	CustomFieldText   = "text"
	CustomFieldInt    = "int"
	CustomFieldBool   = "bool"
	CustomFieldSelect = "select"
)

// CustomFieldSpec is one configured custom field.
type CustomFieldSpec struct {
	Key      string   `mapstructure:"key" yaml:"key" json:"key"`
	Name     string   `mapstructure:"name" yaml:"name" json:"name"`
	Type     string   `mapstructure:"type" yaml:"type" json:"type"`
	Options  []string `mapstructure:"options" yaml:"options,omitempty" json:"options,omitempty"`
	Default  string   `mapstructure:"default" yaml:"default,omitempty" json:"default,omitempty"`
	Required bool     `mapstructure:"required" yaml:"required,omitempty" json:"required,omitempty"`
}

// Validate checks a raw value against the field type.
func (s CustomFieldSpec) Validate(value string) error {
	if value == "" {
		if s.Required {
			return fmt.Errorf("custom field %s is required", s.Key)
		}
		return nil
	}
	switch s.Type {
	case CustomFieldInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fmt.Errorf("custom field %s: %q is not an integer", s.Key, value)
		}
	case CustomFieldBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("custom field %s: %q is not a boolean", s.Key, value)
		}
	case CustomFieldSelect:
		if !slices.Contains(s.Options, value) {
			return fmt.Errorf("custom field %s: %q is not one of %v", s.Key, value, s.Options)
		}
	case CustomFieldText, "":
	default:
		return fmt.Errorf("custom field %s has unknown type %q", s.Key, s.Type)
	}
	return nil
}

// CustomFieldAttachment is the set of custom field specs and stored values
// loaded for one object.
type CustomFieldAttachment struct {
	Specs  []CustomFieldSpec
	Values map[string]string
}

// Spec returns the spec for key.
func (a *CustomFieldAttachment) Spec(key string) (CustomFieldSpec, bool) {
	for _, s := range a.Specs {
		if s.Key == key {
			return s, true
		}
	}
	return CustomFieldSpec{}, false
}

// Value returns the stored value for key, or the field default.
func (a *CustomFieldAttachment) Value(key string) string {
	if v, ok := a.Values[key]; ok {
		return v
	}
	if s, ok := a.Spec(key); ok {
		return s.Default
	}
	return ""
}
