package roots

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAMLSerializer stores properties of type P as a YAML document.
type YAMLSerializer[P any] struct {
	rootType RootType
	defaults func() P
}

// NewYAMLSerializer creates a serializer for the concrete type id. defaults
// builds the properties of a freshly created folder; nil means the zero P.
func NewYAMLSerializer[P any](id string, forTests bool, defaults func() P) *YAMLSerializer[P] {
	if defaults == nil {
		defaults = func() P {
			var zero P
			return zero
		}
	}

	return &YAMLSerializer[P]{
		rootType: NewType(id, forTests),
		defaults: defaults,
	}
}

func (s *YAMLSerializer[P]) TypeID() string {
	return s.rootType.TypeID()
}

func (s *YAMLSerializer[P]) Type() RootType {
	return s.rootType
}

func (s *YAMLSerializer[P]) IsTestType() bool {
	return s.rootType.IsForTests()
}

func (s *YAMLSerializer[P]) DefaultProperties() any {
	return s.defaults()
}

// LoadProperties decodes blob into a P
func (s *YAMLSerializer[P]) LoadProperties(blob []byte) (any, error) {
	props := s.defaults()

	dec := yaml.NewDecoder(bytes.NewReader(blob))
	dec.KnownFields(true)
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedProperties, s.TypeID(), err)
	}

	return props, nil
}

// SaveProperties encodes props, which must be a P or *P
func (s *YAMLSerializer[P]) SaveProperties(props any) ([]byte, error) {
	var value P
	switch p := props.(type) {
	case P:
		value = p
	case *P:
		if p == nil {
			return nil, fmt.Errorf("cannot save nil properties for %s", s.TypeID())
		}
		value = *p
	default:
		return nil, fmt.Errorf("unexpected properties %T for %s", props, s.TypeID())
	}

	data, err := yaml.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties for %s: %w", s.TypeID(), err)
	}

	return data, nil
}

// Extension is a SerializerExtension over a fixed serializer list.
type Extension []Serializer

func (e Extension) SourceRootSerializers() []Serializer {
	return e
}
