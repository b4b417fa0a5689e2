package roots

import (
	"errors"
	"fmt"
)

// SerializerExtensionService is the service name plugins publish
// SerializerExtension implementations under.
const SerializerExtensionService = "github.com/platinummonkey/sourceroots/pkg/roots.SerializerExtension"

// ErrMalformedProperties is returned when a serialized properties blob cannot be decoded
var ErrMalformedProperties = errors.New("malformed source root properties")

// RootType identifies the kind of a source folder. Unknown types are
// placeholders for types whose serializer is not currently registered.
type RootType struct {
	id       string
	forTests bool
	unknown  bool
}

// NewType returns the concrete type with the given id
func NewType(id string, forTests bool) RootType {
	return RootType{id: id, forTests: forTests}
}

// Unknown returns the placeholder type standing in for id
func Unknown(id string, forTests bool) RootType {
	return RootType{id: id, forTests: forTests, unknown: true}
}

// TypeID returns the type id. For placeholders this is the id of the type
// they stand in for.
func (t RootType) TypeID() string {
	return t.id
}

// IsForTests reports whether folders of this type hold test sources
func (t RootType) IsForTests() bool {
	return t.forTests
}

// IsUnknown reports whether t is a placeholder
func (t RootType) IsUnknown() bool {
	return t.unknown
}

func (t RootType) String() string {
	if t.unknown {
		return fmt.Sprintf("unknown(%s)", t.id)
	}
	return t.id
}

// UnknownProperties is the payload of a placeholder folder: the properties of
// the original type, as serialized by that type's serializer.
type UnknownProperties struct {
	Data []byte
}

// Serializer reads and writes the persisted properties of one root type.
type Serializer interface {
	TypeID() string
	Type() RootType
	IsTestType() bool
	DefaultProperties() any
	// LoadProperties decodes blob. Malformed input fails with an error
	// wrapping ErrMalformedProperties.
	LoadProperties(blob []byte) (any, error)
	SaveProperties(props any) ([]byte, error)
}

// SerializerExtension is the service plugins implement to contribute root types.
type SerializerExtension interface {
	SourceRootSerializers() []Serializer
}

// SerializerKey indexes serializers by type id
func SerializerKey(s Serializer) string {
	return s.TypeID()
}

// ExtensionSerializers lists the serializers of one extension
func ExtensionSerializers(ext SerializerExtension) []Serializer {
	return ext.SourceRootSerializers()
}
