package services

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithParent(t *testing.T) {
	classes := newTestClasses(t)
	parent := NewFSLoader("core", fstest.MapFS{
		ResourceName(testService): {Data: []byte("example.com/app.English\n")},
	}, classes)
	child := NewFSLoader("plugin", fstest.MapFS{
		ResourceName(testService): {Data: []byte("example.com/app.French\n")},
	}, classes)

	t.Run("nil parent returns child", func(t *testing.T) {
		assert.Same(t, child, WithParent(child, nil))
	})

	t.Run("parent resources come first", func(t *testing.T) {
		loader := WithParent(child, parent)
		assert.Equal(t, "plugin", loader.ID())

		resources, err := loader.Resources(ResourceName(testService))
		require.NoError(t, err)
		require.Len(t, resources, 2)
		assert.Equal(t, "core!/"+ResourceName(testService), resources[0].Location())
		assert.Equal(t, "plugin!/"+ResourceName(testService), resources[1].Location())
	})

	t.Run("two children share the parent resource once", func(t *testing.T) {
		other := NewFSLoader("other", fstest.MapFS{}, classes)
		instances, err := LoadAs[greeter]([]ClassLoader{
			WithParent(child, parent),
			WithParent(other, parent),
		}, testService)
		require.NoError(t, err)

		var greetings []string
		for _, g := range instances {
			greetings = append(greetings, g.Greet())
		}
		assert.Equal(t, []string{"hello", "bonjour"}, greetings)
	})

	t.Run("child classes resolve when parent lacks them", func(t *testing.T) {
		own := NewClassTable()
		require.NoError(t, own.Register("example.com/app.Pirate", Instance(func() english { return english{} })))
		loader := WithParent(NewFSLoader("pirate", fstest.MapFS{}, own), parent)

		class, err := loader.Resolve("example.com/app.Pirate")
		require.NoError(t, err)
		assert.Equal(t, "example.com/app.Pirate", class.Name)

		_, err = loader.Resolve("example.com/app.Missing")
		assert.ErrorIs(t, err, ErrClassNotFound)
	})
}
