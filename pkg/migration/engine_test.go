package migration

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sourceroots/pkg/model"
	"github.com/platinummonkey/sourceroots/pkg/observability"
	"github.com/platinummonkey/sourceroots/pkg/roots"
)

type genProperties struct {
	Generator string `yaml:"generator"`
	Output    string `yaml:"output,omitempty"`
}

var (
	customGen = roots.NewYAMLSerializer("custom-gen", false, func() genProperties {
		return genProperties{Generator: "default"}
	})
	javaSource = roots.NewYAMLSerializer[genProperties]("java-source", false, nil)
)

// panicSerializer blows up when asked to save
type panicSerializer struct {
	roots.Serializer
}

func (panicSerializer) SaveProperties(any) ([]byte, error) {
	panic("serializer bug")
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestEngine() *Engine {
	return NewEngine(Options{Logger: quietLogger()})
}

func folders(m *model.MemoryModule) []*model.SourceFolder {
	var result []*model.SourceFolder
	for _, entry := range m.ContentEntries() {
		result = append(result, entry.SourceFolders...)
	}
	return result
}

func TestAdoptKnownTypes_RetagsPlaceholder(t *testing.T) {
	ctx := context.Background()
	blob := []byte("generator: protoc\noutput: gen/java\n")

	project := model.NewMemoryProject("P")
	module := project.AddModule("M", &model.ContentEntry{
		URL: "file://m",
		SourceFolders: []*model.SourceFolder{
			{URL: "file://m/gen", RootType: roots.Unknown("custom-gen", false), Properties: roots.UnknownProperties{Data: blob}},
		},
	})

	result, err := newTestEngine().AdoptKnownTypes(ctx, project, []roots.Serializer{customGen})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ModulesCommitted)
	assert.Equal(t, 1, result.FoldersMigrated)
	assert.NotEmpty(t, result.RunID)

	expected, err := customGen.LoadProperties(blob)
	require.NoError(t, err)

	folder := folders(module)[0]
	assert.Equal(t, customGen.Type(), folder.RootType)
	assert.Equal(t, expected, folder.Properties)
}

func TestAdoptKnownTypes_NoBlobUsesDefaults(t *testing.T) {
	ctx := context.Background()
	project := model.NewMemoryProject("P")
	module := project.AddModule("M", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{
			{URL: "file://m/gen", RootType: roots.Unknown("custom-gen", false), Properties: roots.UnknownProperties{}},
		},
	})

	_, err := newTestEngine().AdoptKnownTypes(ctx, project, []roots.Serializer{customGen})
	require.NoError(t, err)

	folder := folders(module)[0]
	assert.Equal(t, customGen.Type(), folder.RootType)
	assert.Equal(t, genProperties{Generator: "default"}, folder.Properties)
}

func TestDemoteToUnknown_KeepsSiblings(t *testing.T) {
	ctx := context.Background()
	props := genProperties{Generator: "protoc", Output: "gen"}

	project := model.NewMemoryProject("P")
	module := project.AddModule("M", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{
			{URL: "file://m/src", RootType: javaSource.Type(), Properties: genProperties{}},
			{URL: "file://m/gen", RootType: roots.NewType("custom-gen", true), Properties: props},
		},
	})

	result, err := newTestEngine().DemoteToUnknown(ctx, project, []roots.Serializer{customGen})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FoldersMigrated)

	expectedBlob, err := customGen.SaveProperties(props)
	require.NoError(t, err)

	got := folders(module)
	assert.Equal(t, javaSource.Type(), got[0].RootType)
	assert.Equal(t, genProperties{}, got[0].Properties)
	assert.Equal(t, roots.Unknown("custom-gen", true), got[1].RootType)
	assert.Equal(t, roots.UnknownProperties{Data: expectedBlob}, got[1].Properties)
	assert.Equal(t, "file://m/src", got[0].URL)
	assert.Equal(t, "file://m/gen", got[1].URL)
}

func TestDemoteThenAdopt_RoundTrip(t *testing.T) {
	ctx := context.Background()
	props := genProperties{Generator: "protoc", Output: "gen/java"}
	engine := newTestEngine()

	project := model.NewMemoryProject("P")
	module := project.AddModule("M", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{
			{URL: "file://m/gen", RootType: customGen.Type(), Properties: props},
		},
	})

	_, err := engine.DemoteToUnknown(ctx, project, []roots.Serializer{customGen})
	require.NoError(t, err)
	demoted := folders(module)[0].Properties.(roots.UnknownProperties)

	_, err = engine.AdoptKnownTypes(ctx, project, []roots.Serializer{customGen})
	require.NoError(t, err)
	folder := folders(module)[0]
	assert.Equal(t, customGen.Type(), folder.RootType)
	assert.Equal(t, props, folder.Properties)

	_, err = engine.DemoteToUnknown(ctx, project, []roots.Serializer{customGen})
	require.NoError(t, err)
	assert.Equal(t, demoted.Data, folders(module)[0].Properties.(roots.UnknownProperties).Data)
}

func TestAdoptKnownTypes_Idempotent(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine()

	project := model.NewMemoryProject("P")
	module := project.AddModule("M", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{
			{URL: "file://m/gen", RootType: roots.Unknown("custom-gen", false), Properties: roots.UnknownProperties{Data: []byte("generator: x\n")}},
		},
	})

	_, err := engine.AdoptKnownTypes(ctx, project, []roots.Serializer{customGen})
	require.NoError(t, err)
	assert.Equal(t, 1, module.Commits())
	before := folders(module)

	result, err := engine.AdoptKnownTypes(ctx, project, []roots.Serializer{customGen})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ModulesCommitted)
	assert.Equal(t, 0, result.FoldersMigrated)
	assert.Equal(t, 1, module.Commits())
	assert.Equal(t, before, folders(module))
}

func TestMigration_EmptySerializersIsNoop(t *testing.T) {
	ctx := context.Background()
	project := model.NewMemoryProject("P")
	module := project.AddModule("M", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{{RootType: customGen.Type()}},
	})

	result, err := newTestEngine().DemoteToUnknown(ctx, project, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.FoldersMigrated)
	assert.Equal(t, 0, module.Commits())

	results, err := newTestEngine().MigrateAll(ctx, []model.Project{project}, Demote, nil)
	assert.NoError(t, err)
	assert.Nil(t, results)
}

func TestAdoptKnownTypes_CorruptBlobFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	project := model.NewMemoryProject("P")
	module := project.AddModule("M", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{
			{URL: "file://m/bad", RootType: roots.Unknown("custom-gen", false), Properties: roots.UnknownProperties{Data: []byte("generator: [oops")}},
			{URL: "file://m/good", RootType: roots.Unknown("custom-gen", false), Properties: roots.UnknownProperties{Data: []byte("generator: buf\n")}},
		},
	})

	result, err := newTestEngine().AdoptKnownTypes(ctx, project, []roots.Serializer{customGen})
	require.NoError(t, err)
	assert.Equal(t, 2, result.FoldersMigrated)
	assert.Equal(t, 1, result.Fallbacks)

	got := folders(module)
	assert.Equal(t, genProperties{Generator: "default"}, got[0].Properties)
	assert.Equal(t, genProperties{Generator: "buf"}, got[1].Properties)
}

func TestDemoteToUnknown_UnsavablePropertiesKeepsPlaceholder(t *testing.T) {
	ctx := context.Background()
	project := model.NewMemoryProject("P")
	module := project.AddModule("M", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{
			{URL: "file://m/gen", RootType: customGen.Type(), Properties: "not generator properties"},
		},
	})

	result, err := newTestEngine().DemoteToUnknown(ctx, project, []roots.Serializer{customGen})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fallbacks)

	folder := folders(module)[0]
	assert.Equal(t, roots.Unknown("custom-gen", false), folder.RootType)
	assert.Equal(t, roots.UnknownProperties{}, folder.Properties)
}

func TestMigration_ModuleFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	project := model.NewMemoryProject("P")
	broken := project.AddModule("broken", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{{RootType: customGen.Type(), Properties: genProperties{}}},
	})
	broken.SetCommitHook(func(ctx context.Context, module string, entries []*model.ContentEntry) error {
		return errors.New("locked")
	})
	healthy := project.AddModule("healthy", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{{RootType: customGen.Type(), Properties: genProperties{}}},
	})

	result, err := newTestEngine().DemoteToUnknown(ctx, project, []roots.Serializer{customGen})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
	assert.Equal(t, []string{"broken"}, result.FailedModules)
	assert.Equal(t, 1, result.ModulesCommitted)

	assert.False(t, folders(broken)[0].RootType.IsUnknown())
	assert.True(t, folders(healthy)[0].RootType.IsUnknown())
}

func TestMigration_PanicIsIsolated(t *testing.T) {
	ctx := context.Background()
	project := model.NewMemoryProject("P")
	project.AddModule("first", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{{RootType: customGen.Type(), Properties: genProperties{}}},
	})
	second := project.AddModule("second", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{{RootType: javaSource.Type(), Properties: genProperties{}}},
	})

	serializers := []roots.Serializer{panicSerializer{customGen}, javaSource}
	result, err := newTestEngine().DemoteToUnknown(ctx, project, serializers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serializer bug")
	assert.Equal(t, []string{"first"}, result.FailedModules)
	assert.True(t, folders(second)[0].RootType.IsUnknown())
}

func TestMigrateAll_ProjectsAndMetrics(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	engine := NewEngine(Options{Logger: quietLogger(), Metrics: metrics, Parallelism: 2})

	var projects []model.Project
	var modules []*model.MemoryModule
	for _, name := range []string{"a", "b", "c"} {
		p := model.NewMemoryProject(name)
		modules = append(modules, p.AddModule("m", &model.ContentEntry{
			SourceFolders: []*model.SourceFolder{
				{RootType: roots.Unknown("custom-gen", false), Properties: roots.UnknownProperties{Data: []byte("generator: g\n")}},
			},
		}))
		projects = append(projects, p)
	}

	results, err := engine.MigrateAll(ctx, projects, Adopt, []roots.Serializer{customGen})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, projects[i].Name(), r.Project)
		assert.Equal(t, 1, r.FoldersMigrated)
		assert.Equal(t, customGen.Type(), folders(modules[i])[0].RootType)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.FoldersMigratedTotal.WithLabelValues("adopt")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ModuleCommitsTotal.WithLabelValues("adopt", "committed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.MigrationRunsTotal.WithLabelValues("adopt", "success")))
}

func TestMigrate_UnknownDirection(t *testing.T) {
	_, err := newTestEngine().MigrateAll(context.Background(),
		[]model.Project{model.NewMemoryProject("P")}, Direction("sideways"), []roots.Serializer{customGen})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown migration direction")
}

func TestSettle_RestoresTypeInvariant(t *testing.T) {
	ctx := context.Background()
	project := model.NewMemoryProject("P")
	module := project.AddModule("M", &model.ContentEntry{
		URL: "file://m",
		SourceFolders: []*model.SourceFolder{
			{URL: "file://m/gen", RootType: roots.Unknown("custom-gen", false), Properties: roots.UnknownProperties{Data: []byte("generator: buf\n")}},
			{URL: "file://m/live", RootType: customGen.Type(), Properties: genProperties{Generator: "live"}},
			{URL: "file://m/src", RootType: javaSource.Type(), Properties: genProperties{Generator: "javac"}},
			{URL: "file://m/orphan", RootType: roots.NewType("orphan", true), Properties: genProperties{Generator: "lost"}},
			{URL: "file://m/bare", RootType: roots.NewType("bare", false)},
		},
	})

	engine := newTestEngine()
	result, err := engine.Settle(ctx, project, []roots.Serializer{customGen}, []roots.Serializer{javaSource})
	require.NoError(t, err)
	assert.Equal(t, Settle, result.Direction)
	assert.Equal(t, 1, result.ModulesCommitted)
	assert.Equal(t, 4, result.FoldersMigrated)
	assert.Equal(t, 1, result.Fallbacks)
	assert.Equal(t, 1, module.Commits())

	got := folders(module)
	assert.Equal(t, customGen.Type(), got[0].RootType)
	assert.Equal(t, genProperties{Generator: "buf"}, got[0].Properties)

	assert.Equal(t, customGen.Type(), got[1].RootType)
	assert.Equal(t, genProperties{Generator: "live"}, got[1].Properties)

	assert.Equal(t, roots.Unknown("java-source", false), got[2].RootType)
	assert.Equal(t, roots.UnknownProperties{Data: []byte("generator: javac\n")}, got[2].Properties)

	assert.Equal(t, roots.Unknown("orphan", true), got[3].RootType)
	assert.Equal(t, roots.UnknownProperties{}, got[3].Properties)

	assert.Equal(t, roots.Unknown("bare", false), got[4].RootType)

	t.Run("settling again changes nothing", func(t *testing.T) {
		results, err := engine.SettleAll(ctx, []model.Project{project}, []roots.Serializer{customGen}, []roots.Serializer{javaSource})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, 0, results[0].FoldersMigrated)
		assert.Equal(t, 1, module.Commits())
	})
}

func TestSettle_NothingServedDemotesEverything(t *testing.T) {
	ctx := context.Background()
	project := model.NewMemoryProject("P")
	module := project.AddModule("M", &model.ContentEntry{
		SourceFolders: []*model.SourceFolder{
			{URL: "file://m/gen", RootType: customGen.Type(), Properties: genProperties{Generator: "protoc"}},
		},
	})

	_, err := newTestEngine().Settle(ctx, project, nil, []roots.Serializer{customGen})
	require.NoError(t, err)

	folder := folders(module)[0]
	assert.Equal(t, roots.Unknown("custom-gen", false), folder.RootType)
	assert.Equal(t, roots.UnknownProperties{Data: []byte("generator: protoc\n")}, folder.Properties)
}
