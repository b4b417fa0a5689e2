package admin

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sourceroots/pkg/extensions"
	"github.com/platinummonkey/sourceroots/pkg/model"
	"github.com/platinummonkey/sourceroots/pkg/observability"
	"github.com/platinummonkey/sourceroots/pkg/plugins"
	"github.com/platinummonkey/sourceroots/pkg/roots"
)

// Registry is the part of the plugin registry the admin API reads
type Registry interface {
	ModificationStamp() int64
	Plugins() []*plugins.Descriptor
	Serializers() (*extensions.Set[roots.Serializer], error)
}

// Options configures the admin server. Projects, Health and Metrics are
// optional; their routes are only registered when set.
type Options struct {
	Registry Registry
	Projects model.ProjectManager
	Health   *observability.HealthChecker
	Metrics  *prometheus.Registry
	Logger   *logrus.Logger
}

// Server serves the read-only admin API
type Server struct {
	registry Registry
	projects model.ProjectManager
	log      *logrus.Logger
	router   *mux.Router
}

// NewServer creates the admin server and its routes
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	s := &Server{
		registry: opts.Registry,
		projects: opts.Projects,
		log:      opts.Logger,
		router:   mux.NewRouter(),
	}

	s.router.Use(requestIDMiddleware, recoveryMiddleware(s.log), loggingMiddleware(s.log))

	s.router.HandleFunc("/stamp", s.getStamp).Methods(http.MethodGet)
	s.router.HandleFunc("/plugins", s.listPlugins).Methods(http.MethodGet)
	s.router.HandleFunc("/plugins/{id}", s.getPlugin).Methods(http.MethodGet)
	s.router.HandleFunc("/types", s.listTypes).Methods(http.MethodGet)
	if s.projects != nil {
		s.router.HandleFunc("/projects", s.listProjects).Methods(http.MethodGet)
	}
	if opts.Health != nil {
		observability.RegisterHealthRoutes(s.router, opts.Health)
	}
	if opts.Metrics != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(opts.Metrics)).Methods(http.MethodGet)
	}

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StampResponse is the body of GET /stamp
type StampResponse struct {
	Stamp int64 `json:"stamp"`
}

// PluginResponse describes one active plugin
type PluginResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	Channel     plugins.Channel   `json:"channel,omitempty"`
	Path        string            `json:"path,omitempty"`
	LoadedAt    time.Time         `json:"loaded_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TypeResponse describes one registered source root type
type TypeResponse struct {
	ID       string `json:"id"`
	ForTests bool   `json:"for_tests"`
}

// ProjectResponse summarizes the source folders of one open project
type ProjectResponse struct {
	Name    string `json:"name"`
	Modules int    `json:"modules"`
	Folders int    `json:"folders"`
	// Placeholders counts folders whose type is not currently registered
	Placeholders int `json:"placeholders"`
}

func (s *Server) getStamp(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StampResponse{Stamp: s.registry.ModificationStamp()})
}

func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	active := s.registry.Plugins()
	resp := make([]PluginResponse, 0, len(active))
	for _, d := range active {
		resp = append(resp, pluginResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, d := range s.registry.Plugins() {
		if d.ID() == id {
			writeJSON(w, http.StatusOK, pluginResponse(d))
			return
		}
	}
	writeErrorMessage(w, http.StatusNotFound, fmt.Sprintf("plugin %s is not active", id))
}

func pluginResponse(d *plugins.Descriptor) PluginResponse {
	return PluginResponse{
		ID:          d.Manifest.ID,
		Name:        d.Manifest.Name,
		Version:     d.Manifest.Version,
		Description: d.Manifest.Description,
		Channel:     d.Manifest.Channel,
		Path:        d.Path,
		LoadedAt:    d.LoadedAt,
		Metadata:    d.Manifest.Metadata,
	}
}

func (s *Server) listTypes(w http.ResponseWriter, r *http.Request) {
	set, err := s.registry.Serializers()
	if err != nil {
		s.log.WithError(err).Warn("Cannot list source root types")
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	resp := make([]TypeResponse, 0, set.Len())
	for _, serializer := range set.Values() {
		resp = append(resp, TypeResponse{ID: serializer.TypeID(), ForTests: serializer.IsTestType()})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].ID < resp[j].ID })

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.OpenProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := make([]ProjectResponse, 0, len(projects))
	for _, project := range projects {
		summary, err := summarize(r.Context(), project)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp = append(resp, summary)
	}

	writeJSON(w, http.StatusOK, resp)
}

// summarize reads every module through a ModifyModel call that never commits
func summarize(ctx context.Context, project model.Project) (ProjectResponse, error) {
	summary := ProjectResponse{Name: project.Name()}

	modules, err := project.Modules(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list modules of %s: %w", project.Name(), err)
	}
	summary.Modules = len(modules)

	for _, module := range modules {
		_, err := module.ModifyModel(ctx, func(m *model.ModifiableModel) bool {
			for _, entry := range m.ContentEntries {
				for _, folder := range entry.SourceFolders {
					summary.Folders++
					if folder.RootType.IsUnknown() {
						summary.Placeholders++
					}
				}
			}
			return false
		})
		if err != nil {
			return summary, fmt.Errorf("failed to read module %s: %w", module.Name(), err)
		}
	}

	return summary, nil
}
