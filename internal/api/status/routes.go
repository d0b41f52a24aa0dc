// Package status serves read-only views of an examiner node: the data
// sources committed to a case and what collaborating nodes are working on.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/pkg/common/logger"
	"github.com/ahrav/caseflow/pkg/common/otel"
)

// CollaborationView is the part of the collaboration monitor the routes read.
type CollaborationView interface {
	LocalTasks() collaboration.TaskSnapshot
	RemoteHosts() []string
	RemoteTaskCount(host string) int
	ServiceStatus() map[string]bool
}

// Registrar is satisfied by http.ServeMux and the node's health server.
type Registrar interface {
	Handle(pattern string, handler http.Handler)
}

// Config contains the systems the handlers read from. Collaboration may be
// nil when the monitor is disabled.
type Config struct {
	HostName      string
	Database      datasource.CaseDatabase
	Collaboration CollaborationView
	Log           *logger.Logger
	Tracer        trace.Tracer
}

// Routes binds the status endpoints.
func Routes(r Registrar, cfg Config) {
	if cfg.Log == nil {
		cfg.Log = logger.Noop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("status")
	}

	r.Handle("GET /v1/cases/{caseID}/datasources", handle(cfg.Log, listDataSources(cfg)))
	if cfg.Collaboration != nil {
		r.Handle("GET /v1/collaboration", handle(cfg.Log, collaborationStatus(cfg)))
	}
}

// encoder is a response body that knows its content type.
type encoder interface {
	Encode() ([]byte, string, error)
}

type handlerFunc func(ctx context.Context, r *http.Request) (int, encoder)

func handle(log *logger.Logger, fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		code, resp := fn(ctx, r)

		data, contentType, err := resp.Encode()
		if err != nil {
			log.Error(ctx, "Failed to encode response", "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(code)
		if _, err := w.Write(data); err != nil {
			log.Warn(ctx, "Failed to write response", "path", r.URL.Path, "error", err)
		}
	})
}

func encodeJSON(v any) ([]byte, string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// Encode implements the encoder interface.
func (er errorResponse) Encode() ([]byte, string, error) { return encodeJSON(er) }

type dataSourceResponse struct {
	ID         string    `json:"id"`
	ObjectID   int64     `json:"object_id"`
	Name       string    `json:"name"`
	DeviceID   string    `json:"device_id"`
	Paths      []string  `json:"paths"`
	TimeZone   string    `json:"time_zone,omitempty"`
	SectorSize int       `json:"sector_size,omitempty"`
	Size       int64     `json:"size"`
	AddedAt    time.Time `json:"added_at"`
}

type dataSourcesResponse struct {
	CaseID      string               `json:"case_id"`
	DataSources []dataSourceResponse `json:"data_sources"`
}

// Encode implements the encoder interface.
func (dr dataSourcesResponse) Encode() ([]byte, string, error) { return encodeJSON(dr) }

func listDataSources(cfg Config) handlerFunc {
	return func(ctx context.Context, r *http.Request) (int, encoder) {
		caseID := r.PathValue("caseID")
		ctx, span := otel.AddSpan(ctx, cfg.Tracer, "status.list_data_sources", attribute.String("case_id", caseID))
		defer span.End()

		sources, err := cfg.Database.ListDataSources(ctx, caseID)
		if err != nil {
			span.RecordError(err)
			cfg.Log.Error(ctx, "Failed to list data sources", "case_id", caseID, "error", err)
			return http.StatusInternalServerError, errorResponse{Error: "failed to list data sources"}
		}

		resp := dataSourcesResponse{CaseID: caseID, DataSources: make([]dataSourceResponse, 0, len(sources))}
		for _, ds := range sources {
			resp.DataSources = append(resp.DataSources, dataSourceResponse{
				ID:         ds.ID.String(),
				ObjectID:   ds.ObjectID,
				Name:       ds.Name,
				DeviceID:   ds.DeviceID,
				Paths:      ds.Paths,
				TimeZone:   ds.TimeZone,
				SectorSize: ds.SectorSize,
				Size:       ds.Size,
				AddedAt:    ds.AddedAt,
			})
		}
		return http.StatusOK, resp
	}
}

type taskResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type hostResponse struct {
	HostName string `json:"host_name"`
	Tasks    int    `json:"tasks"`
}

type collaborationResponse struct {
	HostName   string          `json:"host_name"`
	LocalTasks []taskResponse  `json:"local_tasks"`
	Remote     []hostResponse  `json:"remote_hosts"`
	Services   map[string]bool `json:"services"`
}

// Encode implements the encoder interface.
func (cr collaborationResponse) Encode() ([]byte, string, error) { return encodeJSON(cr) }

func collaborationStatus(cfg Config) handlerFunc {
	return func(ctx context.Context, _ *http.Request) (int, encoder) {
		view := cfg.Collaboration
		snapshot := view.LocalTasks()

		resp := collaborationResponse{
			HostName:   cfg.HostName,
			LocalTasks: make([]taskResponse, 0, len(snapshot)),
			Remote:     []hostResponse{},
			Services:   view.ServiceStatus(),
		}
		for _, id := range snapshot.IDs() {
			resp.LocalTasks = append(resp.LocalTasks, taskResponse{ID: id, Status: snapshot[id].Status})
		}

		hosts := slices.Clone(view.RemoteHosts())
		slices.Sort(hosts)
		for _, h := range hosts {
			resp.Remote = append(resp.Remote, hostResponse{HostName: h, Tasks: view.RemoteTaskCount(h)})
		}
		if resp.Services == nil {
			resp.Services = map[string]bool{}
		}
		return http.StatusOK, resp
	}
}
