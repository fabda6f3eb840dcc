package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/autodb/autodb/internal/manager"
	"github.com/autodb/autodb/internal/rowcodec"
	"github.com/autodb/autodb/pkg/config"
)

type fixtureWidget struct {
	id   rowcodec.AutoId
	Name string
}

func newFixtureWidget() *fixtureWidget { return &fixtureWidget{} }

func (w *fixtureWidget) TableName() string           { return "widgets" }
func (w *fixtureWidget) RowID() rowcodec.AutoId      { return w.id }
func (w *fixtureWidget) SetRowID(id rowcodec.AutoId) { w.id = id }
func (w *fixtureWidget) Fields() map[string]any      { return map[string]any{"Name": w.Name} }
func (w *fixtureWidget) SetFields(m map[string]any) {
	if v, ok := m["Name"].(string); ok {
		w.Name = v
	}
}
func (w *fixtureWidget) Indexes() []rowcodec.IndexDescriptor       { return nil }
func (w *fixtureWidget) UniqueIndexes() []rowcodec.IndexDescriptor { return nil }
func (w *fixtureWidget) SettingsKey() string                       { return "memory" }

func newTestServer(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()
	cfg := config.DefaultConfig()
	mgr := manager.New(cfg)
	if _, _, err := manager.ActorFor(context.Background(), mgr, newFixtureWidget); err != nil {
		t.Fatalf("ActorFor: %v", err)
	}
	return NewServer(mgr, cfg), mgr
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListTablesEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tables, ok := resp.Data.([]any)
	if !ok || len(tables) != 1 {
		t.Fatalf("expected 1 registered table, got %#v", resp.Data)
	}
}

func TestListRowsEndpointUnknownTable(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables/ghost/rows", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListRowsEndpoint(t *testing.T) {
	server, mgr := newTestServer(t)
	ctx := context.Background()

	m, err := manager.Create(ctx, mgr, newFixtureWidget, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v := m.Value()
	v.Name = "cog"
	m.SetValue(v)
	if err := manager.SaveList(ctx, mgr, []*manager.Model[*fixtureWidget]{m}); err != nil {
		t.Fatalf("SaveList: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables/widgets/rows", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSaveAllEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/save-all", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAPIKeyAuthMiddlewareRejectsMissingKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RestAPI.APIKey = "secret"
	mgr := manager.New(cfg)
	if _, _, err := manager.ActorFor(context.Background(), mgr, newFixtureWidget); err != nil {
		t.Fatalf("ActorFor: %v", err)
	}
	server := NewServer(mgr, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
