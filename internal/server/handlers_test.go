package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedkit/exchange-bridge/internal/exchange"
	"github.com/schedkit/exchange-bridge/internal/secrets"
	"github.com/schedkit/exchange-bridge/internal/store"
)

type fakeService struct {
	calendars []exchange.IntegrationCalendar
	listErr   error
	busy      []exchange.EventBusyDate
	availErr  error
	created   *exchange.NewCalendarEvent
	createErr error
	deleteErr error
	cleanups  int
}

func (f *fakeService) CreateEvent(context.Context, exchange.CalendarEvent) (*exchange.NewCalendarEvent, error) {
	return f.created, f.createErr
}

func (f *fakeService) UpdateEvent(context.Context, string, exchange.CalendarEvent) (*exchange.NewCalendarEvent, error) {
	return f.created, f.createErr
}

func (f *fakeService) DeleteEvent(context.Context, string) error {
	return f.deleteErr
}

func (f *fakeService) ListCalendars(context.Context) ([]exchange.IntegrationCalendar, error) {
	return f.calendars, f.listErr
}

func (f *fakeService) GetAvailability(context.Context, time.Time, time.Time, []string) ([]exchange.EventBusyDate, error) {
	return f.busy, f.availErr
}

func (f *fakeService) Cleanup() {
	f.cleanups++
}

type testServer struct {
	*Server
	fake      *fakeService
	factories int
	store     *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	key, err := secrets.GenerateKey()
	require.NoError(t, err)

	ts := &testServer{
		fake:  &fakeService{},
		store: store.NewStore(),
	}

	srv, err := NewServer(Config{EncryptionKey: key}, ts.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		withServiceFactory(func(exchange.Config) calendarService {
			ts.factories++
			return ts.fake
		}),
	)
	require.NoError(t, err)

	ts.Server = srv
	return ts
}

func validConfigJSON() string {
	return `{
		"url": "https://mail.example.com/EWS/Exchange.asmx",
		"username": "user@example.com",
		"password": "secret",
		"authenticationMethod": 0,
		"exchangeVersion": 7
	}`
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

// saveCredential stores a credential through the API and returns its id.
func (ts *testServer) saveCredential(t *testing.T) string {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/v1/exchange/credentials", validConfigJSON())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp credentialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func TestNewServer_RequiresKey(t *testing.T) {
	_, err := NewServer(Config{}, store.NewStore())
	require.Error(t, err)
}

func TestHandleValidate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/exchange/validate", validConfigJSON())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsValid)
	assert.Empty(t, resp.Errors)
}

func TestHandleValidate_PlainHTTP(t *testing.T) {
	ts := newTestServer(t)

	body := `{"url": "http://mail.example.com/EWS/Exchange.asmx", "username": "user@example.com", "password": "secret"}`
	rec := ts.do(t, http.MethodPost, "/api/v1/exchange/validate", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsValid)
	assert.Contains(t, resp.Errors, "URL must use HTTPS")
	assert.Contains(t, resp.Suggestions, "Use HTTPS for the EWS endpoint; credentials travel with every request.")
}

func TestHandleValidate_BadBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/exchange/validate", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveCredentials(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/exchange/credentials", validConfigJSON())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp credentialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.True(t, strings.HasPrefix(resp.UserHash, "user:"), "user hash must be anonymized")
	assert.NotContains(t, rec.Body.String(), "secret")

	assert.Equal(t, 1, ts.store.Stats()["credentials"])
	assert.Equal(t, 1, ts.fake.cleanups, "the probe adapter must be torn down")
}

func TestSaveCredentials_InvalidConfig(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/exchange/credentials", `{"url": "", "username": "", "password": ""}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Zero(t, ts.factories, "invalid configurations must not be probed")
	assert.Zero(t, ts.store.Stats()["credentials"])
}

func TestSaveCredentials_ProbeFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.fake.listErr = exchange.Classify(errors.New("ews: unauthorized (401)"))

	rec := ts.do(t, http.MethodPost, "/api/v1/exchange/credentials", validConfigJSON())
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "auth", resp.Kind)

	assert.Zero(t, ts.store.Stats()["credentials"], "nothing is stored when the probe fails")
}

func TestUpdateCredentials(t *testing.T) {
	ts := newTestServer(t)
	id := ts.saveCredential(t)

	rec := ts.do(t, http.MethodPut, "/api/v1/exchange/credentials/"+id, validConfigJSON())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUpdateCredentials_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/v1/exchange/credentials/missing", validConfigJSON())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteCredentials(t *testing.T) {
	ts := newTestServer(t)
	id := ts.saveCredential(t)

	rec := ts.do(t, http.MethodDelete, "/api/v1/exchange/credentials/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, ts.store.Stats()["credentials"])

	rec = ts.do(t, http.MethodDelete, "/api/v1/exchange/credentials/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCalendars(t *testing.T) {
	ts := newTestServer(t)
	ts.fake.calendars = []exchange.IntegrationCalendar{
		{ExternalID: "cal-1", Name: "Calendar", Primary: true, Integration: exchange.Integration},
	}
	id := ts.saveCredential(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/exchange/credentials/"+id+"/calendars", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var calendars []exchange.IntegrationCalendar
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &calendars))
	require.Len(t, calendars, 1)
	assert.Equal(t, "cal-1", calendars[0].ExternalID)
}

func TestListCalendars_UnknownCredential(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/exchange/credentials/missing/calendars", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEvent(t *testing.T) {
	ts := newTestServer(t)
	ts.fake.created = &exchange.NewCalendarEvent{UID: "item-1", ID: "item-1"}
	id := ts.saveCredential(t)

	body := `{"title": "Planning", "start": "2026-03-10T09:00:00Z", "end": "2026-03-10T10:00:00Z"}`
	rec := ts.do(t, http.MethodPost, "/api/v1/exchange/credentials/"+id+"/events", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp exchange.NewCalendarEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "item-1", resp.UID)
}

func TestDeleteEvent_UpstreamFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.fake.deleteErr = exchange.Classify(errors.New("dial tcp: connection refused"))
	id := ts.saveCredential(t)

	rec := ts.do(t, http.MethodDelete, "/api/v1/exchange/credentials/"+id+"/events/item-1", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "connectivity", resp.Kind)
	assert.NotContains(t, resp.Error, "dial tcp", "upstream detail must not leak")
}

func TestAvailability(t *testing.T) {
	ts := newTestServer(t)
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ts.fake.busy = []exchange.EventBusyDate{{Start: start, End: start.Add(time.Hour)}}
	id := ts.saveCredential(t)

	var body bytes.Buffer
	require.NoError(t, json.NewEncoder(&body).Encode(availabilityRequest{
		DateFrom:          start,
		DateTo:            start.Add(24 * time.Hour),
		SelectedCalendars: []string{"cal-1"},
	}))

	rec := ts.do(t, http.MethodPost, "/api/v1/exchange/credentials/"+id+"/availability", body.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var busy []exchange.EventBusyDate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &busy))
	require.Len(t, busy, 1)
}

func TestAvailability_InvertedRange(t *testing.T) {
	ts := newTestServer(t)
	id := ts.saveCredential(t)

	body := `{"dateFrom": "2026-03-11T00:00:00Z", "dateTo": "2026-03-10T00:00:00Z"}`
	rec := ts.do(t, http.MethodPost, "/api/v1/exchange/credentials/"+id+"/availability", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceCaching(t *testing.T) {
	ts := newTestServer(t)
	id := ts.saveCredential(t)
	probes := ts.factories // the save probe constructed one adapter

	ts.do(t, http.MethodGet, "/api/v1/exchange/credentials/"+id+"/calendars", "")
	ts.do(t, http.MethodGet, "/api/v1/exchange/credentials/"+id+"/calendars", "")
	assert.Equal(t, probes+1, ts.factories, "repeat operations reuse the cached adapter")

	// Updating the credential drops the cached adapter.
	ts.do(t, http.MethodPut, "/api/v1/exchange/credentials/"+id, validConfigJSON())
	ts.do(t, http.MethodGet, "/api/v1/exchange/credentials/"+id+"/calendars", "")
	assert.Equal(t, probes+3, ts.factories, "update probes once and the next operation re-dials")
}

func TestStatusForKind(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusForKind(exchange.KindNotFound))
	assert.Equal(t, http.StatusBadRequest, statusForKind(exchange.KindConfig))
	assert.Equal(t, http.StatusUnauthorized, statusForKind(exchange.KindAuth))
	assert.Equal(t, http.StatusBadGateway, statusForKind(exchange.KindConnectivity))
	assert.Equal(t, http.StatusBadGateway, statusForKind(exchange.KindTLS))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(exchange.KindCredential))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(exchange.KindEnvironment))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(exchange.KindAuthSetup))
	assert.Equal(t, http.StatusBadGateway, statusForKind(exchange.KindUnknown))
}

func TestShutdown_CleansUpServices(t *testing.T) {
	ts := newTestServer(t)
	id := ts.saveCredential(t)

	ts.do(t, http.MethodGet, "/api/v1/exchange/credentials/"+id+"/calendars", "")
	cleanupsBefore := ts.fake.cleanups

	require.NoError(t, ts.Shutdown(context.Background()))
	assert.Equal(t, cleanupsBefore+1, ts.fake.cleanups)
	assert.False(t, ts.Health().IsReady())
}
