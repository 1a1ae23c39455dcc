package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rebootcamp/attendsync/internal/attendance"
	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/queue"
	"github.com/rebootcamp/attendsync/internal/remote"
	"github.com/rebootcamp/attendsync/internal/remote/remotetest"
	"github.com/rebootcamp/attendsync/internal/schema"
	"github.com/rebootcamp/attendsync/internal/syncer"
)

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type fixture struct {
	store  *db.DB
	remote *remotetest.Backend
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "attendance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSchema())

	backend := remotetest.New()
	q := queue.New(store, nil)
	svc := attendance.New(q, syncer.New(q, backend, syncer.Config{BatchSize: 50}), backend, attendance.Config{
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) },
	})

	return &fixture{
		store:  store,
		remote: backend,
		router: NewRouter(Deps{Service: svc, Store: store}),
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func adaCheckIn() map[string]string {
	return map[string]string{
		"date":          "2024-06-01",
		"child_name":    "Ada",
		"day_tag":       "T7",
		"service":       "Morning",
		"check_in_time": "08:00 AM",
	}
}

func TestHandleHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	HandleHealthz().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"status":"ok"}`+"\n", w.Body.String())
}

func TestHandleReadyz(t *testing.T) {
	tests := []struct {
		name       string
		storeErr   error
		remoteErr  error
		wantStatus int
		wantBody   string
	}{
		{name: "ready", wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "remote down", remoteErr: errors.New("offline"), wantStatus: http.StatusOK, wantBody: "degraded"},
		{name: "store down", storeErr: errors.New("disk gone"), wantStatus: http.StatusServiceUnavailable, wantBody: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockPinger)
			store.On("Ping", mock.Anything).Return(tt.storeErr)
			backend := new(mockPinger)
			backend.On("Ping", mock.Anything).Return(tt.remoteErr)

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			w := httptest.NewRecorder()
			HandleReadyz(store, backend).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decode[HealthResponse](t, w)
			assert.Equal(t, tt.wantBody, resp.Status)
			store.AssertExpectations(t)
		})
	}
}

func TestCheckIn(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/checkins", adaCheckIn())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[attendance.CheckInResult](t, w)
	assert.True(t, res.Synced)
	assert.Equal(t, "Ada", res.Record.ChildName)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = f.do(t, http.MethodPost, "/api/v1/checkins", adaCheckIn())
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode[ErrorResponse](t, w).Error, "already checked in")
}

func TestCheckIn_Queued(t *testing.T) {
	f := newFixture(t)
	f.remote.FailAppendsWith(remote.Unavailable(errors.New("offline")))

	w := f.do(t, http.MethodPost, "/api/v1/checkins", adaCheckIn())
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	res := decode[attendance.CheckInResult](t, w)
	assert.True(t, res.Pending)
	assert.False(t, res.Synced)
}

func TestCheckIn_RejectedByRemote(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.remote.AppendRecord(context.Background(), remote.Row{
		Date:        "2024-06-01",
		ChildName:   "Ada",
		DayTag:      "T2",
		Service:     "Morning",
		CheckInTime: "07:45 AM",
		Status:      string(schema.StatusCheckedIn),
	}))
	f.remote.StaleLists = 1

	w := f.do(t, http.MethodPost, "/api/v1/checkins", adaCheckIn())
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	res := decode[CheckInErrorResponse](t, w)
	assert.Contains(t, res.Error, "already checked in on remote")
	require.NotNil(t, res.Result)
	assert.False(t, res.Result.Synced)
	assert.False(t, res.Result.Pending)
	assert.Equal(t, schema.SyncFailed, res.Result.Record.SyncStatus)
}

func TestCheckIn_BadRequests(t *testing.T) {
	f := newFixture(t)

	req := adaCheckIn()
	delete(req, "child_name")
	w := f.do(t, http.MethodPost, "/api/v1/checkins", req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[ErrorResponse](t, w).Fields, "child_name")

	r := httptest.NewRequest(http.MethodPost, "/api/v1/checkins", strings.NewReader("{not json"))
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errMsgInvalidBody, decode[ErrorResponse](t, w).Error)

	big := adaCheckIn()
	big["notes"] = strings.Repeat("x", MaxRequestBytes+1)
	w = f.do(t, http.MethodPost, "/api/v1/checkins", big)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/checkins", adaCheckIn()).Code)

	w := f.do(t, http.MethodPost, "/api/v1/checkouts", map[string]string{
		"date":          "2024-06-01",
		"day_tag":       "T7",
		"checkout_time": "12:00 PM",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[attendance.CheckoutResult](t, w)
	assert.True(t, res.Synced)
	assert.Equal(t, []string{"Ada"}, res.ChildNames)
}

func TestCheckout_SchemaMismatch(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/checkins", adaCheckIn()).Code)
	f.remote.CheckoutErr = &remote.SchemaMismatchError{Missing: []string{"Check-out Time"}}

	w := f.do(t, http.MethodPost, "/api/v1/checkouts", map[string]string{"date": "2024-06-01", "day_tag": "T7"})
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	res := decode[CheckoutErrorResponse](t, w)
	assert.Contains(t, res.Error, "Check-out Time")
	require.NotNil(t, res.Result)
	assert.Equal(t, []string{"Ada"}, res.Result.ChildNames)
}

func TestCheckout_Validation(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/checkouts", map[string]string{"date": "2024-06-01"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecords(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/checkins", adaCheckIn()).Code)

	f.remote.FailAppendsWith(remote.Unavailable(errors.New("offline")))
	grace := adaCheckIn()
	grace["child_name"] = "Grace"
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/v1/checkins", grace).Code)

	w := f.do(t, http.MethodGet, "/api/v1/records?date=2024-06-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[attendance.RecordsView](t, w)
	require.Len(t, view.Records, 2)
	assert.Equal(t, "Ada", view.Records[0].ChildName)
	assert.Equal(t, "remote", string(view.Records[0].Provenance))
	assert.Equal(t, "Grace", view.Records[1].ChildName)
	assert.Equal(t, "local", string(view.Records[1].Provenance))

	w = f.do(t, http.MethodGet, "/api/v1/records?date=June", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckedIn(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/checkins", adaCheckIn()).Code)
	other := adaCheckIn()
	other["child_name"] = "Grace"
	other["day_tag"] = "T8"
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/checkins", other).Code)

	w := f.do(t, http.MethodGet, "/api/v1/checked-in?date=2024-06-01&tag=T8", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[CheckedInResponse](t, w)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "Grace", resp.Records[0].ChildName)

	// The fixture clock puts "today" on the same date.
	w = f.do(t, http.MethodGet, "/api/v1/checked-in", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[CheckedInResponse](t, w)
	assert.Equal(t, "2024-06-01", resp.Date)
	assert.Len(t, resp.Records, 2)
}

func TestDeleteRecord(t *testing.T) {
	f := newFixture(t)
	f.remote.FailAppendsWith(remote.Unavailable(errors.New("offline")))
	queued := decode[attendance.CheckInResult](t, f.do(t, http.MethodPost, "/api/v1/checkins", adaCheckIn()))
	f.remote.Heal()

	path := func(id int64, source string) string {
		return "/api/v1/records/" + strconv.FormatInt(id, 10) + "?source=" + source
	}

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, path(queued.Record.ID, "local"), nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, path(queued.Record.ID, "local"), nil).Code)

	synced := decode[attendance.CheckInResult](t, f.do(t, http.MethodPost, "/api/v1/checkins", adaCheckIn()))
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, path(synced.Record.ID, "local"), nil).Code)

	rows := f.remote.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, path(int64(rows[0].RowID), "remote"), nil).Code)
	assert.Empty(t, f.remote.Rows())

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, path(1, "elsewhere"), nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/api/v1/records/abc", nil).Code)
}

func TestSyncEndpoints(t *testing.T) {
	f := newFixture(t)
	f.remote.FailAppendsWith(remote.Unavailable(errors.New("offline")))
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/v1/checkins", adaCheckIn()).Code)

	w := f.do(t, http.MethodGet, "/api/v1/sync/queue?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	q := decode[QueueResponse](t, w)
	assert.Equal(t, 1, q.Stats.Pending)
	require.Len(t, q.Items, 1)
	assert.Equal(t, schema.OpCheckIn, q.Items[0].Operation)

	f.remote.Heal()
	w = f.do(t, http.MethodPost, "/api/v1/sync/flush", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[FlushResponse](t, w).Processed)

	w = f.do(t, http.MethodGet, "/api/v1/sync/queue?status=pending", nil)
	assert.Empty(t, decode[QueueResponse](t, w).Items)

	w = f.do(t, http.MethodPost, "/api/v1/sync/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[RetryResponse](t, w).Reset)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/sync/queue?status=lost", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/sync/queue?limit=-1", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/v1/records", nil)

	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/records")
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&queue.DuplicateCheckInError{ChildName: "Ada", Date: "2024-06-01"}, http.StatusConflict},
		{&remote.SchemaMismatchError{Missing: []string{"Date"}}, http.StatusBadGateway},
		{&syncer.PermanentError{QueueID: 3, Operation: schema.OpCheckIn, Err: syncer.ErrDuplicateRemote}, http.StatusConflict},
		{&syncer.PermanentError{QueueID: 4, Operation: schema.OpCheckout, Err: syncer.ErrCheckInFailed}, http.StatusConflict},
		{&syncer.PermanentError{QueueID: 5, Operation: "archive", Err: syncer.ErrUnknownOperation}, http.StatusBadGateway},
		{db.ErrNotFound, http.StatusNotFound},
		{db.ErrAlreadySynced, http.StatusConflict},
		{attendance.ErrInvalidProvenance, http.StatusBadRequest},
		{attendance.ErrDeleteUnsupported, http.StatusNotImplemented},
		{remote.Unavailable(errors.New("offline")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := mapServiceError(tt.err)
		assert.Equal(t, tt.want, status, tt.err.Error())
	}
}
