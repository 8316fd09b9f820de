package controllers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/waiter-call/controllers"
	"github.com/yeremiapane/waiter-call/fanout"
	"github.com/yeremiapane/waiter-call/middlewares"
	"github.com/yeremiapane/waiter-call/models"
	"github.com/yeremiapane/waiter-call/services"
	"github.com/yeremiapane/waiter-call/testutil"
	"github.com/yeremiapane/waiter-call/utils"
)

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, v))
}

type server struct {
	db     *gorm.DB
	clock  *testutil.Clock
	events *testutil.Recorder
	engine *gin.Engine
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.InitLogger()
	utils.SetJWTSecret("controller-test-secret")
	log := logrus.New()
	log.SetOutput(io.Discard)

	s := &server{
		db:     testutil.NewDB(t),
		clock:  testutil.NewClock(),
		events: &testutil.Recorder{},
	}
	calls := services.NewCallService(s.db, s.clock, s.events, log)
	silences := services.NewSilenceService(s.db, s.clock, s.events, log)
	assignments := services.NewAssignmentService(s.db, s.clock, calls, s.events, log)
	staff := services.NewStaffService(s.db, s.clock, assignments, log)

	callCtrl := controllers.NewCallController(calls)
	tableCtrl := controllers.NewTableController(assignments, silences, staff)
	userCtrl := controllers.NewUserController(staff, assignments, 2*time.Hour)

	r := gin.New()
	r.POST("/login", userCtrl.Login)
	r.POST("/tables/:table_id/calls", callCtrl.CreateCall)
	r.GET("/tables/:table_id/calls/:call_id", callCtrl.GetCall)

	auth := r.Group("/", middlewares.AuthMiddleware())
	auth.POST("/logout", userCtrl.Logout)
	auth.POST("/devices", userCtrl.RegisterDevice)
	auth.POST("/calls/:call_id/acknowledge", callCtrl.Acknowledge)
	auth.POST("/calls/:call_id/complete", callCtrl.Complete)
	auth.GET("/calls/pending", callCtrl.ListPending)
	auth.GET("/calls/history", callCtrl.History)
	auth.GET("/tables", tableCtrl.MyTables)
	auth.POST("/tables/activate", tableCtrl.Activate)
	auth.POST("/tables/deactivate", tableCtrl.Deactivate)
	auth.POST("/tables/activate/bulk", tableCtrl.ActivateBulk)
	auth.GET("/tables/:table_id/silence", tableCtrl.SilenceStatus)
	auth.POST("/tables/:table_id/silence", tableCtrl.Silence)
	auth.DELETE("/tables/:table_id/silence", tableCtrl.Unsilence)
	auth.POST("/admin/tables", tableCtrl.CreateTable)
	auth.PATCH("/admin/tables/:table_id", tableCtrl.UpdateTable)
	auth.POST("/admin/waiters/:user_id/archive", userCtrl.ArchiveWaiter)
	s.engine = r
	return s
}

func (s *server) do(t *testing.T, method, path string, body interface{}, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (s *server) assigned(t *testing.T, waiter models.User, number int) models.Table {
	t.Helper()
	table := testutil.SeedTable(t, s.db, waiter.BusinessID, number)
	testutil.AssignTable(t, s.db, &table, waiter.ID, s.clock.Now())
	return table
}

func tokenFor(t *testing.T, u models.User) string {
	t.Helper()
	token, err := utils.GenerateToken(u.ID, u.BusinessID, u.Role, time.Hour)
	require.NoError(t, err)
	return token
}

func callPath(tableID uint) string {
	return "/tables/" + strconv.Itoa(int(tableID)) + "/calls"
}

func TestCreateCallEndpoint(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	table := s.assigned(t, ana, 5)

	w, env := s.do(t, http.MethodPost, callPath(table.ID), gin.H{"message": "more water", "urgency": "high"}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, env.Status)

	var call services.CallView
	env.decode(t, &call)
	assert.Equal(t, models.CallStatusPending, call.Status)
	assert.Equal(t, ana.ID, call.WaiterID)
	assert.Equal(t, models.UrgencyHigh, call.Urgency)
	assert.Equal(t, []fanout.EventType{fanout.EventCallCreated}, s.events.Types())

	w, env = s.do(t, http.MethodPost, callPath(table.ID), nil, "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", env.Error)
	var details map[string]interface{}
	env.decode(t, &details)
	assert.EqualValues(t, call.ID, details["existing_call_id"])

	w, env = s.do(t, http.MethodGet, callPath(table.ID)+"/"+strconv.Itoa(int(call.ID)), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var polled services.CallView
	env.decode(t, &polled)
	assert.Equal(t, call.ID, polled.ID)
	assert.Equal(t, 5, polled.TableNumber)
}

func TestCreateCallRejections(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	held := s.assigned(t, ana, 1)
	free := testutil.SeedTable(t, s.db, 1, 2)

	tests := []struct {
		name  string
		path  string
		body  interface{}
		code  int
		error string
	}{
		{"non numeric id", "/tables/abc/calls", nil, http.StatusBadRequest, "validation_error"},
		{"unknown table", callPath(999), nil, http.StatusNotFound, "not_found"},
		{"unassigned table", callPath(free.ID), nil, http.StatusPreconditionFailed, "precondition_failed"},
		{"unknown urgency", callPath(held.ID), gin.H{"urgency": "extreme"}, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(t, http.MethodPost, tt.path, tt.body, "")
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			assert.False(t, env.Status)
			assert.Equal(t, tt.error, env.Error)
		})
	}
	assert.Empty(t, s.events.Events())
}

func TestThirdCallIsRateLimited(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	table := s.assigned(t, ana, 5)

	for i := 0; i < 2; i++ {
		w, _ := s.do(t, http.MethodPost, callPath(table.ID), nil, "")
		require.Equal(t, http.StatusCreated, w.Code)
		s.clock.Advance(31 * time.Second)
	}

	w, env := s.do(t, http.MethodPost, callPath(table.ID), nil, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "600", w.Header().Get("Retry-After"))
	var details map[string]interface{}
	env.decode(t, &details)
	assert.EqualValues(t, 3, details["call_count"])
	assert.Equal(t, models.SilenceReasonAutomatic, details["reason"])

	s.clock.Advance(5 * time.Minute)
	w, _ = s.do(t, http.MethodPost, callPath(table.ID), nil, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "300", w.Header().Get("Retry-After"))
}

func TestAcknowledgeAndCompleteEndpoints(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	budi := testutil.SeedWaiter(t, s.db, 1, "Budi", "budi@example.com")
	table := s.assigned(t, ana, 5)

	_, env := s.do(t, http.MethodPost, callPath(table.ID), nil, "")
	var call services.CallView
	env.decode(t, &call)
	ackPath := "/calls/" + strconv.Itoa(int(call.ID)) + "/acknowledge"
	completePath := "/calls/" + strconv.Itoa(int(call.ID)) + "/complete"

	w, _ := s.do(t, http.MethodPost, ackPath, nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = s.do(t, http.MethodPost, ackPath, nil, tokenFor(t, budi))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", env.Error)

	s.clock.Advance(90 * time.Second)
	w, env = s.do(t, http.MethodPost, ackPath, nil, tokenFor(t, ana))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var acked services.CallView
	env.decode(t, &acked)
	assert.Equal(t, models.CallStatusAcknowledged, acked.Status)
	require.NotNil(t, acked.ResponseTimeSeconds)
	assert.Equal(t, 90.0, *acked.ResponseTimeSeconds)

	w, env = s.do(t, http.MethodPost, ackPath, nil, tokenFor(t, ana))
	require.Equal(t, http.StatusConflict, w.Code)
	var details map[string]interface{}
	env.decode(t, &details)
	assert.Equal(t, "acknowledged", details["current_status"])

	w, env = s.do(t, http.MethodPost, completePath, nil, tokenFor(t, ana))
	require.Equal(t, http.StatusOK, w.Code)
	var done services.CallView
	env.decode(t, &done)
	assert.Equal(t, models.CallStatusCompleted, done.Status)

	w, env = s.do(t, http.MethodGet, "/calls/history?filter=today", nil, tokenFor(t, ana))
	require.Equal(t, http.StatusOK, w.Code)
	var page services.HistoryPage
	env.decode(t, &page)
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, "today", page.Filter)
}

func TestHistoryQueryValidation(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	token := tokenFor(t, ana)

	for _, query := range []string{"?page=abc", "?filter=week", "?limit=500", "?page=-1"} {
		w, env := s.do(t, http.MethodGet, "/calls/history"+query, nil, token)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
		assert.Equal(t, "validation_error", env.Error, query)
	}
}

func TestBulkActivateReportsEachTable(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	budi := testutil.SeedWaiter(t, s.db, 1, "Budi", "budi@example.com")
	free := testutil.SeedTable(t, s.db, 1, 1)
	taken := s.assigned(t, budi, 2)

	w, env := s.do(t, http.MethodPost, "/tables/activate/bulk", gin.H{"table_ids": []uint{free.ID, taken.ID, 999}}, tokenFor(t, ana))
	require.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())
	assert.False(t, env.Status)

	var body struct {
		Results   []services.BulkResult `json:"results"`
		Succeeded int                   `json:"succeeded"`
		Failed    int                   `json:"failed"`
	}
	env.decode(t, &body)
	assert.Equal(t, 1, body.Succeeded)
	assert.Equal(t, 2, body.Failed)
	require.Len(t, body.Results, 3)
	assert.True(t, body.Results[0].OK)
	assert.Equal(t, "conflict", string(body.Results[1].ErrorKind))
	assert.Equal(t, "not_found", string(body.Results[2].ErrorKind))

	other := testutil.SeedTable(t, s.db, 1, 3)
	w, _ = s.do(t, http.MethodPost, "/tables/activate/bulk", gin.H{"table_ids": []uint{other.ID}}, tokenFor(t, ana))
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPost, "/tables/activate/bulk", gin.H{"table_ids": []uint{}}, tokenFor(t, ana))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActivateAndDeactivate(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	budi := testutil.SeedWaiter(t, s.db, 1, "Budi", "budi@example.com")
	table := testutil.SeedTable(t, s.db, 1, 4)

	w, _ := s.do(t, http.MethodPost, "/tables/activate", gin.H{}, tokenFor(t, ana))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := s.do(t, http.MethodPost, "/tables/activate", gin.H{"table_id": table.ID}, tokenFor(t, ana))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.Table
	env.decode(t, &got)
	require.NotNil(t, got.ActiveWaiterID)
	assert.Equal(t, ana.ID, *got.ActiveWaiterID)

	w, env = s.do(t, http.MethodPost, "/tables/activate", gin.H{"table_id": table.ID}, tokenFor(t, budi))
	require.Equal(t, http.StatusConflict, w.Code)
	var details map[string]interface{}
	env.decode(t, &details)
	assert.EqualValues(t, ana.ID, details["current_waiter_id"])

	w, _ = s.do(t, http.MethodPost, "/tables/deactivate", gin.H{"table_id": table.ID}, tokenFor(t, budi))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodPost, "/tables/deactivate", gin.H{"table_id": table.ID}, tokenFor(t, ana))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSilenceEndpoints(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	table := s.assigned(t, ana, 5)
	token := tokenFor(t, ana)
	path := "/tables/" + strconv.Itoa(int(table.ID)) + "/silence"

	w, _ := s.do(t, http.MethodPost, path, gin.H{"duration_minutes": 500}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := s.do(t, http.MethodPost, path, gin.H{"duration_minutes": 15, "notes": "birthday party"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var silence models.TableSilence
	env.decode(t, &silence)
	assert.Equal(t, 15, silence.DurationMinutes)
	assert.Equal(t, models.SilenceReasonManual, silence.Reason)

	w, _ = s.do(t, http.MethodPost, path, nil, token)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodPost, callPath(table.ID), nil, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w, env = s.do(t, http.MethodGet, path, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Silenced bool `json:"silenced"`
	}
	env.decode(t, &status)
	assert.True(t, status.Silenced)

	w, _ = s.do(t, http.MethodDelete, path, nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodDelete, path, nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoginAndLogout(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	s.assigned(t, ana, 1)
	s.assigned(t, ana, 2)

	w, _ := s.do(t, http.MethodPost, "/login", gin.H{"email": "ana@example.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = s.do(t, http.MethodPost, "/login", gin.H{"email": "not-an-email"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := s.do(t, http.MethodPost, "/login", gin.H{"email": "ana@example.com", "password": "secret123"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		Token     string      `json:"token"`
		ExpiresIn int         `json:"expires_in"`
		User      models.User `json:"user"`
	}
	env.decode(t, &login)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, 7200, login.ExpiresIn)
	assert.Equal(t, ana.ID, login.User.ID)

	w, env = s.do(t, http.MethodGet, "/tables", nil, login.Token)
	require.Equal(t, http.StatusOK, w.Code)
	var tables []models.Table
	env.decode(t, &tables)
	assert.Len(t, tables, 2)

	w, env = s.do(t, http.MethodPost, "/logout", nil, login.Token)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Released int `json:"released_tables"`
	}
	env.decode(t, &out)
	assert.Equal(t, 2, out.Released)

	w, _ = s.do(t, http.MethodGet, "/tables", nil, login.Token)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "revoked token must be rejected")
}

func TestAdminTableSetup(t *testing.T) {
	s := newServer(t)
	admin := testutil.SeedAdmin(t, s.db, 1, "admin@example.com")
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")

	w, env := s.do(t, http.MethodPost, "/admin/tables", gin.H{"number": 7}, tokenFor(t, admin))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var table models.Table
	env.decode(t, &table)
	assert.True(t, table.NotificationsEnabled)

	w, _ = s.do(t, http.MethodPost, "/admin/tables", gin.H{"number": 7}, tokenFor(t, admin))
	assert.Equal(t, http.StatusConflict, w.Code)
	w, _ = s.do(t, http.MethodPost, "/admin/tables", gin.H{"number": 8}, tokenFor(t, ana))
	assert.Equal(t, http.StatusForbidden, w.Code)

	testutil.AssignTable(t, s.db, &table, ana.ID, s.clock.Now())
	path := "/admin/tables/" + strconv.Itoa(int(table.ID))
	w, _ = s.do(t, http.MethodPatch, path, gin.H{}, tokenFor(t, admin))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(t, http.MethodPatch, path, gin.H{"notifications_enabled": false}, tokenFor(t, admin))
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPost, callPath(table.ID), nil, "")
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestArchiveWaiterEndpoint(t *testing.T) {
	s := newServer(t)
	admin := testutil.SeedAdmin(t, s.db, 1, "admin@example.com")
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	s.assigned(t, ana, 1)
	path := "/admin/waiters/" + strconv.Itoa(int(ana.ID)) + "/archive"

	w, _ := s.do(t, http.MethodPost, path, nil, tokenFor(t, ana))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := s.do(t, http.MethodPost, path, nil, tokenFor(t, admin))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Released int `json:"released_tables"`
	}
	env.decode(t, &out)
	assert.Equal(t, 1, out.Released)

	w, _ = s.do(t, http.MethodPost, "/admin/waiters/0/archive", nil, tokenFor(t, admin))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterDeviceEndpoint(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	token := tokenFor(t, ana)

	w, env := s.do(t, http.MethodPost, "/devices", gin.H{"platform": "fcm", "token": "phone-token"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var device models.DeviceToken
	env.decode(t, &device)
	assert.Equal(t, ana.ID, device.UserID)

	w, _ = s.do(t, http.MethodPost, "/devices", gin.H{"platform": "apns", "token": "x"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(t, http.MethodPost, "/devices", gin.H{"platform": "fcm"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmptyBodyOfUnknownLength(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	table := s.assigned(t, ana, 5)

	// a chunked request carrying no payload
	send := func(method, path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, io.NopCloser(strings.NewReader("")))
		req.ContentLength = -1
		req.TransferEncoding = []string{"chunked"}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		return w
	}

	w := send(http.MethodPost, callPath(table.ID), "")
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = send(http.MethodPost, "/tables/"+strconv.Itoa(int(table.ID))+"/silence", tokenFor(t, ana))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = s.do(t, http.MethodPost, callPath(table.ID), nil, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMalformedBodyIsRejected(t *testing.T) {
	s := newServer(t)
	ana := testutil.SeedWaiter(t, s.db, 1, "Ana", "ana@example.com")
	table := s.assigned(t, ana, 5)

	req := httptest.NewRequest(http.MethodPost, callPath(table.ID), strings.NewReader(`{"message":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
