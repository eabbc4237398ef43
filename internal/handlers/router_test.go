package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/freight-ledger/internal/allocator"
	"github.com/ukydev/freight-ledger/internal/auth"
	"github.com/ukydev/freight-ledger/internal/db"
	"github.com/ukydev/freight-ledger/internal/export"
	"github.com/ukydev/freight-ledger/internal/middleware"
	"github.com/ukydev/freight-ledger/internal/models"
	"github.com/ukydev/freight-ledger/internal/pod"
	"github.com/ukydev/freight-ledger/internal/trips"
	"github.com/xuri/excelize/v2"
)

type testServer struct {
	handler     http.Handler
	authService *auth.Service
	users       *db.MemoryUserCollection
	store       *db.MemoryTripStore

	adminToken string
	clerkToken string
	ownerToken string
}

type serverOptions struct {
	podMaxBytes    int64
	loginRateLimit int
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	authService := newAuthService(t)
	users := db.NewMemoryUserCollection()
	store := db.NewMemoryTripStore()
	pods, err := pod.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	manager := trips.NewManager(store, allocator.NewSequenceAllocator(store), pods, nil)
	query := trips.NewQuery(store, pods)
	authHandler := NewAuthHandler(authService, users)

	if opts.loginRateLimit == 0 {
		opts.loginRateLimit = 100
	}
	s := &testServer{
		handler: NewRouter(RouterConfig{
			Auth:           authHandler,
			Trips:          NewTripHandler(manager, query, opts.podMaxBytes),
			Reports:        NewReportHandler(query),
			Health:         store,
			AuthMiddleware: middleware.NewAuthMiddleware(authService, users),
			LoginRateLimit: opts.loginRateLimit,
		}),
		authService: authService,
		users:       users,
		store:       store,
	}
	s.adminToken = s.addUser(t, "admin@example.com", "Admin", models.RoleAdmin)
	s.clerkToken = s.addUser(t, "clerk@example.com", "Clerk", models.RoleUser)
	s.ownerToken = s.addUser(t, "9876543210", "Ramesh", models.RoleMotorOwner)
	return s
}

func (s *testServer) addUser(t *testing.T, email, name string, role models.Role) string {
	t.Helper()
	hash, err := s.authService.HashPassword("password123")
	require.NoError(t, err)
	user := models.User{Email: email, Name: name, Role: role, PasswordHash: hash}
	require.NoError(t, s.users.InsertUser(context.Background(), user))
	token, err := s.authService.GenerateToken(&user)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, tripID, token, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/trips/"+tripID+"/pod", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeTrip(t *testing.T, w *httptest.ResponseRecorder) models.Trip {
	t.Helper()
	var trip models.Trip
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trip), w.Body.String())
	return trip
}

func assertAmount(t *testing.T, want string, got *decimal.Decimal) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, decimal.RequireFromString(want).Equal(*got), "want %s, got %s", want, got)
}

// hiredTripBody is the payload a dispatch clerk sends for a hired vehicle.
func hiredTripBody(ownerMobile string) map[string]any {
	return map[string]any{
		"loading_date":       "2026-03-10",
		"vehicle_number":     "MH12AB1234",
		"driver_mobile":      "9000000001",
		"is_own_vehicle":     false,
		"motor_owner_name":   "Ramesh",
		"motor_owner_mobile": ownerMobile,
		"gadi_bhada":         50000,
		"gadi_advance":       20000,
		"party_name":         "Acme Traders",
		"party_mobile":       "9000000002",
		"party_freight":      75000,
		"party_advance":      25000,
		"from_location":      "Pune",
		"to_location":        "Nagpur",
	}
}

func currentYearID(seq int) string {
	return fmt.Sprintf("%d_%d", time.Now().UTC().Year(), seq)
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	w := s.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestRouter_RequiresToken(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	w := s.do(t, "GET", "/api/trips", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_TripLifecycle(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	w := s.do(t, "POST", "/api/trips", s.clerkToken, hiredTripBody("9876543210"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeTrip(t, w)
	assert.Equal(t, currentYearID(1), created.TripID)
	assertAmount(t, "50000", created.PartyBalance)
	assertAmount(t, "30000", created.GadiBalance)
	assert.Equal(t, models.StatusLoaded, created.Status)
	assert.Equal(t, models.SettlementPending, created.SettlementStatus)
	assert.Equal(t, "clerk@example.com", created.CreatedBy)

	path := "/api/trips/" + created.TripID

	t.Run("advance update recomputes balance", func(t *testing.T) {
		w := s.do(t, "PUT", path, s.clerkToken, map[string]any{"party_advance": 40000})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		updated := decodeTrip(t, w)
		assertAmount(t, "35000", updated.PartyBalance)
		assertAmount(t, "30000", updated.GadiBalance)
	})

	t.Run("null clears an optional field", func(t *testing.T) {
		w := s.do(t, "PUT", path, s.clerkToken, map[string]any{"remarks": "fragile"})
		require.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, decodeTrip(t, w).Remarks)

		w = s.do(t, "PUT", path, s.clerkToken, map[string]any{"remarks": nil})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, decodeTrip(t, w).Remarks)
	})

	t.Run("clearing a required field is rejected", func(t *testing.T) {
		w := s.do(t, "PUT", path, s.clerkToken, map[string]any{"party_name": nil})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("motor owner sees own trip without freight", func(t *testing.T) {
		w := s.do(t, "GET", "/api/trips", s.ownerToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list []map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		require.Len(t, list, 1)
		assert.NotContains(t, list[0], "party_freight")
		assert.NotContains(t, list[0], "party_balance")
		assert.Contains(t, list[0], "gadi_balance")
	})

	t.Run("motor owner may not edit", func(t *testing.T) {
		w := s.do(t, "PUT", path, s.ownerToken, map[string]any{"remarks": "x"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("completed trip is locked for users", func(t *testing.T) {
		w := s.do(t, "PUT", path, s.adminToken, map[string]any{"status": models.StatusCompleted})
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, "PUT", path, s.clerkToken, map[string]any{"remarks": "late"})
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = s.do(t, "PUT", path, s.adminToken, map[string]any{"settlement_status": models.SettlementSettled})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.SettlementSettled, decodeTrip(t, w).SettlementStatus)
	})

	t.Run("only admins delete", func(t *testing.T) {
		w := s.do(t, "DELETE", path, s.clerkToken, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = s.do(t, "DELETE", path, s.adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, "GET", path, s.adminToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = s.do(t, "DELETE", path, s.adminToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRouter_CreateRejections(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	w := s.do(t, "POST", "/api/trips", s.ownerToken, hiredTripBody("9876543210"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	body := hiredTripBody("9876543210")
	delete(body, "party_freight")
	w = s.do(t, "POST", "/api/trips", s.clerkToken, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "party_freight")

	body = hiredTripBody("9876543210")
	body["loading_date"] = "10/03/2026"
	w = s.do(t, "POST", "/api/trips", s.clerkToken, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_MotorOwnerCannotSeeOthersTrips(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	w := s.do(t, "POST", "/api/trips", s.clerkToken, hiredTripBody("9123456789"))
	require.Equal(t, http.StatusCreated, w.Code)
	tripID := decodeTrip(t, w).TripID

	w = s.do(t, "GET", "/api/trips/"+tripID, s.ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "GET", "/api/trips", s.ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestRouter_POD(t *testing.T) {
	s := newTestServer(t, serverOptions{podMaxBytes: 1024})

	w := s.do(t, "POST", "/api/trips", s.clerkToken, hiredTripBody("9876543210"))
	require.Equal(t, http.StatusCreated, w.Code)
	tripID := decodeTrip(t, w).TripID

	w = s.do(t, "GET", "/api/trips/"+tripID+"/pod", s.clerkToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	content := []byte("signed delivery receipt")
	w = s.upload(t, tripID, s.ownerToken, "receipt.JPG", content)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var uploaded PODUploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &uploaded))
	assert.Equal(t, tripID+"_pod.jpg", uploaded.Filename)

	w = s.do(t, "GET", "/api/trips/"+tripID+"/pod", s.clerkToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, content, w.Body.Bytes())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), tripID+"_pod.jpg")

	t.Run("too large", func(t *testing.T) {
		w := s.upload(t, tripID, s.clerkToken, "big.pdf", bytes.Repeat([]byte("x"), 200<<10))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("missing file field", func(t *testing.T) {
		w := s.do(t, "POST", "/api/trips/"+tripID+"/pod", s.clerkToken, map[string]string{"file": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown trip", func(t *testing.T) {
		w := s.upload(t, "1999_1", s.clerkToken, "a.png", content)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRouter_Analytics(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	for range 2 {
		w := s.do(t, "POST", "/api/trips", s.clerkToken, hiredTripBody("9876543210"))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := s.do(t, "GET", "/api/analytics/parties", s.clerkToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, "GET", "/api/analytics/parties", s.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var parties []models.PartyAnalytics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parties))
	require.Len(t, parties, 1)
	assert.Equal(t, 2, parties[0].TotalTrips)
	assert.True(t, decimal.NewFromInt(100000).Equal(parties[0].OutstandingBalance))

	w = s.do(t, "GET", "/api/analytics/motor-owners", s.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var owners []models.MotorOwnerAnalytics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &owners))
	require.Len(t, owners, 1)
	assert.True(t, decimal.NewFromInt(60000).Equal(owners[0].OutstandingBalance))
}

func TestRouter_Export(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	w := s.do(t, "POST", "/api/trips", s.clerkToken, hiredTripBody("9876543210"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, "GET", "/api/export/trips", s.clerkToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, "GET", "/api/export/trips?month=3&year=2026", s.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.Regexp(t, `trips_export_\d{8}_\d{6}\.xlsx`, w.Header().Get("Content-Disposition"))

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Trips")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Trip ID", rows[0][0])

	w = s.do(t, "GET", "/api/export/trips?from=2026-04-01&to=2026-05-01", s.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	f2, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f2.Close()
	rows, err = f2.GetRows("Trips")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	for _, q := range []string{"?month=3", "?month=13&year=2026", "?from=2026-13-01", "?month=3&year=2026&from=2026-01-01", "?from=2026-05-01&to=2026-04-01"} {
		w := s.do(t, "GET", "/api/export/trips"+q, s.adminToken, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestRouter_RegisterAndLogin(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	w := s.do(t, "POST", "/api/auth/register", "", models.RegisterRequest{
		Email: "new@example.com", Password: "password123", Name: "New",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, "POST", "/api/auth/register", "", models.RegisterRequest{
		Email: "new@example.com", Password: "password123", Name: "New",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "POST", "/api/auth/register", s.adminToken, models.RegisterRequest{
		Email: "admin2@example.com", Password: "password123", Name: "Admin Two", Role: models.RoleAdmin,
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, "POST", "/api/auth/login", "", models.LoginRequest{Email: "new@example.com", Password: "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	var login models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	w = s.do(t, "GET", "/api/auth/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "new@example.com")
}

func TestRouter_LoginRateLimit(t *testing.T) {
	s := newTestServer(t, serverOptions{loginRateLimit: 2})
	creds := models.LoginRequest{Email: "clerk@example.com", Password: "wrongpassword"}

	for range 2 {
		w := s.do(t, "POST", "/api/auth/login", "", creds)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := s.do(t, "POST", "/api/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
