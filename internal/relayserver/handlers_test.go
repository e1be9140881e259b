package relayserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"

	"dual-chat/internal/relaytoken"
)

func TestHealthHandlerStatelessMode(t *testing.T) {
	srv := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.healthHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 in stateless mode, got %d", rr.Code)
	}
	var payload healthPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.DBEnabled {
		t.Fatalf("expected dbEnabled=false, got %+v", payload)
	}
}

func TestHealthHandlerWithDB(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	srv := New(db)
	mock.ExpectPing()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.healthHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterHandlerSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	srv := New(db)
	mock.ExpectExec("INSERT INTO relay_accounts").WithArgs("alice-stable", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	body := bytes.NewBufferString(`{"stableId":"alice-stable","password":"secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/register", body)
	rr := httptest.NewRecorder()
	srv.registerHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterHandlerRequiresDB(t *testing.T) {
	srv := New(nil)
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"stableId":"a","password":"b"}`))
	rr := httptest.NewRecorder()
	srv.registerHandler()(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestLoginHandlerSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	srv := New(db)
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)
	mock.ExpectQuery("SELECT password_hash FROM relay_accounts WHERE stable_id=\\$1").WithArgs("alice-stable").WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(string(hash)))
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"stableId":"alice-stable","password":"secret"}`))
	rr := httptest.NewRecorder()
	srv.loginHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.StableID != "alice-stable" || resp.Token == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got, err := relaytoken.Validate(resp.Token); err != nil || got != "alice-stable" {
		t.Fatalf("token does not validate: id=%q err=%v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoginHandlerWrongPassword(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	srv := New(db)
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)
	mock.ExpectQuery("SELECT password_hash FROM relay_accounts").WithArgs("alice-stable").WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(string(hash)))
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"stableId":"alice-stable","password":"nope"}`))
	rr := httptest.NewRecorder()
	srv.loginHandler()(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHistoryHandlerReturnsRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	srv := New(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"sender_id", "receiver_id", "content", "created_at"}).
		AddRow("bob-stable", "alice-stable", "hi", now)
	mock.ExpectQuery("(?s)SELECT.+FROM relay_messages").WithArgs("alice-stable").WillReturnRows(rows)
	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	req = req.WithContext(contextWithID(req.Context(), "alice-stable"))
	rr := httptest.NewRecorder()
	srv.historyHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var records []messageRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &records); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(records) != 1 || records[0].Message != "hi" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuthenticatedMiddleware(t *testing.T) {
	token, err := relaytoken.Issue("alice-stable")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	srv := New(nil)
	var seenID string
	handler := srv.authenticated()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = r.Context().Value(ctxIDKey{}).(string)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seenID != "alice-stable" {
		t.Fatalf("expected identity in context, got %q", seenID)
	}
}

func TestAuthenticatedMiddlewareRejectsMissingToken(t *testing.T) {
	srv := New(nil)
	handler := srv.authenticated()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRoutePatternFallsBackToPath(t *testing.T) {
	req := httptest.NewRequest("GET", "/healthz", nil)
	if got := routePattern(req); got != "/healthz" {
		t.Fatalf("expected path fallback, got %s", got)
	}
}

func TestClientOriginPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "1.1.1.1")
	req.RemoteAddr = "2.2.2.2"
	if got := clientOrigin(req); got != "1.1.1.1" {
		t.Fatalf("expected forwarded header, got %s", got)
	}
}
