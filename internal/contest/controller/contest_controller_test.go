package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"ojtrust/internal/common/http/middleware"
	"ojtrust/internal/contest/model"
	"ojtrust/internal/contest/policy"
	"ojtrust/internal/contest/service"
	pkgerrors "ojtrust/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const secret = "contest-secret"

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type stubContests struct {
	user     model.User
	sourceIP *netip.Addr
	input    service.CreateContestInput
	loads    int
}

func (s *stubContests) CreateContest(_ context.Context, actor model.User, input service.CreateContestInput) (*model.Contest, error) {
	s.user, s.input = actor, input
	return &model.Contest{ID: 3, Title: input.Title}, nil
}

func (s *stubContests) Admission(_ context.Context, user model.User, contestID int64, sourceIP *netip.Addr) (*model.Contest, policy.Decision, error) {
	s.user, s.sourceIP = user, sourceIP
	s.loads++
	if contestID != 1 {
		return nil, policy.Decision{}, pkgerrors.New(pkgerrors.ContestNotFound)
	}
	contest := &model.Contest{
		ID:              1,
		Visible:         true,
		AllowedIPRanges: []string{"10.0.0.0/8"},
		StartTime:       now.Add(-time.Hour),
		EndTime:         now.Add(time.Hour),
	}
	return contest, policy.Decide(user, contest, sourceIP), nil
}

func (s *stubContests) VisibleContests(_ context.Context, user model.User, _ *netip.Addr, _ time.Time) ([]*model.Contest, error) {
	s.user = user
	if user.Anonymous() {
		return []*model.Contest{}, nil
	}
	return []*model.Contest{{ID: 1}}, nil
}

func bearer(t *testing.T, userID int64, role string, group int64) string {
	t.Helper()
	claims := middleware.AccessClaims{
		Role:      role,
		GroupID:   group,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    "ojtrust",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func newTestRouter(t *testing.T) (*gin.Engine, *stubContests) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	stub := &stubContests{}
	h := NewContestController(stub)
	h.now = func() time.Time { return now }
	r := gin.New()
	require.NoError(t, r.SetTrustedProxies(nil))
	h.RegisterRoutes(r, middleware.NewAuthenticator(secret, "ojtrust"))
	return r, stub
}

func send(r http.Handler, method, path, token, remote string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if remote != "" {
		req.RemoteAddr = remote
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) json.RawMessage {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Data
}

func TestAdmissionUsesClientAddress(t *testing.T) {
	r, stub := newTestRouter(t)

	w := send(r, http.MethodGet, "/api/v1/contests/1/admission", bearer(t, 7, "user", 4), "10.1.2.3:5555", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, model.User{ID: 7, GroupID: 4}, stub.user)
	require.Equal(t, "10.1.2.3", stub.sourceIP.String())
	require.JSONEq(t, `{"contest_id":1,"allowed":true,"reason":"admitted","window":"running"}`, string(dataOf(t, w)))
	require.Equal(t, 1, stub.loads)

	w = send(r, http.MethodGet, "/api/v1/contests/1/admission", bearer(t, 7, "user", 4), "172.16.0.1:5555", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"contest_id":1,"allowed":false,"reason":"ip_not_allowed","window":"running"}`, string(dataOf(t, w)))
}

func TestAdmissionAnonymousAndMissing(t *testing.T) {
	r, _ := newTestRouter(t)

	w := send(r, http.MethodGet, "/api/v1/contests/1/admission", "", "10.1.2.3:5555", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"contest_id":1,"allowed":false,"reason":"anonymous","window":"running"}`, string(dataOf(t, w)))

	w = send(r, http.MethodGet, "/api/v1/contests/2/admission", "", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = send(r, http.MethodGet, "/api/v1/contests/x/admission", "", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateContestRequiresAdmin(t *testing.T) {
	r, stub := newTestRouter(t)
	body := map[string]interface{}{
		"title":      "cup",
		"start_time": now.Format(time.RFC3339),
		"end_time":   now.Add(time.Hour).Format(time.RFC3339),
		"groups":     []int64{2},
	}

	w := send(r, http.MethodPost, "/api/v1/contests", bearer(t, 7, "user", 0), "", body)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = send(r, http.MethodPost, "/api/v1/contests", bearer(t, 1, "admin", 0), "", body)
	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, stub.user.Admin)
	require.True(t, stub.input.Visible)
	require.Equal(t, []int64{2}, stub.input.Groups)
	require.True(t, stub.input.StartTime.Equal(now))

	w = send(r, http.MethodPost, "/api/v1/contests", bearer(t, 1, "admin", 0), "", map[string]string{"title": "x"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVisibleContests(t *testing.T) {
	r, stub := newTestRouter(t)

	w := send(r, http.MethodGet, "/api/v1/contests/visible", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[]`, string(dataOf(t, w)))

	w = send(r, http.MethodGet, "/api/v1/contests/visible", bearer(t, 9, "user", 1), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(9), stub.user.ID)
}
