package controller_test

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

	"ojtrust/internal/common/cache"
	"ojtrust/internal/common/http/middleware"
	"ojtrust/internal/problem/controller"
	"ojtrust/internal/problem/model"
	"ojtrust/internal/problem/moderation"
	"ojtrust/internal/problem/repository"
	"ojtrust/internal/problem/service"
	pkgerrors "ojtrust/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testSecret = "controller-secret"

type stubProblems struct {
	lastActor  service.Actor
	lastInput  service.CreateProblemInput
	lastSource *netip.Addr
	err        error
}

func (s *stubProblems) CreateProblem(_ context.Context, actor service.Actor, input service.CreateProblemInput) (*model.Problem, error) {
	s.lastActor, s.lastInput = actor, input
	if s.err != nil {
		return nil, s.err
	}
	return &model.Problem{ID: 10, OwnerID: actor.ID, Title: input.Title}, nil
}

func (s *stubProblems) CanCreate(_ context.Context, actor service.Actor) (bool, error) {
	s.lastActor = actor
	return actor.ID > 0, nil
}

func (s *stubProblems) GetProblem(_ context.Context, actor service.Actor, sourceIP *netip.Addr, problemID int64) (*model.Problem, error) {
	s.lastActor, s.lastSource = actor, sourceIP
	if s.err != nil {
		return nil, s.err
	}
	return &model.Problem{ID: problemID, Title: "t"}, nil
}

func (s *stubProblems) ValidateProblem(_ context.Context, actor service.Actor, problemID int64) (*model.Problem, error) {
	s.lastActor = actor
	return &model.Problem{ID: problemID, Validity: model.ValidityValid}, nil
}

type stubModeration struct {
	voteUser   int64
	voteUp     bool
	rankOffset int64
	rankLimit  int64
	voteErr    error
}

func (s *stubModeration) CastVote(_ context.Context, problemID, userID int64, isUp bool) (service.VoteOutcome, error) {
	s.voteUser, s.voteUp = userID, isUp
	if s.voteErr != nil {
		return service.VoteOutcome{}, s.voteErr
	}
	return service.VoteOutcome{Accepted: true, ProblemID: problemID, RunningScore: 1, Action: "none"}, nil
}

func (s *stubModeration) VoteStatus(_ context.Context, userID, _ int64) (model.VoteStatus, error) {
	s.voteUser = userID
	if userID == 0 {
		return model.VoteStatusNone, nil
	}
	return model.VoteStatusDown, nil
}

func (s *stubModeration) ListRanked(_ context.Context, offset, limit int64) ([]repository.RankEntry, int64, error) {
	s.rankOffset, s.rankLimit = offset, limit
	return []repository.RankEntry{{ProblemID: 3, RankScore: 0.8}}, 1, nil
}

func (s *stubModeration) EvaluateTrust(context.Context, int64) (moderation.Action, error) {
	return moderation.ActionDelete, nil
}

func (s *stubModeration) RecordSubmissionResult(_ context.Context, problemID int64, accepted bool) (*model.Problem, error) {
	p := &model.Problem{ID: problemID, SubmissionCount: 1}
	if accepted {
		p.AcceptedCount = 1
	}
	return p, nil
}

func (s *stubModeration) RecomputeDifficulty(context.Context, int64) (model.Difficulty, bool, error) {
	return model.DifficultyHigh, true, nil
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	claims := middleware.AccessClaims{
		Role:      role,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    "ojtrust",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func setup() (*gin.Engine, *stubProblems, *stubModeration) {
	gin.SetMode(gin.TestMode)
	problems, mod := &stubProblems{}, &stubModeration{}
	r := gin.New()
	r.Use(middleware.TraceContextMiddleware())
	controller.NewProblemController(problems, mod).RegisterRoutes(r, middleware.NewAuthenticator(testSecret, "ojtrust"))
	return r, problems, mod
}

func do(r http.Handler, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code pkgerrors.ErrorCode `json:"code"`
	Data json.RawMessage     `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestVoteRequiresToken(t *testing.T) {
	r, _, _ := setup()
	w := do(r, http.MethodPost, "/api/v1/problems/5/votes", "", map[string]bool{"up": true})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVote(t *testing.T) {
	r, _, mod := setup()
	w := do(r, http.MethodPost, "/api/v1/problems/5/votes", token(t, 21, "user"), map[string]bool{"up": false})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(21), mod.voteUser)
	require.False(t, mod.voteUp)

	var outcome service.VoteOutcome
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &outcome))
	require.Equal(t, int64(5), outcome.ProblemID)
}

func TestVoteValidatesBody(t *testing.T) {
	r, _, _ := setup()
	w := do(r, http.MethodPost, "/api/v1/problems/5/votes", token(t, 21, "user"), map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/problems/abc/votes", token(t, 21, "user"), map[string]bool{"up": true})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVoteErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{pkgerrors.New(pkgerrors.DuplicateVote), http.StatusConflict},
		{pkgerrors.New(pkgerrors.ProblemNotVotable), http.StatusUnprocessableEntity},
		{pkgerrors.New(pkgerrors.ProblemNotFound), http.StatusNotFound},
	}
	for _, tc := range cases {
		r, _, mod := setup()
		mod.voteErr = tc.err
		w := do(r, http.MethodPost, "/api/v1/problems/5/votes", token(t, 21, "user"), map[string]bool{"up": true})
		require.Equal(t, tc.status, w.Code)
		require.Equal(t, pkgerrors.GetCode(tc.err), decode(t, w).Code)
	}
}

func TestVoteStatusAnonymous(t *testing.T) {
	r, _, mod := setup()
	mod.voteUser = -1
	w := do(r, http.MethodGet, "/api/v1/problems/5/vote-status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Zero(t, mod.voteUser)
	require.JSONEq(t, `{"status":0}`, string(decode(t, w).Data))
}

func TestAdminRoutes(t *testing.T) {
	r, problems, _ := setup()

	w := do(r, http.MethodPut, "/api/v1/problems/5/validate", token(t, 21, "user"), nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPut, "/api/v1/problems/5/validate", token(t, 1, "admin"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, problems.lastActor.Admin)

	w = do(r, http.MethodPost, "/api/v1/problems/5/trust/evaluate", token(t, 1, "super_admin"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"problem_id":5,"action":"delete"}`, string(decode(t, w).Data))

	w = do(r, http.MethodPost, "/api/v1/problems/5/difficulty/recompute", token(t, 1, "admin"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"problem_id":5,"difficulty":"High","assigned":true}`, string(decode(t, w).Data))

	w = do(r, http.MethodPost, "/api/v1/problems/5/submissions", token(t, 1, "admin"), map[string]bool{"accepted": true})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateAndRead(t *testing.T) {
	r, problems, _ := setup()

	w := do(r, http.MethodPost, "/api/v1/problems", token(t, 8, "user"), map[string]interface{}{"title": "graph", "collection_id": 2})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, int64(8), problems.lastActor.ID)
	require.Equal(t, int64(2), problems.lastInput.CollectionID)

	w = do(r, http.MethodPost, "/api/v1/problems", token(t, 8, "user"), map[string]interface{}{"collection_id": 2})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/v1/problems/can-create", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"can_create":false}`, string(decode(t, w).Data))

	w = do(r, http.MethodGet, "/api/v1/problems/10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, service.Actor{}, problems.lastActor)
}

func TestGetPassesCallerAndAddress(t *testing.T) {
	r, problems, _ := setup()

	w := do(r, http.MethodGet, "/api/v1/problems/10", token(t, 8, "user"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(8), problems.lastActor.ID)
	require.False(t, problems.lastActor.Admin)
	require.NotNil(t, problems.lastSource)
	require.Equal(t, "192.0.2.1", problems.lastSource.String())

	problems.err = pkgerrors.New(pkgerrors.ProblemNotFound)
	w = do(r, http.MethodGet, "/api/v1/problems/10", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRanked(t *testing.T) {
	r, _, mod := setup()

	w := do(r, http.MethodGet, "/api/v1/problems/ranked", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(0), mod.rankOffset)
	require.Equal(t, int64(20), mod.rankLimit)

	w = do(r, http.MethodGet, "/api/v1/problems/ranked?offset=5&limit=7", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(5), mod.rankOffset)
	require.Equal(t, int64(7), mod.rankLimit)

	w = do(r, http.MethodGet, "/api/v1/problems/ranked?limit=x", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVoteRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisCache.Close() })

	problems, mod := &stubProblems{}, &stubModeration{}
	r := gin.New()
	controller.NewProblemController(problems, mod).
		WithRateLimits(middleware.NewRateLimiter(redisCache, time.Second),
			middleware.RateLimitPolicy{Max: 1, Window: time.Minute},
			middleware.RateLimitPolicy{}).
		RegisterRoutes(r, middleware.NewAuthenticator(testSecret, "ojtrust"))

	bearer := token(t, 21, "user")
	w := do(r, http.MethodPost, "/api/v1/problems/5/votes", bearer, map[string]bool{"up": true})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/api/v1/problems/6/votes", bearer, map[string]bool{"up": true})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, pkgerrors.TooManyRequests, decode(t, w).Code)

	w = do(r, http.MethodPost, "/api/v1/problems", bearer, map[string]interface{}{"title": "A", "collection_id": 1})
	require.NotEqual(t, http.StatusTooManyRequests, w.Code)
}
