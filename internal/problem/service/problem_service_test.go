package service

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	contestmodel "ojtrust/internal/contest/model"
	"ojtrust/internal/problem/model"
	pkgerrors "ojtrust/pkg/errors"

	"github.com/stretchr/testify/require"
)

type problemFixture struct {
	store     *memStore
	board     *fakeBoard
	publisher *recordingPublisher
	gate      *fakeGate
	svc       *ProblemService
}

func newProblemFixture(quota int64) *problemFixture {
	store := newMemStore()
	f := &problemFixture{store: store, board: newFakeBoard(), publisher: &recordingPublisher{}, gate: &fakeGate{}}
	f.svc = NewProblemService(&fakeDB{store: store}, store, f.board, f.publisher, f.gate, quota)
	return f
}

// fakeGate admits the listed users when they come from 10.0.0.0/8.
type fakeGate struct {
	competitors map[int64]bool
	err         error
	calls       int
	lastUser    contestmodel.User
}

func (g *fakeGate) CanSeeProblems(_ context.Context, user contestmodel.User, _ int64, sourceIP *netip.Addr) (bool, error) {
	g.calls++
	g.lastUser = user
	if g.err != nil {
		return false, g.err
	}
	inRange := sourceIP != nil && netip.MustParsePrefix("10.0.0.0/8").Contains(*sourceIP)
	return g.competitors[user.ID] && inRange, nil
}

var (
	admin   = Actor{ID: 1, Admin: true}
	regular = Actor{ID: 2}
)

func TestCreateProblemValidity(t *testing.T) {
	f := newProblemFixture(3)
	ctx := context.Background()

	byAdmin, err := f.svc.CreateProblem(ctx, admin, CreateProblemInput{Title: "a", CollectionID: 1})
	require.NoError(t, err)
	require.Equal(t, model.ValidityValid, byAdmin.Validity)
	require.Equal(t, model.DifficultyMid, byAdmin.Difficulty)

	byUser, err := f.svc.CreateProblem(ctx, regular, CreateProblemInput{Title: "b", CollectionID: 1, Difficulty: "high"})
	require.NoError(t, err)
	require.Equal(t, model.ValidityPending, byUser.Validity)
	require.Equal(t, model.DifficultyHigh, byUser.Difficulty)
	require.Equal(t, regular.ID, byUser.OwnerID)
	require.True(t, f.board.has(byUser.ID))
}

func TestCreateProblemRejectsBadInput(t *testing.T) {
	f := newProblemFixture(3)
	ctx := context.Background()

	cases := []struct {
		name  string
		actor Actor
		input CreateProblemInput
		want  pkgerrors.ErrorCode
	}{
		{"anonymous", Actor{}, CreateProblemInput{Title: "x", CollectionID: 1}, pkgerrors.Unauthorized},
		{"empty title", regular, CreateProblemInput{Title: "  ", CollectionID: 1}, pkgerrors.ValidationFailed},
		{"two placements", regular, CreateProblemInput{Title: "x", CourseID: 1, CollectionID: 1}, pkgerrors.InvalidParams},
		{"contest by user", regular, CreateProblemInput{Title: "x", ContestID: 1}, pkgerrors.PermissionDenied},
		{"bad difficulty", regular, CreateProblemInput{Title: "x", CollectionID: 1, Difficulty: "extreme"}, pkgerrors.ValidationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateProblem(ctx, tc.actor, tc.input)
			require.Equal(t, tc.want, pkgerrors.GetCode(err))
		})
	}

	public, err := f.svc.CreateProblem(ctx, regular, CreateProblemInput{Title: "standalone"})
	require.NoError(t, err)
	require.True(t, public.Votable())
	require.Equal(t, model.ValidityPending, public.Validity)
	require.True(t, f.board.has(public.ID))

	contestProblem, err := f.svc.CreateProblem(ctx, admin, CreateProblemInput{Title: "c", ContestID: 9})
	require.NoError(t, err)
	require.False(t, f.board.has(contestProblem.ID))
}

func TestCreateProblemQuota(t *testing.T) {
	f := newProblemFixture(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.CreateProblem(ctx, regular, CreateProblemInput{Title: "p", CollectionID: 1})
		require.NoError(t, err)
	}
	ok, err := f.svc.CanCreate(ctx, regular)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.svc.CreateProblem(ctx, regular, CreateProblemInput{Title: "p", CollectionID: 1})
	require.Equal(t, pkgerrors.InvalidProblemsQuotaExceeded, pkgerrors.GetCode(err))

	_, err = f.svc.CreateProblem(ctx, regular, CreateProblemInput{Title: "course", CourseID: 4})
	require.NoError(t, err)

	ok, err = f.svc.CanCreate(ctx, admin)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.svc.CanCreate(ctx, Actor{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateProblemQuotaCountsCourseProblems(t *testing.T) {
	f := newProblemFixture(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.CreateProblem(ctx, regular, CreateProblemInput{Title: "lesson", CourseID: 4})
		require.NoError(t, err)
	}
	ok, err := f.svc.CanCreate(ctx, regular)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.svc.CreateProblem(ctx, regular, CreateProblemInput{Title: "public"})
	require.Equal(t, pkgerrors.InvalidProblemsQuotaExceeded, pkgerrors.GetCode(err))

	_, err = f.svc.CreateProblem(ctx, regular, CreateProblemInput{Title: "lesson", CourseID: 4})
	require.NoError(t, err)
}

func TestValidateProblem(t *testing.T) {
	f := newProblemFixture(3)
	ctx := context.Background()
	p, err := f.svc.CreateProblem(ctx, regular, CreateProblemInput{Title: "p", CollectionID: 1})
	require.NoError(t, err)

	_, err = f.svc.ValidateProblem(ctx, regular, p.ID)
	require.Equal(t, pkgerrors.PermissionDenied, pkgerrors.GetCode(err))

	validated, err := f.svc.ValidateProblem(ctx, admin, p.ID)
	require.NoError(t, err)
	require.Equal(t, model.ValidityValid, validated.Validity)
	require.Len(t, f.store.validations, 1)
	require.Equal(t, admin.ID, f.store.validations[0].ValidatorID)

	events := f.publisher.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, model.TriggerAdmin, events[0].Trigger)

	_, err = f.svc.ValidateProblem(ctx, admin, p.ID)
	require.Equal(t, pkgerrors.ProblemAlreadyValid, pkgerrors.GetCode(err))

	_, err = f.svc.ValidateProblem(ctx, admin, 404)
	require.Equal(t, pkgerrors.ProblemNotFound, pkgerrors.GetCode(err))
}

func TestGetProblem(t *testing.T) {
	f := newProblemFixture(3)
	ctx := context.Background()
	p, err := f.svc.CreateProblem(ctx, admin, CreateProblemInput{Title: "p", CollectionID: 1})
	require.NoError(t, err)

	got, err := f.svc.GetProblem(ctx, Actor{}, nil, p.ID)
	require.NoError(t, err)
	require.Equal(t, "p", got.Title)
	require.Zero(t, f.gate.calls)

	_, err = f.svc.GetProblem(ctx, Actor{}, nil, 77)
	require.Equal(t, pkgerrors.ProblemNotFound, pkgerrors.GetCode(err))
}

func TestGetContestProblemVisibility(t *testing.T) {
	f := newProblemFixture(3)
	f.gate.competitors = map[int64]bool{5: true}
	ctx := context.Background()
	p, err := f.svc.CreateProblem(ctx, admin, CreateProblemInput{Title: "final", ContestID: 3})
	require.NoError(t, err)

	inside := netip.MustParseAddr("10.1.2.3")
	outside := netip.MustParseAddr("192.168.1.1")
	cases := []struct {
		name   string
		actor  Actor
		source *netip.Addr
		found  bool
	}{
		{"anonymous", Actor{}, &inside, false},
		{"non competitor", Actor{ID: 6}, &inside, false},
		{"competitor outside range", Actor{ID: 5, GroupID: 2}, &outside, false},
		{"competitor without address", Actor{ID: 5, GroupID: 2}, nil, false},
		{"competitor", Actor{ID: 5, GroupID: 2}, &inside, true},
		{"admin", admin, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.svc.GetProblem(ctx, tc.actor, tc.source, p.ID)
			if !tc.found {
				require.Nil(t, got)
				require.Equal(t, pkgerrors.ProblemNotFound, pkgerrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, p.ID, got.ID)
		})
	}
	require.Equal(t, contestmodel.User{ID: 5, GroupID: 2}, f.gate.lastUser)
}

func TestGetContestProblemGateFailure(t *testing.T) {
	f := newProblemFixture(3)
	ctx := context.Background()
	p, err := f.svc.CreateProblem(ctx, admin, CreateProblemInput{Title: "final", ContestID: 3})
	require.NoError(t, err)

	f.gate.err = pkgerrors.Wrap(errors.New("redis down"), pkgerrors.CacheError)
	_, err = f.svc.GetProblem(ctx, regular, nil, p.ID)
	require.Equal(t, pkgerrors.CacheError, pkgerrors.GetCode(err))

	f.svc.contests = nil
	_, err = f.svc.GetProblem(ctx, regular, nil, p.ID)
	require.Equal(t, pkgerrors.ProblemNotFound, pkgerrors.GetCode(err))
}
