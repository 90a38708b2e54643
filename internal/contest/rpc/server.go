package rpc

import (
	"context"
	"net/netip"
	"time"

	"ojtrust/internal/contest/model"
	"ojtrust/internal/contest/policy"
	pkgerrors "ojtrust/pkg/errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AdmissionChecker is the contest service surface exposed over gRPC.
type AdmissionChecker interface {
	CanCompete(ctx context.Context, user model.User, contestID int64, sourceIP *netip.Addr) (policy.Decision, error)
	CheckSubmission(ctx context.Context, user model.User, contestID int64, sourceIP *netip.Addr, now time.Time) (policy.Decision, error)
}

// AdmissionRPCServer implements the admission gRPC service.
type AdmissionRPCServer struct {
	service AdmissionChecker
	now     func() time.Time
}

// NewAdmissionRPCServer creates a new gRPC server.
func NewAdmissionRPCServer(svc AdmissionChecker) *AdmissionRPCServer {
	return &AdmissionRPCServer{service: svc, now: time.Now}
}

// ServerOptions returns the options a grpc.Server needs to serve admission calls.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ForceServerCodec(jsonCodec{})}
}

// RegisterAdmissionService registers the gRPC server.
func RegisterAdmissionService(grpcServer *grpc.Server, svc AdmissionChecker) {
	grpcServer.RegisterService(&AdmissionServiceDesc, NewAdmissionRPCServer(svc))
}

// CanCompete evaluates the admission policy.
func (s *AdmissionRPCServer) CanCompete(ctx context.Context, req *CanCompeteRequest) (*CanCompeteResponse, error) {
	if req == nil || req.ContestID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "contest_id is required")
	}
	ip, err := parseSourceIP(req.SourceIP)
	if err != nil {
		return nil, err
	}
	decision, err := s.service.CanCompete(ctx, toUser(req.User), req.ContestID, ip)
	if err != nil {
		return nil, mapError(err)
	}
	return &CanCompeteResponse{Allowed: decision.Allowed, Reason: string(decision.Reason)}, nil
}

// CheckSubmission evaluates admission plus the contest window. Refusals are
// reported in the response; only lookup failures become gRPC errors.
func (s *AdmissionRPCServer) CheckSubmission(ctx context.Context, req *CheckSubmissionRequest) (*CheckSubmissionResponse, error) {
	if req == nil || req.ContestID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "contest_id is required")
	}
	ip, err := parseSourceIP(req.SourceIP)
	if err != nil {
		return nil, err
	}
	at := s.now()
	if req.At > 0 {
		at = time.UnixMilli(req.At)
	}

	decision, err := s.service.CheckSubmission(ctx, toUser(req.User), req.ContestID, ip, at)
	if err != nil {
		switch pkgerrors.GetCode(err) {
		case pkgerrors.ContestAccessDenied:
			return &CheckSubmissionResponse{Allowed: false, Reason: string(decision.Reason)}, nil
		case pkgerrors.ContestNotStarted:
			return &CheckSubmissionResponse{Allowed: false, Reason: "not_started"}, nil
		case pkgerrors.ContestEnded:
			return &CheckSubmissionResponse{Allowed: false, Reason: "ended"}, nil
		}
		return nil, mapError(err)
	}
	return &CheckSubmissionResponse{Allowed: true, Reason: string(decision.Reason)}, nil
}

func toUser(u AdmissionUser) model.User {
	return model.User{ID: u.ID, Admin: u.Admin, GroupID: u.GroupID}
}

func parseSourceIP(raw string) (*netip.Addr, error) {
	if raw == "" {
		return nil, nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "source_ip is not a valid address")
	}
	return &addr, nil
}

func mapError(err error) error {
	code := pkgerrors.GetCode(err)
	switch code {
	case pkgerrors.ContestNotFound, pkgerrors.NotFound:
		return status.Error(codes.NotFound, code.Message())
	case pkgerrors.InvalidParams:
		return status.Error(codes.InvalidArgument, code.Message())
	case pkgerrors.Unauthorized:
		return status.Error(codes.Unauthenticated, code.Message())
	case pkgerrors.Forbidden, pkgerrors.PermissionDenied:
		return status.Error(codes.PermissionDenied, code.Message())
	default:
		return status.Error(codes.Internal, code.Message())
	}
}
