package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const admissionServiceName = "ojtrust.contest.v1.AdmissionService"

// AdmissionUser identifies the subject of an admission check.
type AdmissionUser struct {
	ID      int64 `json:"id"`
	Admin   bool  `json:"admin"`
	GroupID int64 `json:"group_id"`
}

type CanCompeteRequest struct {
	ContestID int64         `json:"contest_id"`
	User      AdmissionUser `json:"user"`
	// SourceIP is empty when the caller does not know the client address.
	SourceIP string `json:"source_ip,omitempty"`
}

type CanCompeteResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

type CheckSubmissionRequest struct {
	ContestID int64         `json:"contest_id"`
	User      AdmissionUser `json:"user"`
	SourceIP  string        `json:"source_ip,omitempty"`
	// At is the submission time in unix milliseconds; zero means now.
	At int64 `json:"at,omitempty"`
}

type CheckSubmissionResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// AdmissionServiceServer is implemented by the admission gRPC server.
type AdmissionServiceServer interface {
	CanCompete(ctx context.Context, req *CanCompeteRequest) (*CanCompeteResponse, error)
	CheckSubmission(ctx context.Context, req *CheckSubmissionRequest) (*CheckSubmissionResponse, error)
}

func canCompeteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CanCompeteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdmissionServiceServer).CanCompete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + admissionServiceName + "/CanCompete"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdmissionServiceServer).CanCompete(ctx, req.(*CanCompeteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func checkSubmissionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckSubmissionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdmissionServiceServer).CheckSubmission(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + admissionServiceName + "/CheckSubmission"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdmissionServiceServer).CheckSubmission(ctx, req.(*CheckSubmissionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AdmissionServiceDesc describes the admission service for grpc.Server.
var AdmissionServiceDesc = grpc.ServiceDesc{
	ServiceName: admissionServiceName,
	HandlerType: (*AdmissionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CanCompete", Handler: canCompeteHandler},
		{MethodName: "CheckSubmission", Handler: checkSubmissionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ojtrust/contest/v1/admission",
}
