package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// AdmissionClient calls a remote admission service.
type AdmissionClient struct {
	conn grpc.ClientConnInterface
}

// NewAdmissionClient creates a client on an existing connection.
func NewAdmissionClient(conn grpc.ClientConnInterface) *AdmissionClient {
	return &AdmissionClient{conn: conn}
}

func (c *AdmissionClient) CanCompete(ctx context.Context, req *CanCompeteRequest, opts ...grpc.CallOption) (*CanCompeteResponse, error) {
	out := new(CanCompeteResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(jsonCodec{})}, opts...)
	if err := c.conn.Invoke(ctx, "/"+admissionServiceName+"/CanCompete", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdmissionClient) CheckSubmission(ctx context.Context, req *CheckSubmissionRequest, opts ...grpc.CallOption) (*CheckSubmissionResponse, error) {
	out := new(CheckSubmissionResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(jsonCodec{})}, opts...)
	if err := c.conn.Invoke(ctx, "/"+admissionServiceName+"/CheckSubmission", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
