package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) Push(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {

	// fall back to the metadata header
	if req.ClientID == "" {
		req.ClientID = ClientIDFromContext(ctx)
	}

	resp, err := s.authority.Push(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	return resp, nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *syncproto.PingRequest) (*syncproto.PingResponse, error) {

	return &syncproto.PingResponse{Status: syncproto.StatusOK}, nil

}

func mapError(err error) error {
	switch {
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
