package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type GRPCClient struct {
	endpointURL string
	clientID    string
	conn        *grpc.ClientConn
	client      syncproto.SyncClient
}

type idempotencyKey struct{}

func withIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

func withMetadata(ctx context.Context, kv ...string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		md.Set(kv[i], kv[i+1])
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) metadataInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	ctx = withMetadata(ctx,
		common.ClientIDHeaderName, s.clientID,
		common.IdempotencyHeaderName, key)

	return invoker(ctx, method, req, reply, cc, opts...)
}

func NewGRPCClient(endpointURL, clientID string) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, clientID: clientID}
	if err := c.InitGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient() error {
	conn, err := grpc.NewClient(s.endpointURL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.metadataInterceptor))
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = syncproto.NewSyncClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	resp, err := s.client.Ping(ctx, &syncproto.PingRequest{})
	if err != nil {
		return s.mapError(err)
	}
	if resp.Status != syncproto.StatusOK {
		return ErrUnavailable
	}
	return nil
}

func (s *GRPCClient) Push(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
	ctx = withIdempotencyKey(ctx, req.IdempotencyKey)

	resp, err := s.client.Push(ctx, req)
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", common.ErrTimeout, err)
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", common.ErrTimeout, st.Message())
	case codes.Unavailable, codes.Canceled, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %s", common.ErrNetwork, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
