package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
	"google.golang.org/grpc"
)

// Authority decides pushed mutations.
type Authority interface {
	Push(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error)
}

type GRPCServer struct {
	address   string
	authority Authority
	logger    logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, authority Authority) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		authority: authority,
	}
}

// newServer builds the grpc.Server with the sync service registered.
func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.clientIDInterceptor, s.loggingInterceptor))
	syncproto.RegisterSyncServer(srv, s)
	return srv
}

// Run serves until ctx is cancelled, then stops gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
