// Package grpc exposes the authority service over gRPC as the
// famsync.v1.Authority service.
package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"

	wire "github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/logging"
	pb "github.com/dmitrijs2005/famsync/internal/proto"
)

// Authority applies envelopes on behalf of a user.
type Authority interface {
	Apply(ctx context.Context, userID string, env wire.Envelope) (wire.RemoteResult, error)
	ApplyBatch(ctx context.Context, userID string, envs []wire.Envelope) ([]wire.RemoteResult, error)
}

type GRPCServer struct {
	address   string
	authority Authority
	logger    logging.Logger
	jwtSecret []byte
	clock     func() time.Time
}

func NewGRPCServer(a string, l logging.Logger, authority Authority, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		authority: authority,
		jwtSecret: []byte(secretKey),
		clock:     time.Now,
	}
}

// NewServer builds a grpc.Server with the auth interceptor and the service
// registered.
func (s *GRPCServer) NewServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	pb.RegisterAuthorityServer(srv, s)
	return srv
}

// Run listens on the configured address until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis and stops gracefully when ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.NewServer()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Stopping gRPC server...")
			srv.GracefulStop()
		case <-stopped:
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
