package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/logging"
	pb "github.com/dmitrijs2005/famsync/internal/proto"
)

const DefaultCallTimeout = 15 * time.Second

// TokenRefresher returns a fresh access token after the authority reported
// the current one as expired.
type TokenRefresher func(ctx context.Context) (string, error)

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      pb.AuthorityClient

	dialOpts    []grpc.DialOption
	callTimeout time.Duration
	refresh     TokenRefresher
	log         logging.Logger

	mu          sync.RWMutex
	accessToken string
	deviceID    string
}

type Option func(*GRPCClient)

// WithDialOptions appends dial options, e.g. a bufconn dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *GRPCClient) { c.dialOpts = append(c.dialOpts, opts...) }
}

func WithAccessToken(token string) Option {
	return func(c *GRPCClient) { c.accessToken = token }
}

func WithDeviceID(id string) Option {
	return func(c *GRPCClient) { c.deviceID = id }
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *GRPCClient) { c.callTimeout = d }
}

func WithTokenRefresher(f TokenRefresher) Option {
	return func(c *GRPCClient) { c.refresh = f }
}

func WithLogger(l logging.Logger) Option {
	return func(c *GRPCClient) { c.log = l }
}

// New connects to the authority at endpointURL. The connection is lazy:
// no I/O happens until the first call.
func New(endpointURL string, opts ...Option) (*GRPCClient, error) {
	c := &GRPCClient{
		endpointURL: endpointURL,
		callTimeout: DefaultCallTimeout,
		log:         logging.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("module", "grpc_client")
	if err := c.InitGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *GRPCClient) InitGRPCClient() error {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, c.dialOpts...)

	conn, err := grpc.NewClient(c.endpointURL, opts...)
	if err != nil {
		return fmt.Errorf("failed to create grpc client: %w", err)
	}
	c.conn = conn
	c.client = pb.NewAuthorityClient(conn)
	return nil
}

func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *GRPCClient) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *GRPCClient) credentials() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken, c.deviceID
}

func withCredentials(ctx context.Context, token, deviceID string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	if token != "" {
		md.Set(common.AccessTokenHeaderName, token)
	}
	if deviceID != "" {
		md.Set(common.DeviceIDHeaderName, deviceID)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	token, deviceID := c.credentials()

	err := invoker(withCredentials(ctx, token, deviceID), method, req, reply, cc, opts...)
	if err == nil || c.refresh == nil {
		return err
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}

	fresh, rerr := c.refresh(ctx)
	if rerr != nil || fresh == "" || fresh == token {
		return err
	}
	c.SetAccessToken(fresh)
	c.log.Debug(ctx, "access token refreshed", "method", method)

	return invoker(withCredentials(ctx, fresh, deviceID), method, req, reply, cc, opts...)
}

func (c *GRPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// Invoke sends one envelope to the authority.
func (c *GRPCClient) Invoke(ctx context.Context, procedure string, env models.Envelope) (*models.RemoteResult, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	req, err := pb.Marshal(pb.InvokeRequest{Procedure: procedure, Envelope: raw})
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.Invoke(ctx, req)
	if err != nil {
		return nil, c.mapError(err)
	}

	var res models.RemoteResult
	if err := pb.Unmarshal(resp, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// InvokeBatch sends several envelopes in one call. Results are returned in
// envelope order.
func (c *GRPCClient) InvokeBatch(ctx context.Context, procedure string, envs []models.Envelope) ([]models.RemoteResult, error) {
	batch := pb.BatchRequest{Procedure: procedure, Envelopes: make([]json.RawMessage, 0, len(envs))}
	for _, env := range envs {
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("failed to encode envelope: %w", err)
		}
		batch.Envelopes = append(batch.Envelopes, raw)
	}
	req, err := pb.Marshal(batch)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.InvokeBatch(ctx, req)
	if err != nil {
		return nil, c.mapError(err)
	}

	var out pb.BatchResponse
	if err := pb.Unmarshal(resp, &out); err != nil {
		return nil, err
	}
	results := make([]models.RemoteResult, len(out.Results))
	for i, raw := range out.Results {
		if err := json.Unmarshal(raw, &results[i]); err != nil {
			return nil, fmt.Errorf("failed to decode result %d: %w", i, err)
		}
	}
	return results, nil
}

func (c *GRPCClient) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.Ping(ctx, &structpb.Struct{})
	if err != nil {
		return c.mapError(err)
	}

	var pong pb.PingResponse
	if err := pb.Unmarshal(resp, &pong); err != nil {
		return err
	}
	if pong.Status != pb.StatusOK {
		return ErrUnavailable
	}
	return nil
}

func (c *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrValidation, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
