package grpc

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dmitrijs2005/famsync/internal/client/client"
	wire "github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/logging"
	pb "github.com/dmitrijs2005/famsync/internal/proto"
	"github.com/dmitrijs2005/famsync/internal/server/auth"
	"github.com/dmitrijs2005/famsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/famsync/internal/server/services"
)

const secret = "test-secret"

func token(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, []byte(secret), ttl)
	require.NoError(t, err)
	return tok
}

func startServer(t *testing.T, opts ...client.Option) *client.GRPCClient {
	t.Helper()

	authority := services.NewAuthorityService(repomanager.NewMemoryRepositoryManager())
	s := NewGRPCServer("bufnet", logging.Nop(), authority, secret)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	opts = append(opts, client.WithDialOptions(grpc.WithContextDialer(dialer)), client.WithDeviceID("dev-a"))
	c, err := client.New("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func story(op wire.OperationType, id string, base int64, data string) wire.Envelope {
	env := wire.Envelope{
		OperationType: op,
		EntityType:    wire.EntityStory,
		EntityID:      id,
		DeviceID:      "dev-a",
		Timestamp:     time.Now(),
		BaseVersion:   base,
	}
	if data != "" {
		env.Data = json.RawMessage(data)
	}
	return env
}

func TestPing_NoTokenNeeded(t *testing.T) {
	c := startServer(t)
	require.NoError(t, c.Ping(context.Background()))
}

func TestInvoke_AppliesAndDetectsConflicts(t *testing.T) {
	ctx := context.Background()
	c := startServer(t, client.WithAccessToken(token(t, "fam-1", time.Hour)))

	res, err := c.Invoke(ctx, common.ProcedureApply, story(wire.OpCreate, "s1", 0, `{"title":"Picnic"}`))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, int64(1), res.SyncVersion)

	res, err = c.Invoke(ctx, common.ProcedureApply, story(wire.OpUpdate, "s1", 1, `{"body":"sunny"}`))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.JSONEq(t, `{"title":"Picnic","body":"sunny"}`, string(res.Data))

	res, err = c.Invoke(ctx, common.ProcedureApply, story(wire.OpUpdate, "s1", 1, `{"body":"rain"}`))
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, int64(2), res.Conflict.RemoteVersion)
	assert.JSONEq(t, `{"title":"Picnic","body":"sunny"}`, string(res.Conflict.Data))
}

func TestInvoke_ValidationErrorInResult(t *testing.T) {
	c := startServer(t, client.WithAccessToken(token(t, "fam-1", time.Hour)))

	res, err := c.Invoke(context.Background(), common.ProcedureApply, story(wire.OpCreate, "s1", 0, `"just a string"`))
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.True(t, res.Error.IsValidation())
}

func TestInvoke_UnknownProcedure(t *testing.T) {
	c := startServer(t, client.WithAccessToken(token(t, "fam-1", time.Hour)))

	_, err := c.Invoke(context.Background(), "sync.nope", story(wire.OpCreate, "s1", 0, `{}`))
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestInvoke_MissingTokenIsUnauthorized(t *testing.T) {
	c := startServer(t)

	_, err := c.Invoke(context.Background(), common.ProcedureApply, story(wire.OpCreate, "s1", 0, `{}`))
	require.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestInvoke_ExpiredTokenIsRefreshed(t *testing.T) {
	fresh := token(t, "fam-1", time.Hour)
	refreshed := 0
	c := startServer(t,
		client.WithAccessToken(token(t, "fam-1", -time.Minute)),
		client.WithTokenRefresher(func(context.Context) (string, error) {
			refreshed++
			return fresh, nil
		}),
	)

	res, err := c.Invoke(context.Background(), common.ProcedureApply, story(wire.OpCreate, "s1", 0, `{"title":"x"}`))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, refreshed)
}

func TestInvokeBatch_ResultsInOrder(t *testing.T) {
	c := startServer(t, client.WithAccessToken(token(t, "fam-1", time.Hour)))

	results, err := c.InvokeBatch(context.Background(), common.ProcedureApplyBatch, []wire.Envelope{
		story(wire.OpCreate, "s1", 0, `{"title":"a"}`),
		story(wire.OpCreate, "s2", 0, `{"title":"b"}`),
		story(wire.OpUpdate, "s3", 4, `{"title":"c"}`),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	require.NotNil(t, results[2].Conflict)
	assert.True(t, results[2].Conflict.Deleted)
}

func TestInterceptor_MissingToken(t *testing.T) {
	s := NewGRPCServer("", logging.Nop(), nil, secret)
	info := &grpc.UnaryServerInfo{FullMethod: pb.MethodInvoke}

	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called when token missing")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
	if status.Convert(err).Message() != "missing token" {
		t.Fatalf("expected 'missing token', got %q", status.Convert(err).Message())
	}
}

func TestInterceptor_ExpiredTokenMessage(t *testing.T) {
	s := NewGRPCServer("", logging.Nop(), nil, secret)
	info := &grpc.UnaryServerInfo{FullMethod: pb.MethodInvokeBatch}
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: token(t, "u1", -time.Minute)})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	_, err := s.accessTokenInterceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
	if status.Convert(err).Message() != common.ErrTokenExpired.Error() {
		t.Fatalf("unexpected message %q", status.Convert(err).Message())
	}
}

func TestInterceptor_ValidTokenSetsUserAndDevice(t *testing.T) {
	s := NewGRPCServer("", logging.Nop(), nil, secret)
	info := &grpc.UnaryServerInfo{FullMethod: pb.MethodInvoke}
	md := metadata.New(map[string]string{
		common.AccessTokenHeaderName: token(t, "fam-9", time.Hour),
		common.DeviceIDHeaderName:    "dev-z",
	})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	resp, err := s.accessTokenInterceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		id, ok := userIDFromContext(ctx)
		if !ok || id != "fam-9" {
			t.Fatalf("unexpected user id %q", id)
		}
		if d := deviceIDFromContext(ctx); d != "dev-z" {
			t.Fatalf("unexpected device id %q", d)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
}

func TestHandlers_RejectUnauthenticatedContext(t *testing.T) {
	s := NewGRPCServer("", logging.Nop(), nil, secret)

	_, err := s.Invoke(context.Background(), nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	_, err = s.InvokeBatch(context.Background(), nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:0", logging.Nop(), nil, secret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", logging.Nop(), nil, secret)

	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}
