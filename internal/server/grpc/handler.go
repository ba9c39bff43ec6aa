package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	wire "github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/common"
	pb "github.com/dmitrijs2005/famsync/internal/proto"
)

func (s *GRPCServer) Invoke(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	var req pb.InvokeRequest
	if err := pb.Unmarshal(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Procedure != common.ProcedureApply {
		return nil, status.Errorf(codes.InvalidArgument, "unknown procedure %q", req.Procedure)
	}

	var env wire.Envelope
	if err := json.Unmarshal(req.Envelope, &env); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed envelope: %v", err)
	}

	s.logger.Debug(ctx, "envelope received", "user_id", userID, "device_id", deviceIDFromContext(ctx),
		"type", env.EntityType, "id", env.EntityID)

	res, err := s.authority.Apply(ctx, userID, env)
	if err != nil {
		s.logger.Error(ctx, "apply failed", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	return pb.Marshal(res)
}

func (s *GRPCServer) InvokeBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	var req pb.BatchRequest
	if err := pb.Unmarshal(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Procedure != common.ProcedureApplyBatch {
		return nil, status.Errorf(codes.InvalidArgument, "unknown procedure %q", req.Procedure)
	}

	envs := make([]wire.Envelope, len(req.Envelopes))
	for i, raw := range req.Envelopes {
		if err := json.Unmarshal(raw, &envs[i]); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "malformed envelope %d: %v", i, err)
		}
	}

	results, err := s.authority.ApplyBatch(ctx, userID, envs)
	if err != nil {
		s.logger.Error(ctx, "batch apply failed", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	out := pb.BatchResponse{Results: make([]json.RawMessage, 0, len(results))}
	for _, r := range results {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out.Results = append(out.Results, raw)
	}
	s.logger.Debug(ctx, "batch applied", "user_id", userID, "count", len(results))
	return pb.Marshal(out)
}

func (s *GRPCServer) Ping(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return pb.Marshal(pb.PingResponse{Status: pb.StatusOK, Time: s.clock().UTC()})
}
