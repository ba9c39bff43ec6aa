// Package client talks to the famsync authority.
//
// GRPCClient implements the remote-call collaborator of the sync queue
// (Invoke, InvokeBatch) and the Pinger used by connectivity polling. Calls
// are unary gRPC requests on the famsync.v1.Authority service whose messages
// are google.protobuf.Struct values (see internal/proto). Every request
// carries the access token and the device id as metadata; an expired token
// is refreshed once through the configured TokenRefresher.
//
// # Error Handling
//
// Status codes are mapped to sentinel errors that callers match with
// errors.Is: Unauthenticated and PermissionDenied become ErrUnauthorized,
// Unavailable and DeadlineExceeded become ErrUnavailable, and
// InvalidArgument wraps common.ErrValidation so the queue fails the
// operation instead of retrying it.
package client
