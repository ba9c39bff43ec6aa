package client

import (
	"context"

	"github.com/dmitrijs2005/famsync/internal/client/models"
)

// Client is the transport contract between the sync engine and the
// authority.
type Client interface {
	Close() error
	Ping(ctx context.Context) error
	Invoke(ctx context.Context, procedure string, env models.Envelope) (*models.RemoteResult, error)
	InvokeBatch(ctx context.Context, procedure string, envs []models.Envelope) ([]models.RemoteResult, error)
	SetAccessToken(token string)
}

var _ Client = (*GRPCClient)(nil)
