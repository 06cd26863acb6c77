// Package directory is the collaborator that knows about provider accounts:
// which account owns a webhook, whether its credentials work, and what
// messages the provider reports for it.
package directory

import (
	"context"
	"errors"
	"fmt"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
)

var (
	// ErrUnknownWebhook is returned when no account owns a webhook identifier.
	ErrUnknownWebhook = errors.New("unknown webhook")

	// ErrNoClient is returned by remote calls when no provider client is configured.
	ErrNoClient = errors.New("no provider client configured")
)

// Directory resolves accounts and talks to their providers.
type Directory interface {
	ResolveWebhook(ctx context.Context, webhookID string) (*v1.Account, error)
	TestConnection(ctx context.Context, account *v1.Account) error
	FetchRemoteMessageList(ctx context.Context, account *v1.Account) ([]v1.MessageMetadata, error)
}

// Service resolves accounts through the account store and delegates remote
// calls to the provider client.
type Service struct {
	accounts storage.AccountStore
	client   *Client
}

// NewService builds a directory. client may be nil, in which case remote calls fail with ErrNoClient.
func NewService(accounts storage.AccountStore, client *Client) *Service {
	if accounts == nil {
		panic("directory: account store must not be nil")
	}
	return &Service{accounts: accounts, client: client}
}

func (s *Service) ResolveWebhook(ctx context.Context, webhookID string) (*v1.Account, error) {
	if webhookID == "" {
		return nil, ErrUnknownWebhook
	}
	acc, err := s.accounts.GetAccountByWebhookID(ctx, webhookID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownWebhook
		}
		return nil, fmt.Errorf("resolve webhook: %w", err)
	}
	return acc, nil
}

func (s *Service) TestConnection(ctx context.Context, account *v1.Account) error {
	if s.client == nil {
		return ErrNoClient
	}
	return s.client.TestConnection(ctx, account)
}

func (s *Service) FetchRemoteMessageList(ctx context.Context, account *v1.Account) ([]v1.MessageMetadata, error) {
	if s.client == nil {
		return nil, ErrNoClient
	}
	return s.client.FetchRemoteMessageList(ctx, account)
}

var _ Directory = (*Service)(nil)
