package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/cassiomorais/checkout/internal/domain/gateway"
	"github.com/cassiomorais/checkout/internal/infrastructure/config"
	"github.com/rs/zerolog"
)

// GatewayClient talks to the backend's payment-gateway proxy.
type GatewayClient struct {
	c *client
}

func NewGatewayClient(cfg config.BackendConfig, logger zerolog.Logger, opts ...Option) *GatewayClient {
	return &GatewayClient{c: newClient("gateway", cfg, nil, logger, opts...)}
}

func (g *GatewayClient) CreateNequiTransaction(ctx context.Context, req gateway.NequiRequest) (*gateway.Transaction, error) {
	return g.create(ctx, "create_nequi_transaction", "/nequi", req)
}

func (g *GatewayClient) CreatePSETransaction(ctx context.Context, req gateway.PSERequest) (*gateway.Transaction, error) {
	return g.create(ctx, "create_pse_transaction", "/pse", req)
}

func (g *GatewayClient) CreateBancolombiaTransaction(ctx context.Context, req gateway.BancolombiaRequest) (*gateway.Transaction, error) {
	return g.create(ctx, "create_bancolombia_transaction", "/bancolombia", req)
}

func (g *GatewayClient) TokenizeCard(ctx context.Context, card gateway.CardData) (*gateway.CardToken, error) {
	var token gateway.CardToken
	if err := g.c.do(ctx, "tokenize_card", http.MethodPost, "/card/tokenize", card, &token); err != nil {
		return nil, err
	}
	if token.ID == "" {
		return nil, errors.New("tokenize_card: gateway returned no token")
	}
	return &token, nil
}

func (g *GatewayClient) CreateCardTransaction(ctx context.Context, req gateway.CardRequest) (*gateway.Transaction, error) {
	return g.create(ctx, "create_card_transaction", "/card", req)
}

func (g *GatewayClient) GetTransaction(ctx context.Context, id string) (*gateway.Transaction, error) {
	var tx gateway.Transaction
	if err := g.c.do(ctx, "get_transaction", http.MethodGet, "/transactions/"+url.PathEscape(id), nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (g *GatewayClient) CancelTransaction(ctx context.Context, id string) error {
	return g.c.do(ctx, "cancel_transaction", http.MethodPost, "/transactions/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (g *GatewayClient) GetPSEBanks(ctx context.Context) ([]gateway.Bank, error) {
	var banks []gateway.Bank
	if err := g.c.do(ctx, "get_pse_banks", http.MethodGet, "/pse/banks", nil, &banks); err != nil {
		return nil, err
	}
	return banks, nil
}

func (g *GatewayClient) GetAcceptanceToken(ctx context.Context) (*gateway.AcceptanceToken, error) {
	var token gateway.AcceptanceToken
	if err := g.c.do(ctx, "get_acceptance_token", http.MethodGet, "/acceptance-token", nil, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (g *GatewayClient) create(ctx context.Context, operation, path string, body any) (*gateway.Transaction, error) {
	var tx gateway.Transaction
	if err := g.c.do(ctx, operation, http.MethodPost, path, body, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
