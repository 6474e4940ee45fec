package payment

import (
	"context"
	"fmt"

	"github.com/cassiomorais/checkout/internal/domain/gateway"
	"github.com/cassiomorais/checkout/internal/domain/payment"
)

// Strategy creates the gateway transaction for one payment method.
type Strategy interface {
	Method() payment.Method
	Create(ctx context.Context, gw Gateway, req Request, base gateway.TransactionBase) (*gateway.Transaction, error)
}

func defaultStrategies() map[payment.Method]Strategy {
	strategies := make(map[payment.Method]Strategy)
	for _, s := range []Strategy{nequiStrategy{}, pseStrategy{}, bancolombiaStrategy{}, cardStrategy{}} {
		strategies[s.Method()] = s
	}
	return strategies
}

type nequiStrategy struct{}

func (nequiStrategy) Method() payment.Method { return payment.MethodNequi }

func (nequiStrategy) Create(ctx context.Context, gw Gateway, req Request, base gateway.TransactionBase) (*gateway.Transaction, error) {
	return gw.CreateNequiTransaction(ctx, gateway.NequiRequest{
		TransactionBase: base,
		PhoneNumber:     req.Nequi.PhoneNumber,
	})
}

type pseStrategy struct{}

func (pseStrategy) Method() payment.Method { return payment.MethodPSE }

func (pseStrategy) Create(ctx context.Context, gw Gateway, req Request, base gateway.TransactionBase) (*gateway.Transaction, error) {
	return gw.CreatePSETransaction(ctx, gateway.PSERequest{
		TransactionBase:          base,
		UserType:                 req.PSE.UserType,
		UserLegalIDType:          req.PSE.LegalIDType,
		UserLegalID:              req.PSE.LegalID,
		FinancialInstitutionCode: req.PSE.BankCode,
		PaymentDescription:       description(req),
		RedirectURL:              req.ReturnURL,
	})
}

type bancolombiaStrategy struct{}

func (bancolombiaStrategy) Method() payment.Method { return payment.MethodBancolombia }

func (bancolombiaStrategy) Create(ctx context.Context, gw Gateway, req Request, base gateway.TransactionBase) (*gateway.Transaction, error) {
	return gw.CreateBancolombiaTransaction(ctx, gateway.BancolombiaRequest{
		TransactionBase:    base,
		PaymentDescription: description(req),
		RedirectURL:        req.ReturnURL,
	})
}

type cardStrategy struct{}

func (cardStrategy) Method() payment.Method { return payment.MethodCard }

func (cardStrategy) Create(ctx context.Context, gw Gateway, req Request, base gateway.TransactionBase) (*gateway.Transaction, error) {
	token, err := gw.TokenizeCard(ctx, gateway.CardData{
		Number:     req.Card.Number,
		CVC:        req.Card.CVC,
		ExpMonth:   req.Card.ExpMonth,
		ExpYear:    req.Card.ExpYear,
		CardHolder: req.Card.Holder,
	})
	if err != nil {
		return nil, fmt.Errorf("tokenize card: %w", err)
	}
	if token.ID == "" {
		return nil, fmt.Errorf("tokenize card: gateway returned no token")
	}

	installments := req.Card.Installments
	if installments == 0 {
		installments = 1
	}
	return gw.CreateCardTransaction(ctx, gateway.CardRequest{
		TransactionBase: base,
		Token:           token.ID,
		Installments:    installments,
	})
}

func description(req Request) string {
	if req.Description != "" {
		return req.Description
	}
	return "Order " + req.OrderID
}
