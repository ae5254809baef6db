package payment

import (
	"context"

	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
)

// DemoGateway — демо-провайдер без реального движения средств.
// Любое списание считается успешным.
type DemoGateway struct{}

// NewDemoGateway создаёт демо-провайдер.
func NewDemoGateway() *DemoGateway {
	return &DemoGateway{}
}

// Name возвращает имя провайдера.
func (g *DemoGateway) Name() string { return "demo" }

// Method возвращает способ оплаты demo.
func (g *DemoGateway) Method() model.PaymentMethod { return model.MethodDemo }

// Charge подтверждает списание.
func (g *DemoGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ChargeResult{Status: StatusSucceeded, ProviderRef: "demo_" + req.Reference}, nil
}

// Initiate создаёт отложенный платёж. Завершается reconciliation sweep.
func (g *DemoGateway) Initiate(ctx context.Context, req ChargeRequest) (*InitiateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &InitiateResult{ProviderRef: "demo_" + req.Reference}, nil
}

// Status сообщает об успешном списании любой операции.
func (g *DemoGateway) Status(ctx context.Context, reference string) (*StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &StatusResult{Status: StatusSucceeded, ProviderRef: "demo_" + reference}, nil
}
