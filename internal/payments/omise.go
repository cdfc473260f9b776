package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"go.uber.org/zap"
)

const metadataReference = "payment_reference"

type OmiseGateway struct {
	client *omise.Client
	log    *zap.Logger
}

func NewOmiseGateway(publicKey, secretKey string, log *zap.Logger) (*OmiseGateway, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	c.SetDebug(false)
	return &OmiseGateway{client: c, log: log}, nil
}

func (g *OmiseGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.CardToken == "" && req.SourceID == "" {
		return nil, errors.New("card token or source id is required")
	}

	ch := &omise.Charge{}
	op := &operations.CreateCharge{
		Amount:    ToMinor(req.Amount),
		Currency:  req.Currency,
		Card:      req.CardToken,
		Source:    req.SourceID,
		ReturnURI: req.ReturnURI,
		Metadata:  map[string]any{metadataReference: req.Reference},
	}
	if err := g.client.Do(ch, op); err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}

	out := toCharge(ch)
	g.log.Info("charge created",
		zap.String("charge_id", out.ID),
		zap.String("payment_reference", req.Reference),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

func (g *OmiseGateway) RetrieveCharge(ctx context.Context, chargeID string) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := &omise.Charge{}
	if err := g.client.Do(ch, &operations.RetrieveCharge{ChargeID: chargeID}); err != nil {
		return nil, fmt.Errorf("retrieve charge %s: %w", chargeID, err)
	}
	return toCharge(ch), nil
}

func (g *OmiseGateway) RetrieveEvent(ctx context.Context, eventID string) (*WebhookEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ev := &omise.Event{}
	if err := g.client.Do(ev, &operations.RetrieveEvent{EventID: eventID}); err != nil {
		return nil, fmt.Errorf("retrieve event %s: %w", eventID, err)
	}

	out := &WebhookEvent{ID: ev.ID, Key: ev.Key}
	if ev.Key != "charge.complete" {
		return out, nil
	}

	// ev.Data is untyped; round-trip it through JSON into a charge.
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, fmt.Errorf("unmarshal event charge: %w", err)
	}
	out.Charge = toCharge(&ch)
	return out, nil
}

func toCharge(ch *omise.Charge) *Charge {
	out := &Charge{
		ID:           ch.ID,
		Status:       ChargeStatus(ch.Status),
		Amount:       FromMinor(ch.Amount),
		Currency:     ch.Currency,
		AuthorizeURI: ch.AuthorizeURI,
	}
	if ref, ok := ch.Metadata[metadataReference].(string); ok {
		out.Reference = ref
	}
	if ch.FailureCode != nil {
		out.FailureCode = *ch.FailureCode
	}
	if ch.FailureMessage != nil {
		out.FailureMessage = *ch.FailureMessage
	}
	return out
}
