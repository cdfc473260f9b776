package handlers

import (
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/marketplace-escrow/backend/internal/models"
)

// MetaHandler publishes the lifecycle tables so clients can render the
// actions available from a given status.
type MetaHandler struct{}

func NewMetaHandler() *MetaHandler {
	return &MetaHandler{}
}

type MetaOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var disputeReasons = []MetaOption{
	{ID: string(models.ReasonItemNotReceived), Label: "Item not received"},
	{ID: string(models.ReasonItemNotAsDescribed), Label: "Item not as described"},
	{ID: string(models.ReasonDamagedItem), Label: "Damaged item"},
	{ID: string(models.ReasonWrongItem), Label: "Wrong item"},
	{ID: string(models.ReasonServiceNotRendered), Label: "Service not rendered"},
	{ID: string(models.ReasonPoorServiceQuality), Label: "Poor service quality"},
	{ID: string(models.ReasonOvercharged), Label: "Overcharged"},
	{ID: string(models.ReasonOther), Label: "Other"},
}

var resolutions = []MetaOption{
	{ID: string(models.ResolutionFullRefund), Label: "Full refund"},
	{ID: string(models.ResolutionPartialRefund), Label: "Partial refund"},
	{ID: string(models.ResolutionReplacement), Label: "Replacement"},
	{ID: string(models.ResolutionSellerWins), Label: "Seller wins"},
	{ID: string(models.ResolutionCustomerWins), Label: "Customer wins"},
}

type transitionRow struct {
	From string   `json:"from"`
	To   []string `json:"to"`
}

func rows(table map[string][]string) []transitionRow {
	out := make([]transitionRow, 0, len(table))
	for from, to := range table {
		out = append(out, transitionRow{From: from, To: to})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

func (h *MetaHandler) GetTransitions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"booking": rows(models.BookingTransitions),
		"order":   rows(models.OrderTransitions),
		"dispute": rows(models.ValidDisputeTransitions),
	})
}

func (h *MetaHandler) GetDisputeOptions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"reasons":     disputeReasons,
		"resolutions": resolutions,
	})
}
