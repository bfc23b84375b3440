package cart

import "concierge/core"

type CartUpdatedEvent struct {
	Items []core.CartItem `json:"items"`
}

func (e *CartUpdatedEvent) GetId() string {
	return "cart.updated"
}

type CartItemAddedEvent struct {
	Item   core.CartItem `json:"item"`
	Source string        `json:"source"`
}

func (e *CartItemAddedEvent) GetId() string {
	return "cart.item_added"
}

type LeadCapturedEvent struct {
	AgentID    string `json:"agent_id"`
	PropertyID string `json:"property_id,omitempty"`
	OK         bool   `json:"ok"`
}

func (e *LeadCapturedEvent) GetId() string {
	return "cart.lead_captured"
}
