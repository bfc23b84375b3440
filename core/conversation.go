package core

import (
	"strings"
	"time"
)

type ConversationState string

const (
	StateIdle      ConversationState = "idle"
	StateListening ConversationState = "listening"
	StateThinking  ConversationState = "thinking"
	StateSpeaking  ConversationState = "speaking"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one message in the conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// Listing is a property listing returned by the reasoning service.
type Listing struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Price        float64 `json:"price,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	Image        string  `json:"image,omitempty"`
	City         string  `json:"city,omitempty"`
	Bedrooms     int     `json:"bedrooms,omitempty"`
	AgentID      string  `json:"agentId,omitempty"`
	AgentName    string  `json:"agentName,omitempty"`
	ContactPhone string  `json:"contactPhone,omitempty"`
}

// Item is a marketplace item returned by the reasoning service.
type Item struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Price        float64 `json:"price,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	Image        string  `json:"image,omitempty"`
	City         string  `json:"city,omitempty"`
	SellerID     string  `json:"sellerId,omitempty"`
	SellerName   string  `json:"sellerName,omitempty"`
	ContactPhone string  `json:"contactPhone,omitempty"`
}

const (
	CartActionAdd = "add"

	ItemTypeListing     = "listing"
	ItemTypeMarketplace = "marketplace"
)

type CartAction struct {
	Action   string `json:"action"`
	ItemID   string `json:"itemId"`
	ItemType string `json:"itemType"`
}

// LeadCapture carries what the reasoning service knows about a lead.
type LeadCapture struct {
	AgentID      string `json:"agentId,omitempty"`
	PropertyID   string `json:"propertyId,omitempty"`
	ContactName  string `json:"contactName,omitempty"`
	ContactPhone string `json:"contactPhone,omitempty"`
	Message      string `json:"message,omitempty"`
}

// StructuredReply is the reasoning service response.
type StructuredReply struct {
	Message          string       `json:"message"`
	Listings         []Listing    `json:"listings,omitempty"`
	MarketplaceItems []Item       `json:"marketplaceItems,omitempty"`
	CartAction       *CartAction  `json:"cartAction,omitempty"`
	Intent           string       `json:"intent,omitempty"`
	LeadCapture      *LeadCapture `json:"leadCapture,omitempty"`
}

// HasOffers reports whether the reply carries any listings or items.
func (r StructuredReply) HasOffers() bool {
	return len(r.Listings) > 0 || len(r.MarketplaceItems) > 0
}

// CartItem is a cart entry keyed by (Type, ID).
type CartItem struct {
	Type         string  `json:"type"`
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	Image        string  `json:"image,omitempty"`
	ContactPhone string  `json:"contactPhone,omitempty"`
	ContactName  string  `json:"contactName,omitempty"`
	City         string  `json:"city,omitempty"`
}

func (c CartItem) Key() string {
	return c.Type + ":" + c.ID
}

func CartItemFromListing(l Listing) CartItem {
	return CartItem{
		Type:         ItemTypeListing,
		ID:           l.ID,
		Title:        l.Title,
		Price:        l.Price,
		Currency:     l.Currency,
		Image:        l.Image,
		ContactPhone: l.ContactPhone,
		ContactName:  l.AgentName,
		City:         l.City,
	}
}

func CartItemFromItem(i Item) CartItem {
	return CartItem{
		Type:         ItemTypeMarketplace,
		ID:           i.ID,
		Title:        i.Title,
		Price:        i.Price,
		Currency:     i.Currency,
		Image:        i.Image,
		ContactPhone: i.ContactPhone,
		ContactName:  i.SellerName,
		City:         i.City,
	}
}

// NormalizeItemType maps loose spellings from the reasoning service onto
// the two cart item types.
func NormalizeItemType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "marketplace", "item", "marketplace_item", "marketplaceitem", "product":
		return ItemTypeMarketplace
	default:
		return ItemTypeListing
	}
}

// LeadRequest is the payload of the lead-creation collaborator.
type LeadRequest struct {
	AgentID      string `json:"agent_id"`
	Message      string `json:"message"`
	Source       string `json:"source"`
	ContactName  string `json:"contact_name,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	PropertyID   string `json:"property_id,omitempty"`
}
