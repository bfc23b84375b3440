package cart

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"concierge/core"
	"concierge/events/cart"
)

// Sources recorded on CartItemAddedEvent.
const (
	SourceUI        = "ui"
	SourceAssistant = "assistant"
)

// LeadService creates leads with the listing agent or seller.
type LeadService interface {
	CreateLead(ctx context.Context, lead core.LeadRequest) error
}

// Handler applies cart mutations and lead capture. It runs beside the
// conversation and never fails a turn.
type Handler struct {
	store     Store
	leads     LeadService
	config    CartConfig
	publisher core.Publisher
	logger    *core.Logger

	mu        sync.Mutex
	listings  []core.Listing
	items     []core.Item
	leadsSent map[string]bool
	wg        sync.WaitGroup
}

// NewHandler creates a cart handler. leads may be nil to disable lead capture.
func NewHandler(store Store, leads LeadService, config CartConfig, publisher core.Publisher, logger *core.Logger) *Handler {
	if config.LeadSource == "" {
		config.LeadSource = DefaultConfig().LeadSource
	}
	if publisher == nil {
		publisher = core.NopPublisher{}
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Handler{
		store:     store,
		leads:     leads,
		config:    config,
		publisher: publisher,
		logger:    logger.With(map[string]any{"component": "cart"}),
		leadsSent: make(map[string]bool),
	}
}

// AddItem inserts item unless (type, id) is already in the cart.
func (h *Handler) AddItem(ctx context.Context, item core.CartItem) (bool, error) {
	return h.add(ctx, item, SourceUI)
}

func (h *Handler) add(ctx context.Context, item core.CartItem, source string) (bool, error) {
	item.Type = core.NormalizeItemType(item.Type)
	if item.ID == "" {
		return false, fmt.Errorf("cart: item id is required")
	}
	added, err := h.store.Add(ctx, item)
	if err != nil {
		return false, fmt.Errorf("cart: add: %w", err)
	}
	if !added {
		h.logger.Debug("item already in cart", "key", item.Key())
		return false, nil
	}
	h.logger.Info("item added to cart", "key", item.Key(), "source", source)
	h.publisher.Publish(&cart.CartItemAddedEvent{Item: item, Source: source}, "CartHandler")
	h.publishList(ctx)
	return true, nil
}

func (h *Handler) Remove(ctx context.Context, itemType, id string) error {
	removed, err := h.store.Remove(ctx, core.NormalizeItemType(itemType), id)
	if err != nil {
		return fmt.Errorf("cart: remove: %w", err)
	}
	if removed {
		h.publishList(ctx)
	}
	return nil
}

func (h *Handler) Clear(ctx context.Context) error {
	if err := h.store.Clear(ctx); err != nil {
		return fmt.Errorf("cart: clear: %w", err)
	}
	h.publishList(ctx)
	return nil
}

func (h *Handler) List(ctx context.Context) ([]core.CartItem, error) {
	items, err := h.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("cart: list: %w", err)
	}
	return items, nil
}

func (h *Handler) publishList(ctx context.Context) {
	items, err := h.store.List(ctx)
	if err != nil {
		h.logger.With(map[string]any{"error": err}).Warn("cart list failed")
		return
	}
	h.publisher.Publish(&cart.CartUpdatedEvent{Items: items}, "CartHandler")
}

// ApplyReply interprets the side channels of a reasoning reply: it records
// what was offered, performs a cart add and fires lead capture. Errors are
// logged, never returned.
func (h *Handler) ApplyReply(ctx context.Context, reply core.StructuredReply) {
	h.mu.Lock()
	if reply.HasOffers() {
		h.listings = slices.Clone(reply.Listings)
		h.items = slices.Clone(reply.MarketplaceItems)
	}
	h.mu.Unlock()

	var resolved *core.CartItem
	var listing *core.Listing
	if a := reply.CartAction; a != nil && strings.EqualFold(a.Action, core.CartActionAdd) {
		item, l, ok := h.resolve(reply, a)
		if !ok {
			h.logger.Warn("cart action references unknown item", "item_id", a.ItemID, "item_type", a.ItemType)
		} else {
			resolved, listing = &item, l
			if _, err := h.add(ctx, item, SourceAssistant); err != nil {
				h.logger.With(map[string]any{"error": err}).Warn("cart action failed")
			}
		}
	}

	if lead, ok := h.leadFor(reply, resolved, listing); ok {
		h.captureLead(lead)
	}
}

// resolve looks the id up in the reply first and then in the last offered
// catalogue, preferring the declared item type.
func (h *Handler) resolve(reply core.StructuredReply, a *core.CartAction) (core.CartItem, *core.Listing, bool) {
	h.mu.Lock()
	listings := append(slices.Clone(reply.Listings), h.listings...)
	items := append(slices.Clone(reply.MarketplaceItems), h.items...)
	h.mu.Unlock()

	findListing := func() (core.CartItem, *core.Listing, bool) {
		for i := range listings {
			if listings[i].ID == a.ItemID {
				return core.CartItemFromListing(listings[i]), &listings[i], true
			}
		}
		return core.CartItem{}, nil, false
	}
	findItem := func() (core.CartItem, *core.Listing, bool) {
		for _, it := range items {
			if it.ID == a.ItemID {
				return core.CartItemFromItem(it), nil, true
			}
		}
		return core.CartItem{}, nil, false
	}

	first, second := findListing, findItem
	if core.NormalizeItemType(a.ItemType) == core.ItemTypeMarketplace {
		first, second = findItem, findListing
	}
	if item, l, ok := first(); ok {
		return item, l, true
	}
	return second()
}

func (h *Handler) strongIntent(intent string) bool {
	intent = strings.ToLower(strings.TrimSpace(intent))
	return intent != "" && slices.Contains(h.config.StrongIntents, intent)
}

// leadFor builds a lead when the reply signals strong intent and an agent
// or seller can be identified.
func (h *Handler) leadFor(reply core.StructuredReply, resolved *core.CartItem, listing *core.Listing) (core.LeadRequest, bool) {
	if h.leads == nil || (!h.strongIntent(reply.Intent) && reply.LeadCapture == nil) {
		return core.LeadRequest{}, false
	}

	lead := core.LeadRequest{Source: h.config.LeadSource}
	if lc := reply.LeadCapture; lc != nil {
		lead.AgentID = lc.AgentID
		lead.PropertyID = lc.PropertyID
		lead.ContactName = lc.ContactName
		lead.ContactPhone = lc.ContactPhone
		lead.Message = lc.Message
	}

	if lead.AgentID == "" {
		switch {
		case listing != nil:
			lead.AgentID = listing.AgentID
			lead.PropertyID = listing.ID
		case resolved != nil && resolved.Type == core.ItemTypeMarketplace:
			lead.AgentID = h.sellerOf(reply, resolved.ID)
		case len(reply.Listings) == 1:
			lead.AgentID = reply.Listings[0].AgentID
			lead.PropertyID = reply.Listings[0].ID
		}
	}
	if lead.AgentID == "" {
		return core.LeadRequest{}, false
	}
	if lead.Message == "" {
		title := ""
		if resolved != nil {
			title = resolved.Title
		} else if len(reply.Listings) == 1 {
			title = reply.Listings[0].Title
		}
		lead.Message = "Voice concierge lead"
		if title != "" {
			lead.Message = "Interested in " + title
		}
	}
	return lead, true
}

func (h *Handler) sellerOf(reply core.StructuredReply, id string) string {
	h.mu.Lock()
	items := append(slices.Clone(reply.MarketplaceItems), h.items...)
	h.mu.Unlock()
	for _, it := range items {
		if it.ID == id {
			return it.SellerID
		}
	}
	return ""
}

// captureLead fires the lead call in the background. Each (agent, property)
// pair is sent once per handler.
func (h *Handler) captureLead(lead core.LeadRequest) {
	key := lead.AgentID + "|" + lead.PropertyID
	h.mu.Lock()
	if h.leadsSent[key] {
		h.mu.Unlock()
		return
	}
	h.leadsSent[key] = true
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx := context.Background()
		if h.config.LeadTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.config.LeadTimeout)
			defer cancel()
		}
		err := h.leads.CreateLead(ctx, lead)
		if err != nil {
			h.logger.With(map[string]any{"error": err, "agent_id": lead.AgentID}).Warn("lead capture failed")
		} else {
			h.logger.Info("lead captured", "agent_id", lead.AgentID, "property_id", lead.PropertyID)
		}
		h.publisher.Publish(&cart.LeadCapturedEvent{AgentID: lead.AgentID, PropertyID: lead.PropertyID, OK: err == nil}, "CartHandler")
	}()
}

// Wait blocks until background lead calls have finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}
