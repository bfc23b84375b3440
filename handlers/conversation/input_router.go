package conversation

import (
	"context"
	"fmt"

	"concierge/core"
	"concierge/events/input"
)

// Cart is the part of the cart handler driven by UI input.
type Cart interface {
	AddItem(ctx context.Context, item core.CartItem) (bool, error)
	Remove(ctx context.Context, itemType, id string) error
	Clear(ctx context.Context) error
}

// InputRouter applies UI input events to the agent and the cart.
type InputRouter struct {
	agent *Agent
	cart  Cart
}

func NewInputRouter(agent *Agent, cart Cart) *InputRouter {
	return &InputRouter{agent: agent, cart: cart}
}

// Dispatch runs the operation named by event. Illegal transitions are
// reported as errors and leave the state unchanged.
func (r *InputRouter) Dispatch(ctx context.Context, event core.IExternalInputEvent) error {
	switch e := event.(type) {
	case *input.StartCaptureEvent:
		return r.agent.StartCapture(ctx)
	case *input.StopCaptureEvent:
		return r.agent.StopCapture()
	case *input.CancelEvent:
		r.agent.Cancel()
		return nil
	case *input.BargeInEvent:
		return r.agent.BargeIn(ctx)
	case *input.TextQueryEvent:
		return r.agent.SubmitText(ctx, e.Text)
	case *input.CartAddEvent:
		if r.cart == nil {
			return fmt.Errorf("cart is not configured")
		}
		_, err := r.cart.AddItem(ctx, e.Item)
		return err
	case *input.CartRemoveEvent:
		if r.cart == nil {
			return fmt.Errorf("cart is not configured")
		}
		return r.cart.Remove(ctx, e.Type, e.ID)
	case *input.CartClearEvent:
		if r.cart == nil {
			return fmt.Errorf("cart is not configured")
		}
		return r.cart.Clear(ctx)
	default:
		return fmt.Errorf("unsupported input event %q", event.GetId())
	}
}
