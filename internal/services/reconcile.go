package services

import (
	"context"
	"strings"

	domain "github.com/cartledger/api/internal/domain"
	"github.com/cartledger/api/internal/repositories"
)

// Reconciliation step names, in execution order. They double as the pending
// step identifiers carried by repair jobs.
const (
	stepRemoveDiscount          = "remove_discount"
	stepSelectFulfillmentOption = "select_fulfillment_option"
)

// staleStatePlan is the ordered follow-up work an item or address mutation
// triggers, computed once from the pre-mutation snapshot. An applied discount
// was priced against the old item set and must be removed; a selected
// shipment method carries a surcharge computed against the old item set and
// must be re-selected. Fulfillment always runs last because its surcharge
// depends on the final item list.
type staleStatePlan struct {
	discountID     string
	discountShopID string

	groupID  string
	methodID string
}

func (p staleStatePlan) removeDiscount() bool {
	return p.discountID != ""
}

func (p staleStatePlan) reselectFulfillment() bool {
	return p.groupID != "" && p.methodID != ""
}

func (p staleStatePlan) pendingSteps() []string {
	steps := make([]string, 0, 2)
	if p.removeDiscount() {
		steps = append(steps, stepRemoveDiscount)
	}
	if p.reselectFulfillment() {
		steps = append(steps, stepSelectFulfillmentOption)
	}
	return steps
}

// staleStateFrom inspects the pre-mutation cart snapshot and decides which
// derived state the pending mutation invalidates. Every mutation calls this
// exactly once, before touching the cart.
func staleStateFrom(snapshot domain.Cart) staleStatePlan {
	plan := staleStatePlan{}

	if len(snapshot.Billing) > 0 {
		plan.discountID = strings.TrimSpace(snapshot.Billing[0].ID)
		plan.discountShopID = strings.TrimSpace(snapshot.Billing[0].ShopID)
	}

	for _, group := range snapshot.Shipping {
		if group.Type != domain.FulfillmentTypeShipping {
			continue
		}
		if strings.TrimSpace(group.ID) == "" || group.ShipmentMethod == nil {
			break
		}
		if methodID := strings.TrimSpace(group.ShipmentMethod.ID); methodID != "" {
			plan.groupID = strings.TrimSpace(group.ID)
			plan.methodID = methodID
		}
		break
	}

	return plan
}

// reconciler persists a mutated cart and runs the follow-up plan: persist,
// then discount removal, then fulfillment re-selection, each step consuming
// the cart returned by the previous one. The persisted item mutation is never
// rolled back; a step failure leaves the cart valid but not fully reconciled,
// so the failure is reported and a repair job is enqueued for the background
// sweep.
type reconciler struct {
	repo        repositories.CartRepository
	discounts   DiscountRemover
	fulfillment FulfillmentOptionSelector
	repairs     RepairJobPublisher
	logger      func(context.Context, string, map[string]any)
}

func (r *reconciler) persistAndReconcile(ctx context.Context, cart domain.Cart, plan staleStatePlan, owner CartOwner) (domain.Cart, error) {
	saved, err := r.repo.Save(ctx, cart)
	if err != nil {
		return domain.Cart{}, translateRepoError(err)
	}

	current := saved

	if plan.removeDiscount() {
		if r.discounts == nil {
			r.reportIncomplete(ctx, current, plan.pendingSteps(), ErrCartUnavailable)
			return domain.Cart{}, ErrCartUnavailable
		}
		next, err := r.discounts.RemoveDiscountFromCart(ctx, RemoveDiscountCommand{
			CartID:     current.ID,
			DiscountID: plan.discountID,
			ShopID:     plan.discountShopID,
			Owner:      owner,
		})
		if err != nil {
			r.reportIncomplete(ctx, current, plan.pendingSteps(), err)
			return domain.Cart{}, err
		}
		current = next
	}

	if plan.reselectFulfillment() {
		if r.fulfillment == nil {
			r.reportIncomplete(ctx, current, []string{stepSelectFulfillmentOption}, ErrCartUnavailable)
			return domain.Cart{}, ErrCartUnavailable
		}
		result, err := r.fulfillment.SelectFulfillmentOption(ctx, SelectFulfillmentOptionCommand{
			CartID:              current.ID,
			Owner:               owner,
			FulfillmentGroupID:  plan.groupID,
			FulfillmentMethodID: plan.methodID,
		})
		if err != nil {
			r.reportIncomplete(ctx, current, []string{stepSelectFulfillmentOption}, err)
			return domain.Cart{}, err
		}
		current = result.Cart
	}

	return current, nil
}

func (r *reconciler) reportIncomplete(ctx context.Context, cart domain.Cart, pending []string, cause error) {
	r.logger(ctx, "cart.reconcile_incomplete", map[string]any{
		"cartID":       cart.ID,
		"shopID":       cart.ShopID,
		"pendingSteps": strings.Join(pending, ","),
		"error":        cause.Error(),
	})

	if r.repairs == nil {
		return
	}
	_, err := r.repairs.PublishRepairJob(ctx, ReconcileRepairMessage{
		CartID:       cart.ID,
		ShopID:       cart.ShopID,
		PendingSteps: pending,
		Reason:       cause.Error(),
	})
	if err != nil {
		r.logger(ctx, "cart.repair_enqueue_failed", map[string]any{
			"cartID": cart.ID,
			"error":  err.Error(),
		})
	}
}
