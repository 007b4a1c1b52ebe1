package features

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cucumber/godog"

	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
	"github.com/PhuocHoan/CoolWear-sub000/internal/lifecycle"
)

type lifecycleTestContext struct {
	customer *domain.Customer
	variants map[int64]*domain.ProductVariant
	order    *domain.Order
	result   lifecycle.TransitionResult
	err      error
}

func (c *lifecycleTestContext) reset() {
	c.customer = nil
	c.variants = make(map[int64]*domain.ProductVariant)
	c.order = nil
	c.result = lifecycle.TransitionResult{}
	c.err = nil
}

func (c *lifecycleTestContext) aCustomerWithPoints(points int) error {
	c.customer = &domain.Customer{ID: 7, Name: "Lan", Points: int64(points)}
	return nil
}

func (c *lifecycleTestContext) aVariantWithStock(id int, stock int) error {
	c.variants[int64(id)] = &domain.ProductVariant{ID: int64(id), ProductID: 1, ColorID: 1, SizeID: 1, Stock: stock, State: domain.RecordActive}
	return nil
}

func (c *lifecycleTestContext) anOrderWithNetTotalUsingPoints(status string, netTotal int, pointUsed int) error {
	customerID := c.customer.ID
	c.order = &domain.Order{
		ID:         1,
		CustomerID: &customerID,
		Status:     domain.OrderStatus(status),
		Subtotal:   int64(netTotal) + int64(pointUsed)*1000,
		PointUsed:  int64(pointUsed),
		NetTotal:   int64(netTotal),
	}
	return nil
}

func (c *lifecycleTestContext) theOrderHasOfVariant(qty int, id int) error {
	variant, ok := c.variants[int64(id)]
	if !ok {
		return fmt.Errorf("unknown variant %d", id)
	}
	c.order.Items = append(c.order.Items, domain.OrderItem{
		OrderID:   c.order.ID,
		VariantID: variant.ID,
		Quantity:  qty,
		UnitPrice: 150000,
		Variant:   variant,
	})
	return nil
}

func (c *lifecycleTestContext) theOrderMovesTo(status string) error {
	c.result, c.err = lifecycle.ApplyOrderStatusTransition(c.order, domain.OrderStatus(status), c.customer)
	return nil
}

func (c *lifecycleTestContext) theOrderMovesFromTo(from string, to string) error {
	c.result, c.err = lifecycle.ApplyTransitionFrom(c.order, domain.OrderStatus(from), domain.OrderStatus(to), c.customer)
	return nil
}

func (c *lifecycleTestContext) theTransitionSucceeds() error {
	if c.err != nil {
		return fmt.Errorf("expected success, got %v", c.err)
	}
	if !c.result.Changed {
		return errors.New("expected the order status to change")
	}
	return nil
}

func (c *lifecycleTestContext) theTransitionFailsWithAnInvalidTransitionFromTo(from string, to string) error {
	var invalid *lifecycle.InvalidTransitionError
	if !errors.As(c.err, &invalid) {
		return fmt.Errorf("expected InvalidTransitionError, got %v", c.err)
	}
	if string(invalid.From) != from || string(invalid.To) != to {
		return fmt.Errorf("expected %s -> %s, got %s -> %s", from, to, invalid.From, invalid.To)
	}
	return nil
}

func (c *lifecycleTestContext) theCustomerHasPoints(points int) error {
	if c.customer.Points != int64(points) {
		return fmt.Errorf("expected %d points, got %d", points, c.customer.Points)
	}
	return nil
}

func (c *lifecycleTestContext) variantHasStock(id int, stock int) error {
	variant, ok := c.variants[int64(id)]
	if !ok {
		return fmt.Errorf("unknown variant %d", id)
	}
	if variant.Stock != stock {
		return fmt.Errorf("expected variant %d stock %d, got %d", id, stock, variant.Stock)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &lifecycleTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^a customer with (\d+) points$`, tc.aCustomerWithPoints)
	ctx.Step(`^a variant (\d+) with stock (\d+)$`, tc.aVariantWithStock)
	ctx.Step(`^a "([^"]*)" order with net total (\d+) using (\d+) points$`, tc.anOrderWithNetTotalUsingPoints)
	ctx.Step(`^the order has (\d+) of variant (\d+)$`, tc.theOrderHasOfVariant)

	// When steps
	ctx.Step(`^the order moves to "([^"]*)"$`, tc.theOrderMovesTo)
	ctx.Step(`^the order moves from "([^"]*)" to "([^"]*)"$`, tc.theOrderMovesFromTo)

	// Then steps
	ctx.Step(`^the transition succeeds$`, tc.theTransitionSucceeds)
	ctx.Step(`^the transition fails with an invalid transition from "([^"]*)" to "([^"]*)"$`, tc.theTransitionFailsWithAnInvalidTransitionFromTo)
	ctx.Step(`^the customer has (\d+) points$`, tc.theCustomerHasPoints)
	ctx.Step(`^variant (\d+) has stock (\d+)$`, tc.variantHasStock)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"order_lifecycle.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
