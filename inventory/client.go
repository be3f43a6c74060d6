package inventory

import (
	"context"

	"fulfillment-svc/resilience"
)

// Client is the reservation-engine surface the orchestrator depends on. The
// engine runs in-process today; callers only see this interface, so moving it
// behind a real RPC boundary is a wiring change.
type Client interface {
	CheckStock(ctx context.Context, productID, qty int) (*CheckResult, error)
	ReserveStock(ctx context.Context, productID, qty, orderID int) (*ReserveResult, error)
	CommitStock(ctx context.Context, orderID int) (*CommitResult, error)
	RollbackStock(ctx context.Context, orderID int) (*RollbackResult, error)
}

// RetryingClient decorates a Client with the bounded-backoff retry policy.
// Every reservation-engine call goes through here.
type RetryingClient struct {
	inner  Client
	policy resilience.Policy
}

func NewRetryingClient(inner Client, policy resilience.Policy) *RetryingClient {
	return &RetryingClient{inner: inner, policy: policy}
}

func (c *RetryingClient) CheckStock(ctx context.Context, productID, qty int) (*CheckResult, error) {
	var out *CheckResult
	err := c.policy.Do(ctx, "CheckStock", func(ctx context.Context) error {
		var err error
		out, err = c.inner.CheckStock(ctx, productID, qty)
		return err
	})
	return out, err
}

func (c *RetryingClient) ReserveStock(ctx context.Context, productID, qty, orderID int) (*ReserveResult, error) {
	var out *ReserveResult
	err := c.policy.Do(ctx, "ReserveStock", func(ctx context.Context) error {
		var err error
		out, err = c.inner.ReserveStock(ctx, productID, qty, orderID)
		return err
	})
	return out, err
}

func (c *RetryingClient) CommitStock(ctx context.Context, orderID int) (*CommitResult, error) {
	var out *CommitResult
	err := c.policy.Do(ctx, "CommitStock", func(ctx context.Context) error {
		var err error
		out, err = c.inner.CommitStock(ctx, orderID)
		return err
	})
	return out, err
}

func (c *RetryingClient) RollbackStock(ctx context.Context, orderID int) (*RollbackResult, error) {
	var out *RollbackResult
	err := c.policy.Do(ctx, "RollbackStock", func(ctx context.Context) error {
		var err error
		out, err = c.inner.RollbackStock(ctx, orderID)
		return err
	})
	return out, err
}
