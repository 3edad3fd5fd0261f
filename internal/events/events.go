package events

import (
	"context"
	"sync"
	"time"
)

const (
	TypeSaleCommitted       = "SaleCommitted"
	TypeInventoryReconciled = "InventoryReconciled"
)

// Event is a fact published after the change it describes has committed.
type Event interface {
	EventType() string
	// PartitionKey keeps events for one store on one partition.
	PartitionKey() string
}

// Publisher delivers events on a best-effort basis. Callers log failures
// and carry on; a lost event never undoes a committed change.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type SoldItem struct {
	ProductID    string `json:"productId"`
	Quantity     int    `json:"quantity"`
	RemainingQty int    `json:"remainingQty"`
}

type SaleCommitted struct {
	SaleID        string     `json:"saleId"`
	InvoiceNumber string     `json:"invoiceNumber"`
	StoreID       string     `json:"storeId"`
	CashierID     string     `json:"cashierId"`
	CustomerID    string     `json:"customerId,omitempty"`
	TotalAmount   int64      `json:"totalAmount"`
	Items         []SoldItem `json:"items"`
	OccurredAt    time.Time  `json:"occurredAt"`
}

func (SaleCommitted) EventType() string { return TypeSaleCommitted }

func (e SaleCommitted) PartitionKey() string { return e.StoreID }

type InventoryReconciled struct {
	Mode       string    `json:"mode"`
	Cleared    int       `json:"cleared"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Errors     int       `json:"errors"`
	Cancelled  bool      `json:"cancelled"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (InventoryReconciled) EventType() string { return TypeInventoryReconciled }

func (e InventoryReconciled) PartitionKey() string { return e.Mode }

type Noop struct{}

func (Noop) Publish(_ context.Context, _ Event) error { return nil }

// Recorder keeps published events in memory. Useful in dev mode and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
