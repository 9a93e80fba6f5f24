package main

import (
	"context"
	"sync"
	"time"

	"tradecore/internal/core"
	"tradecore/internal/schema"
)

// simBroker is an in-process counterparty for local runs. Every order
// is acknowledged and fully filled synchronously, and the broker-side
// position book tracks the fills so reconciliation matches.
type simBroker struct {
	engine *core.Engine

	mu        sync.Mutex
	positions map[string]int64
}

func newSimBroker() *simBroker {
	return &simBroker{positions: make(map[string]int64)}
}

func (b *simBroker) Submit(_ context.Context, intent schema.OrderIntent) error {
	if err := b.engine.OnAck(intent.OrderID); err != nil {
		return err
	}

	trade := schema.Trade{
		TradeID:    "sim-" + intent.OrderID,
		OrderID:    intent.OrderID,
		Instrument: intent.Instrument,
		Side:       intent.Side,
		Offset:     intent.Offset,
		Volume:     intent.Volume,
		Price:      intent.Price,
		Timestamp:  time.Now(),
	}
	if err := b.engine.OnTrade(trade); err != nil {
		return err
	}

	signed := intent.Volume
	if intent.Side == schema.SideSell {
		signed = -signed
	}
	b.mu.Lock()
	b.positions[intent.Instrument] += signed
	b.mu.Unlock()
	return nil
}

func (b *simBroker) Cancel(_ context.Context, orderID string) error {
	return b.engine.OnCancelAck(orderID)
}

func (b *simBroker) Positions(context.Context) (map[string]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int64, len(b.positions))
	for k, v := range b.positions {
		out[k] = v
	}
	return out, nil
}
