package memory

import (
	"context"
	"sync"
	"time"

	"order-outbox/orders/internal/domain"
)

// Pricing serves prices from a fixed table and counts lookups.
type Pricing struct {
	mu     sync.Mutex
	prices map[string]domain.Money
	err    error
	calls  int
}

func NewPricing() *Pricing {
	return &Pricing{prices: map[string]domain.Money{}}
}

func (p *Pricing) Set(sku string, price domain.Money) *Pricing {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[key(sku, price.Currency())] = price
	return p
}

// Fail makes every lookup return err until called again with nil.
func (p *Pricing) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *Pricing) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Pricing) GetCurrentPrice(ctx context.Context, sku domain.SKU, currency domain.Currency) (*domain.Money, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	price, ok := p.prices[key(sku.String(), currency)]
	if !ok {
		return nil, nil
	}
	return &price, nil
}

func key(sku string, currency domain.Currency) string {
	return sku + "|" + string(currency)
}

// Message is one publish observed by Broker.
type Message struct {
	RoutingKey string
	Key        []byte
	Payload    []byte
	Headers    map[string]string
}

// Broker records publishes. Scripted errors are returned, in order, by the
// next publishes; a nil entry means success.
type Broker struct {
	mu       sync.Mutex
	messages []Message
	script   []error
	attempts int
}

func NewBroker() *Broker {
	return &Broker{}
}

func (b *Broker) Script(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script, errs...)
}

func (b *Broker) Publish(ctx context.Context, routingKey string, key []byte, payload []byte, headers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if len(b.script) > 0 {
		err := b.script[0]
		b.script = b.script[1:]
		if err != nil {
			return err
		}
	}
	b.messages = append(b.messages, Message{RoutingKey: routingKey, Key: key, Payload: payload, Headers: headers})
	return nil
}

func (b *Broker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *Broker) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
