package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

const dust = 1e-9

type PriceFunc func(ctx context.Context, symbol string) (float64, error)

// Paper fills every order immediately at the current price, adjusted by a
// fixed slippage in basis points. It keeps its own positions so the engine
// can reconcile against it exactly like a real broker.
type Paper struct {
	price       PriceFunc
	slippageBps float64

	mu        sync.Mutex
	positions map[string]Position
}

func NewPaper(price PriceFunc, slippageBps float64) *Paper {
	return &Paper{
		price:       price,
		slippageBps: slippageBps,
		positions:   make(map[string]Position),
	}
}

func (p *Paper) SubmitMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (Fill, error) {
	if qty <= 0 {
		return Fill{}, fmt.Errorf("%w: quantity %v", ErrRejected, qty)
	}
	price, err := p.price(ctx, symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("%w: price %s: %v", ErrRejected, symbol, err)
	}
	slip := price * p.slippageBps / 10000
	if side == Buy {
		price += slip
	} else {
		price -= slip
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.positions[symbol]
	switch side {
	case Buy:
		cost := pos.AvgEntry*pos.Quantity + price*qty
		pos.Quantity += qty
		pos.AvgEntry = cost / pos.Quantity
		pos.Symbol = symbol
		p.positions[symbol] = pos
	case Sell:
		if pos.Quantity < qty-dust {
			return Fill{}, fmt.Errorf("%w: sell %v %s with %v held", ErrRejected, qty, symbol, pos.Quantity)
		}
		pos.Quantity -= qty
		if pos.Quantity <= dust {
			delete(p.positions, symbol)
		} else {
			p.positions[symbol] = pos
		}
	default:
		return Fill{}, fmt.Errorf("%w: side %q", ErrRejected, side)
	}
	return Fill{Price: price, Quantity: qty, OrderID: uuid.NewString()}, nil
}

func (p *Paper) Position(_ context.Context, symbol string) (Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, ErrNoPosition
	}
	return pos, nil
}
