package token

import (
	"errors"
	"math/big"

	"CreditLedger/internal/fixed"
)

var ErrBufferExhausted = errors.New("token: issuance buffer exhausted")

// RateLimitedMinter caps how fast debt tokens can enter circulation. The
// buffer depletes on every mint and refills linearly with the clock, up to
// its capacity. Burns replenish the buffer immediately so repayments free
// up capacity for new borrowing.
type RateLimitedMinter struct {
	token            *Token
	capacity         *big.Int
	replenishPerTick *big.Int
	buffer           *big.Int
	lastTick         int64
}

func NewRateLimitedMinter(tok *Token, capacity, replenishPerTick *big.Int) *RateLimitedMinter {
	return &RateLimitedMinter{
		token:            tok,
		capacity:         fixed.Clone(capacity),
		replenishPerTick: fixed.Clone(replenishPerTick),
		buffer:           fixed.Clone(capacity),
	}
}

// Buffer returns the remaining mint capacity at tick.
func (m *RateLimitedMinter) Buffer(tick int64) *big.Int {
	m.sync(tick)
	return fixed.Clone(m.buffer)
}

// Mint issues amount to `to`, consuming buffer capacity.
func (m *RateLimitedMinter) Mint(tick int64, to Address, amount *big.Int) error {
	if !fixed.IsPositive(amount) {
		return ErrInvalidAmount
	}
	m.sync(tick)
	if m.buffer.Cmp(amount) < 0 {
		return ErrBufferExhausted
	}
	if err := m.token.Mint(to, amount); err != nil {
		return err
	}
	m.buffer = new(big.Int).Sub(m.buffer, amount)
	return nil
}

// Burn destroys amount held by `from` and hands the capacity back.
func (m *RateLimitedMinter) Burn(tick int64, from Address, amount *big.Int) error {
	if err := m.token.Burn(from, amount); err != nil {
		return err
	}
	m.sync(tick)
	m.ReplenishBuffer(amount)
	return nil
}

// ReplenishBuffer restores amount of mint capacity, clamped at capacity.
func (m *RateLimitedMinter) ReplenishBuffer(amount *big.Int) {
	if !fixed.IsPositive(amount) {
		return
	}
	m.buffer = new(big.Int).Add(m.buffer, amount)
	if m.buffer.Cmp(m.capacity) > 0 {
		m.buffer = fixed.Clone(m.capacity)
	}
}

func (m *RateLimitedMinter) sync(tick int64) {
	if tick <= m.lastTick {
		return
	}
	elapsed := big.NewInt(tick - m.lastTick)
	m.lastTick = tick
	m.ReplenishBuffer(new(big.Int).Mul(elapsed, m.replenishPerTick))
}
