// Package gauge holds the consumed view of governance voting weights. The
// weighting algorithm itself lives outside this service; weights and
// term flags arrive as governance events and are only ever read here.
package gauge

import (
	"math/big"

	"CreditLedger/internal/fixed"
	"CreditLedger/internal/token"
)

// Oracle answers debt-ceiling and reward-weight queries for loan terms.
type Oracle struct {
	weights     map[string]*big.Int                   // term -> gauge weight
	stakes      map[string]map[token.Address]*big.Int // term -> staker -> weight
	stakeTotals map[string]*big.Int                   // term -> sum of staker weights
	deprecated  map[string]bool
}

func NewOracle() *Oracle {
	return &Oracle{
		weights:     make(map[string]*big.Int),
		stakes:      make(map[string]map[token.Address]*big.Int),
		stakeTotals: make(map[string]*big.Int),
		deprecated:  make(map[string]bool),
	}
}

// SetWeight records the gauge weight for a term.
func (o *Oracle) SetWeight(term string, weight *big.Int) {
	o.weights[term] = fixed.Clone(weight)
}

// SetDeprecated flags a term as wound down by governance. Deprecated terms
// accept no new loans and every open loan on them becomes callable.
func (o *Oracle) SetDeprecated(term string, deprecated bool) {
	o.deprecated[term] = deprecated
}

// SetStake records a participant's backing weight on a term.
func (o *Oracle) SetStake(term string, staker token.Address, weight *big.Int) {
	m := o.stakes[term]
	if m == nil {
		m = make(map[token.Address]*big.Int)
		o.stakes[term] = m
	}
	total := fixed.Clone(o.stakeTotals[term])
	total.Sub(total, fixed.Clone(m[staker]))
	m[staker] = fixed.Clone(weight)
	total.Add(total, m[staker])
	o.stakeTotals[term] = total
}

// IsActive reports whether the term has any gauge weight at all.
func (o *Oracle) IsActive(term string) bool {
	w := o.weights[term]
	return w != nil && w.Sign() > 0
}

// IsDeprecated reports whether governance has wound the term down.
func (o *Oracle) IsDeprecated(term string) bool { return o.deprecated[term] }

// GaugeAllocation returns the share of hypotheticalTotal the term is
// entitled to, proportional to its gauge weight.
func (o *Oracle) GaugeAllocation(term string, hypotheticalTotal *big.Int) *big.Int {
	w := o.weights[term]
	if w == nil || w.Sign() == 0 {
		return new(big.Int)
	}
	total := new(big.Int)
	for _, v := range o.weights {
		total.Add(total, v)
	}
	if total.Sign() == 0 {
		return new(big.Int)
	}
	return fixed.MulDivDown(hypotheticalTotal, w, total)
}

// StakerWeight returns the participant's backing weight on a term.
func (o *Oracle) StakerWeight(term string, staker token.Address) *big.Int {
	return fixed.Clone(o.stakes[term][staker])
}

// TotalStake returns the total backing weight on a term.
func (o *Oracle) TotalStake(term string) *big.Int {
	return fixed.Clone(o.stakeTotals[term])
}
