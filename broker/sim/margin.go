package sim

// revalueLocked marks every position to market and recomputes equity and
// margin. Caller holds e.mu.
func (e *Engine) revalueLocked() {
	equity := e.acct.Balance
	margin := 0.0
	for _, p := range e.positions {
		if q, err := e.quotes.Get(p.Instrument); err == nil {
			p.mark = markPrice(p.Side, q.Bid, q.Ask)
		}
		equity += p.PL(p.mark, p.Volume)
		margin += p.Volume * p.contract * p.mark * e.marginRate
	}
	e.acct.Equity = equity
	e.acct.Margin = margin
	e.acct.FreeMargin = equity - margin
	e.acct.MarginLevel = 0
	if margin > 0 {
		e.acct.MarginLevel = equity / margin * 100
	}
}

// requiredMargin is the margin a new position of volume lots at price needs.
func (e *Engine) requiredMargin(volume, contract, price float64) float64 {
	return volume * contract * price * e.marginRate
}
