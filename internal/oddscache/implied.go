package oddscache

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ImpliedProbability converts an American moneyline into the bookmaker's
// implied win probability in [0, 1]. Zero is not a valid line and yields zero.
func ImpliedProbability(moneyline int) decimal.Decimal {
	ml := decimal.NewFromInt(int64(moneyline))
	switch {
	case moneyline < 0:
		risk := ml.Neg()
		return risk.Div(risk.Add(hundred))
	case moneyline > 0:
		return hundred.Div(ml.Add(hundred))
	default:
		return decimal.Zero
	}
}

// Consensus averages the implied probability of each side across books that
// quote both. ok is false when no book quotes the game.
func Consensus(g Snapshot) (home, away decimal.Decimal, ok bool) {
	var n int64
	home, away = decimal.Zero, decimal.Zero
	for _, book := range g.Latest.Books {
		h, hok := g.Latest.HomeMoneyline[book]
		a, aok := g.Latest.AwayMoneyline[book]
		if !hok || !aok {
			continue
		}
		home = home.Add(ImpliedProbability(h))
		away = away.Add(ImpliedProbability(a))
		n++
	}
	if n == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	count := decimal.NewFromInt(n)
	return home.Div(count), away.Div(count), true
}
