package sim

// Observation 是某一时刻的观测：W×F 价格特征窗口 + [balance, holdings, net_worth]。
type Observation struct {
	Prices    [][]float64 `json:"prices"`
	Portfolio [3]float64  `json:"portfolio"`
	Step      int         `json:"step"`
}

// FlatObservation is the wire shape sent to the oracle and stored with actions.
type FlatObservation struct {
	Prices    []float64 `json:"prices"`
	Portfolio []float64 `json:"portfolio"`
}

// Flatten lays the price window out row-major.
func (o Observation) Flatten() FlatObservation {
	width := 0
	if len(o.Prices) > 0 {
		width = len(o.Prices[0])
	}
	prices := make([]float64, 0, len(o.Prices)*width)
	for _, row := range o.Prices {
		prices = append(prices, row...)
	}
	return FlatObservation{
		Prices:    prices,
		Portfolio: []float64{o.Portfolio[0], o.Portfolio[1], o.Portfolio[2]},
	}
}
