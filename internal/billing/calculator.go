package billing

import (
	"lucledger/internal/model"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	tokensPerMillion = decimal.NewFromInt(1_000_000)
	centsPerDollar   = decimal.NewFromInt(100)
	maxCents         = decimal.NewFromInt(model.MaxCounterValue)
)

// PriceLookup 覆盖价格查询
type PriceLookup interface {
	GetPrice(model string) (PriceData, bool)
}

// CostCalculator 成本计算器：覆盖价格优先，其次按家族估算
type CostCalculator struct {
	store PriceLookup
}

func NewCostCalculator(store PriceLookup) *CostCalculator {
	return &CostCalculator{store: store}
}

// EstimateCostCents 估算费用（美分），任何失败都返回 0
func (c *CostCalculator) EstimateCostCents(model string, totalTokens int64) int64 {
	return c.Calculate(model, totalTokens).CostCents
}

func (c *CostCalculator) Calculate(model string, totalTokens int64) (result CostResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("pricing: estimate for %q panicked: %v", model, r)
			result = CostResult{PricingSource: "error"}
		}
	}()

	if totalTokens < 0 {
		totalTokens = 0
	}

	if c.store != nil {
		if price, ok := c.store.GetPrice(model); ok {
			rate := price.Blended()
			return CostResult{
				CostCents:      centsFor(totalTokens, rate),
				RatePerMillion: rate,
				PricingSource:  "override",
			}
		}
	}

	rate, family := HeuristicRate(model)
	log.Debugf("pricing: no override for %q, using %s heuristic at $%.2f/M", model, family, rate)
	return CostResult{
		CostCents:      centsFor(totalTokens, rate),
		RatePerMillion: rate,
		PricingSource:  "heuristic:" + family,
	}
}

// centsFor round(tokens / 1e6 * rate * 100)，四舍五入远离零
func centsFor(tokens int64, ratePerMillion float64) int64 {
	usd := decimal.NewFromInt(tokens).Div(tokensPerMillion).Mul(decimal.NewFromFloat(ratePerMillion))
	cents := usd.Mul(centsPerDollar).Round(0)
	if cents.GreaterThan(maxCents) {
		return model.MaxCounterValue
	}
	return cents.IntPart()
}
