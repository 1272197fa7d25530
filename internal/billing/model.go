package billing

import "time"

const (
	PriceSourceManual = "manual"
	PriceSourceFile   = "file"
)

// PriceData 覆盖价格，单位: USD per million tokens
type PriceData struct {
	InputCostPerMillion  float64 `json:"inputCostPerMillion"`
	OutputCostPerMillion float64 `json:"outputCostPerMillion"`
}

// Blended 输入输出混合单价，track 只知道 token 总量
func (p PriceData) Blended() float64 {
	return p.InputCostPerMillion + p.OutputCostPerMillion
}

// ModelPrice 模型价格记录
type ModelPrice struct {
	Model     string    `json:"model"`
	PriceData PriceData `json:"priceData"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CostResult 成本计算结果
type CostResult struct {
	CostCents      int64   // 美分
	RatePerMillion float64 // 实际使用的单价
	PricingSource  string  // override / heuristic:<family>
}
