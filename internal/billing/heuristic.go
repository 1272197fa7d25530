package billing

import "strings"

type familyRate struct {
	family     string
	perMillion float64
	match      func(model string) bool
}

func contains(sub string) func(string) bool {
	return func(model string) bool { return strings.Contains(model, sub) }
}

// heuristicRates 按顺序匹配，先命中者生效
var heuristicRates = []familyRate{
	{"gemini", 1.13, contains("gemini")},
	{"glm", 0.87, contains("glm")},
	{"gpt-4o", 5.0, contains("gpt-4o")},
	{"workers-ai", 0.10, func(m string) bool { return strings.HasPrefix(m, "@cf/") }},
	{"opus", 15.0, contains("opus")},
	{"gpt-4", 10.0, contains("gpt-4")},
	{"sonnet", 3.0, contains("sonnet")},
	{"haiku", 0.80, contains("haiku")},
	{"small", 0.30, func(m string) bool { return strings.Contains(m, "flash") || strings.Contains(m, "mini") }},
}

const defaultRatePerMillion = 1.0

// HeuristicRate 按模型家族估算单价（USD / 百万 token）
func HeuristicRate(model string) (perMillion float64, family string) {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, r := range heuristicRates {
		if r.match(m) {
			return r.perMillion, r.family
		}
	}
	return defaultRatePerMillion, "default"
}
