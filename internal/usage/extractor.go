package usage

import (
	"math"
	"strconv"
	"strings"

	"lucledger/internal/model"

	"github.com/tidwall/gjson"
)

const unknownModel = "unknown"

// Usage 从一次补全响应中提取出的用量
type Usage struct {
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	Model        string `json:"model"`
}

// Extractor 某一类提供商响应格式的用量提取器
type Extractor interface {
	Name() string
	Extract(completion gjson.Result) Usage
}

var (
	openAIExtractor    Extractor = openAIShape{}
	anthropicExtractor Extractor = anthropicShape{}
	geminiExtractor    Extractor = geminiShape{}
	genericExtractor   Extractor = genericShape{}
)

// For 根据提供商名称选择提取器，未识别的提供商走通用探测
func For(provider string) Extractor {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai", "groq", "claude", "openrouter", "deepseek", "mistral", "together", "xai":
		// claude 在上游已被规整为 OpenAI usage 结构
		return openAIExtractor
	case "anthropic":
		return anthropicExtractor
	case "gemini", "google", "vertex":
		return geminiExtractor
	default:
		return genericExtractor
	}
}

// Extract 从原始补全 JSON 中提取用量，空或非法 JSON 返回零值
func Extract(provider string, completion []byte) Usage {
	if len(completion) == 0 || !gjson.ValidBytes(completion) {
		return Usage{Model: unknownModel}
	}
	return ExtractResult(provider, gjson.ParseBytes(completion))
}

func ExtractResult(provider string, completion gjson.Result) Usage {
	if !completion.IsObject() {
		return Usage{Model: unknownModel}
	}
	return For(provider).Extract(completion)
}

type openAIShape struct{}

func (openAIShape) Name() string { return "openai" }

func (openAIShape) Extract(c gjson.Result) Usage {
	return Usage{
		InputTokens:  CoerceTokens(c.Get("usage.prompt_tokens")),
		OutputTokens: CoerceTokens(c.Get("usage.completion_tokens")),
		Model:        modelOf(c, "model"),
	}
}

type anthropicShape struct{}

func (anthropicShape) Name() string { return "anthropic" }

// 缓存读写 token 也计入输入
func (anthropicShape) Extract(c gjson.Result) Usage {
	u := c.Get("usage")
	input := min(CoerceTokens(u.Get("input_tokens"))+
		CoerceTokens(u.Get("cache_creation_input_tokens"))+
		CoerceTokens(u.Get("cache_read_input_tokens")), model.MaxTokensPerCall)
	return Usage{
		InputTokens:  input,
		OutputTokens: CoerceTokens(u.Get("output_tokens")),
		Model:        modelOf(c, "model"),
	}
}

type geminiShape struct{}

func (geminiShape) Name() string { return "gemini" }

func (geminiShape) Extract(c gjson.Result) Usage {
	u := c.Get("usageMetadata")
	if !u.Exists() {
		u = c.Get("usage_metadata")
	}
	if !u.Exists() {
		return genericShape{}.Extract(c)
	}
	return Usage{
		InputTokens:  CoerceTokens(firstOf(u, "promptTokenCount", "prompt_token_count")),
		OutputTokens: CoerceTokens(firstOf(u, "candidatesTokenCount", "candidates_token_count")),
		Model:        modelOf(c, "modelVersion", "model"),
	}
}

// genericShape 逐个字段探测常见的 usage 结构
type genericShape struct{}

func (genericShape) Name() string { return "generic" }

func (genericShape) Extract(c gjson.Result) Usage {
	u := firstOf(c, "usage", "usageMetadata", "usage_metadata")
	if !u.Exists() {
		return Usage{Model: modelOf(c, "model")}
	}
	return Usage{
		InputTokens:  CoerceTokens(firstOf(u, "prompt_tokens", "input_tokens", "inputTokenCount.totalTokens")),
		OutputTokens: CoerceTokens(firstOf(u, "completion_tokens", "output_tokens", "outputTokenCount.totalTokens")),
		Model:        modelOf(c, "model", "modelId"),
	}
}

// firstOf 返回第一个存在且非 null 的字段
func firstOf(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func modelOf(c gjson.Result, paths ...string) string {
	if v := firstOf(c, paths...); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
		return v.Str
	}
	return unknownModel
}

// CoerceTokens 宽松地把任意 JSON 值转为非负 token 数：
// 数字与数字字符串截断取整，其余（负数、非数字、缺失）均为 0，
// 超过 model.MaxTokensPerCall 的取上限
func CoerceTokens(r gjson.Result) int64 {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if s == "" {
			return 0
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = v
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, -1) || f <= 0 {
		return 0
	}
	if f >= float64(model.MaxTokensPerCall) {
		return model.MaxTokensPerCall
	}
	return int64(math.Trunc(f))
}
