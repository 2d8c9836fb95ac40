package embedding

import (
	"fmt"

	"LegisGraph/backend/go/internal/config"
)

// NewEmdModel 根据配置创建 embedding 模型。Provider 为空时返回 nil, nil,
// 调用方据此关闭向量同步。
func NewEmdModel(cfg config.EmbeddingConfig) (Embedding, error) {
	switch ModelType(cfg.Provider) {
	case "":
		return nil, nil
	case Google:
		return NewGoogleModel(cfg.APIKey, cfg.Model)
	case OpenAI:
		return NewOpenAIModel(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case HuggingFace:
		return NewHuggingFaceModel(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case Ollama:
		return NewOllamaModel(cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// checkCount 校验提供商返回的向量数量与输入一致。
func checkCount(provider string, got, want int) error {
	if got != want {
		return fmt.Errorf("%s returned %d embeddings for %d inputs", provider, got, want)
	}
	return nil
}
