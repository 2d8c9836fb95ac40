// Package embedding 封装各个 embedding 提供商, 并提供按内容寻址的向量缓存。
package embedding

import "context"

// Embedding 定义了所有 embedding 模型需要实现的接口。
type Embedding interface {
	// Embed 为单个文本生成嵌入向量。
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch 为一批文本生成嵌入向量, 返回顺序与输入一致。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Model 返回模型名称, 它是缓存键的一部分。
	Model() string
}

// ModelType 表示不同的模型厂商。
type ModelType string

const (
	OpenAI      ModelType = "openai"
	Google      ModelType = "gemini"
	Ollama      ModelType = "ollama"
	HuggingFace ModelType = "huggingface"
)
