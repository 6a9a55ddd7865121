// Package retrieval defines the question-answering collaborator that chat
// sessions are built from: an embeddings provider, a per-repository vector
// index and a chat model. Concrete implementations live in the localindex and
// openai sub-packages; everything here is interfaces plus the glue that turns
// a repository directory into a ready Session.
package retrieval

import (
	"context"
	"fmt"
)

// Mode 指定检索策略。
type Mode string

const (
	// ModeSimilarity 直接取相似度最高的 K 条。
	ModeSimilarity Mode = "similarity"
	// ModeDiversity 先取 FetchK 个候选，再按最大边际相关性挑选 K 条。
	ModeDiversity Mode = "diversity"
)

const (
	DefaultK      = 20
	DefaultFetchK = 30
	DefaultLambda = 0.5
)

// SearchOptions 控制检索器的召回规模与多样性权重。
type SearchOptions struct {
	Mode   Mode
	K      int
	FetchK int
	Lambda float64
}

// DefaultSearchOptions 返回多样性检索、k=20、候选池 30 的默认配置。
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Mode: ModeDiversity, K: DefaultK, FetchK: DefaultFetchK, Lambda: DefaultLambda}
}

// Normalize 补齐零值字段并保证 FetchK >= K。
// Lambda 取值范围为 (0, 1]，零值和越界值都回落到 DefaultLambda。
func (o SearchOptions) Normalize() SearchOptions {
	if o.Mode == "" {
		o.Mode = ModeDiversity
	}
	if o.K <= 0 {
		o.K = DefaultK
	}
	if o.FetchK <= 0 {
		o.FetchK = DefaultFetchK
	}
	if o.FetchK < o.K {
		o.FetchK = o.K
	}
	if !(o.Lambda > 0 && o.Lambda <= 1) {
		o.Lambda = DefaultLambda
	}
	return o
}

// Validate 拒绝无法识别的检索模式。
func (o SearchOptions) Validate() error {
	switch o.Mode {
	case ModeSimilarity, ModeDiversity:
		return nil
	default:
		return fmt.Errorf("unsupported search mode %q", o.Mode)
	}
}

// Document 是检索返回的一段源码片段。
type Document struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Answer 是一次问答的结果。
type Answer struct {
	Answer  string
	Sources []Document
}

// Message 是发送给聊天模型的一条消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embedder 将文本转换为向量。
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatModel 根据消息序列生成回答。
type ChatModel interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Index 是某个仓库目录对应的向量索引。
type Index interface {
	Retriever(opts SearchOptions) (Retriever, error)
}

// Retriever 返回与查询最相关的文档。
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Document, error)
}

// Session 是绑定到单个仓库版本的问答会话，可被并发调用。
type Session interface {
	Invoke(ctx context.Context, query string) (Answer, error)
}

// Collaborator 组合出构建会话所需的各个外部能力。
type Collaborator interface {
	Embeddings(ctx context.Context) (Embedder, error)
	LoadIndex(ctx context.Context, path string, embedder Embedder) (Index, error)
	BuildQA(ctx context.Context, retriever Retriever) (Session, error)
}

// Builder 为仓库目录构建新的会话。
type Builder func(ctx context.Context, path string) (Session, error)

// NewSessionFactory 返回的 Builder 依次执行：获取 embeddings → 加载索引 → 创建检索器 → 组装 QA 会话。
func NewSessionFactory(collab Collaborator, opts SearchOptions) Builder {
	opts = opts.Normalize()
	return func(ctx context.Context, path string) (Session, error) {
		if err := opts.Validate(); err != nil {
			return nil, err
		}
		embedder, err := collab.Embeddings(ctx)
		if err != nil {
			return nil, fmt.Errorf("embeddings: %w", err)
		}
		index, err := collab.LoadIndex(ctx, path, embedder)
		if err != nil {
			return nil, fmt.Errorf("load index: %w", err)
		}
		retriever, err := index.Retriever(opts)
		if err != nil {
			return nil, fmt.Errorf("retriever: %w", err)
		}
		session, err := collab.BuildQA(ctx, retriever)
		if err != nil {
			return nil, fmt.Errorf("build qa: %w", err)
		}
		return session, nil
	}
}
