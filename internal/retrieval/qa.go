package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultSystemPrompt 约束模型只依据检索到的源码片段作答。
const DefaultSystemPrompt = `You are an assistant that answers questions about a source code repository.
Use only the following pieces of retrieved context to answer the question.
If the context does not contain the answer, say that you don't know.

%s`

// QASession 先检索相关片段，再把片段与问题交给聊天模型。
type QASession struct {
	retriever Retriever
	model     ChatModel
	prompt    string
}

// QAOption 调整 QASession 行为。
type QAOption func(*QASession)

// WithSystemPrompt 替换系统提示词，模板中须包含一个 %s 用于填充上下文。
func WithSystemPrompt(prompt string) QAOption {
	return func(s *QASession) {
		if strings.Contains(prompt, "%s") {
			s.prompt = prompt
		}
	}
}

// NewQASession 构建问答会话。
func NewQASession(retriever Retriever, model ChatModel, opts ...QAOption) (*QASession, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if model == nil {
		return nil, errors.New("chat model is required")
	}
	s := &QASession{retriever: retriever, model: model, prompt: DefaultSystemPrompt}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Invoke 执行一次检索增强问答。
func (s *QASession) Invoke(ctx context.Context, query string) (Answer, error) {
	docs, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve: %w", err)
	}
	messages := []Message{
		{Role: "system", Content: fmt.Sprintf(s.prompt, formatContext(docs))},
		{Role: "user", Content: query},
	}
	text, err := s.model.Complete(ctx, messages)
	if err != nil {
		return Answer{}, fmt.Errorf("complete: %w", err)
	}
	return Answer{Answer: text, Sources: docs}, nil
}

func formatContext(docs []Document) string {
	var b strings.Builder
	for i, doc := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if doc.Source != "" {
			fmt.Fprintf(&b, "Source: %s\n", doc.Source)
		}
		b.WriteString(doc.Content)
	}
	return b.String()
}

// IndexLoader 从仓库目录加载向量索引。
type IndexLoader interface {
	Load(ctx context.Context, dir string, embedder Embedder) (Index, error)
}

// Pipeline 是 Collaborator 的默认实现：固定的 embedder、索引加载器与聊天模型。
type Pipeline struct {
	embedder Embedder
	loader   IndexLoader
	model    ChatModel
	qaOpts   []QAOption
}

// NewPipeline 组装默认的 Collaborator。
func NewPipeline(embedder Embedder, loader IndexLoader, model ChatModel, opts ...QAOption) *Pipeline {
	return &Pipeline{embedder: embedder, loader: loader, model: model, qaOpts: opts}
}

func (p *Pipeline) Embeddings(ctx context.Context) (Embedder, error) {
	if p.embedder == nil {
		return nil, errors.New("embeddings provider not configured")
	}
	return p.embedder, nil
}

func (p *Pipeline) LoadIndex(ctx context.Context, path string, embedder Embedder) (Index, error) {
	if p.loader == nil {
		return nil, errors.New("index loader not configured")
	}
	return p.loader.Load(ctx, path, embedder)
}

func (p *Pipeline) BuildQA(ctx context.Context, retriever Retriever) (Session, error) {
	session, err := NewQASession(retriever, p.model, p.qaOpts...)
	if err != nil {
		return nil, err
	}
	return session, nil
}
