// Package localindex reads the per-repository vector index written next to an
// uploaded file and serves similarity and MMR retrieval over it in memory.
package localindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/repochat/repochat/internal/pathguard"
	"github.com/repochat/repochat/internal/retrieval"
)

// DefaultFileName 是索引文件在版本目录中的默认文件名。
const DefaultFileName = "index.cbor"

// Document 是索引中的一个片段及其向量。
type Document struct {
	ID      string    `cbor:"id"`
	Content string    `cbor:"content"`
	Source  string    `cbor:"source"`
	Vector  []float32 `cbor:"vector"`
}

// File 是索引文件的磁盘格式。
type File struct {
	Model      string     `cbor:"model"`
	Dimensions int        `cbor:"dimensions"`
	Documents  []Document `cbor:"documents"`
}

var encMode = mustEncMode()

var decMode = mustDecMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		IndefLength:      cbor.IndefLengthForbidden,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1 << 24,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Write 将索引编码后写入 path，供外部索引器与测试使用。
func Write(path string, f File) error {
	if err := f.validate(); err != nil {
		return err
	}
	data, err := encMode.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read 读取并校验索引文件。
func Read(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var f File
	if err := decMode.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("decode index %s: %w", path, err)
	}
	if err := f.validate(); err != nil {
		return File{}, fmt.Errorf("index %s: %w", path, err)
	}
	return f, nil
}

func (f File) validate() error {
	if f.Dimensions <= 0 {
		return errors.New("dimensions must be positive")
	}
	for i, doc := range f.Documents {
		if len(doc.Vector) != f.Dimensions {
			return fmt.Errorf("document %d has %d dimensions, want %d", i, len(doc.Vector), f.Dimensions)
		}
		if !finite(doc.Vector) {
			return fmt.Errorf("document %d has non-finite vector component", i)
		}
	}
	return nil
}

func finite(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}

// Loader 实现 retrieval.IndexLoader，从版本目录中读取索引文件。
type Loader struct {
	FileName string
}

// Load 读取 dir 下的索引文件；文件名经 path guard 校验，不能逃出版本目录。
func (l Loader) Load(ctx context.Context, dir string, embedder retrieval.Embedder) (retrieval.Index, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := l.FileName
	if name == "" {
		name = DefaultFileName
	}
	path, err := pathguard.Join(dir, name)
	if err != nil {
		return nil, err
	}
	f, err := Read(path)
	if err != nil {
		return nil, err
	}
	return newIndex(f, embedder), nil
}

// Index 是加载到内存中的只读索引，可被多个检索器并发使用。
type Index struct {
	file     File
	norms    []float64
	embedder retrieval.Embedder
}

func newIndex(f File, embedder retrieval.Embedder) *Index {
	norms := make([]float64, len(f.Documents))
	for i, doc := range f.Documents {
		norms[i] = norm(doc.Vector)
	}
	return &Index{file: f, norms: norms, embedder: embedder}
}

// Len 返回索引中的文档数。
func (ix *Index) Len() int {
	return len(ix.file.Documents)
}

// Retriever 按给定检索配置创建检索器。
func (ix *Index) Retriever(opts retrieval.SearchOptions) (retrieval.Retriever, error) {
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &retriever{index: ix, opts: opts}, nil
}

type retriever struct {
	index *Index
	opts  retrieval.SearchOptions
}

type candidate struct {
	doc   int
	score float64
}

func (r *retriever) Retrieve(ctx context.Context, query string) ([]retrieval.Document, error) {
	vectors, err := r.index.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}
	qv := vectors[0]
	if len(qv) != r.index.file.Dimensions {
		return nil, fmt.Errorf("query has %d dimensions, index has %d", len(qv), r.index.file.Dimensions)
	}
	if !finite(qv) {
		return nil, errors.New("query vector has non-finite component")
	}

	candidates := r.index.rank(qv, r.opts.FetchK)
	var picked []candidate
	if r.opts.Mode == retrieval.ModeDiversity {
		picked = r.index.mmr(candidates, r.opts.K, r.opts.Lambda)
	} else {
		picked = candidates
		if len(picked) > r.opts.K {
			picked = picked[:r.opts.K]
		}
	}

	out := make([]retrieval.Document, 0, len(picked))
	for _, c := range picked {
		doc := r.index.file.Documents[c.doc]
		out = append(out, retrieval.Document{ID: doc.ID, Content: doc.Content, Source: doc.Source, Score: c.score})
	}
	return out, nil
}

// rank 返回与查询余弦相似度最高的前 n 个候选，分数相同按文档顺序。
func (ix *Index) rank(query []float32, n int) []candidate {
	qn := norm(query)
	all := make([]candidate, len(ix.file.Documents))
	for i, doc := range ix.file.Documents {
		all[i] = candidate{doc: i, score: cosine(query, qn, doc.Vector, ix.norms[i])}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].score > all[j].score
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// mmr 依次挑选 lambda*相关性 - (1-lambda)*与已选集合最大相似度 最高的候选。
func (ix *Index) mmr(candidates []candidate, k int, lambda float64) []candidate {
	if k > len(candidates) {
		k = len(candidates)
	}
	selected := make([]candidate, 0, k)
	used := make([]bool, len(candidates))
	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i, c := range candidates {
			if used[i] {
				continue
			}
			redundancy := 0.0
			for j, s := range selected {
				sim := ix.similarity(c.doc, s.doc)
				if j == 0 || sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*c.score - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		// 剩余候选分数都是 NaN 时无法比较，提前结束
		if best < 0 {
			break
		}
		used[best] = true
		selected = append(selected, candidates[best])
	}
	return selected
}

func (ix *Index) similarity(a, b int) float64 {
	docs := ix.file.Documents
	return cosine(docs[a].Vector, ix.norms[a], docs[b].Vector, ix.norms[b])
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
