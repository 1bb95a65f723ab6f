//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/retry"
)

// ONNXEmbedder runs a local sentence-embedding model through ONNX Runtime. It requires
// CGO and the onnxruntime shared library. Inference is serialized on one session whose
// input and output tensors are allocated once and reused.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	tensors    *onnxTensors
	tokenizer  Tokenizer
	model      string
	dimensions int
	maxTokens  int
}

// onnxTensors are the bound session inputs (input_ids, attention_mask, token_type_ids)
// and the pooled output.
type onnxTensors struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newONNXTensors(maxTokens, dimensions int) (_ *onnxTensors, err error) {
	t := &onnxTensors{}
	defer func() {
		if err != nil {
			t.destroy()
		}
	}()
	inputShape := ort.NewShape(1, int64(maxTokens))
	for _, in := range []struct {
		name string
		dst  **ort.Tensor[int64]
	}{
		{"input_ids", &t.inputIDs},
		{"attention_mask", &t.attentionMask},
		{"token_type_ids", &t.tokenTypeIDs},
	} {
		tensor, err := ort.NewTensor(inputShape, make([]int64, maxTokens))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tensor: %w", in.name, err)
		}
		*in.dst = tensor
	}
	output, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	t.output = output
	return t, nil
}

func (t *onnxTensors) inputs() []ort.ArbitraryTensor {
	return []ort.ArbitraryTensor{t.inputIDs, t.attentionMask, t.tokenTypeIDs}
}

func (t *onnxTensors) load(enc Encoding) {
	copy(t.inputIDs.GetData(), enc.InputIDs)
	copy(t.attentionMask.GetData(), enc.AttentionMask)
	copy(t.tokenTypeIDs.GetData(), enc.TokenTypeIDs)
}

func (t *onnxTensors) destroy() {
	for _, in := range []*ort.Tensor[int64]{t.inputIDs, t.attentionMask, t.tokenTypeIDs} {
		if in != nil {
			_ = in.Destroy()
		}
	}
	if t.output != nil {
		_ = t.output.Destroy()
	}
	*t = onnxTensors{}
}

// NewONNXEmbedder loads the model at modelPath. model names the model in metrics and logs.
func NewONNXEmbedder(modelPath, model string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx embedder: model_path is required")
	}
	if err := checkONNXShape(dimensions, maxTokens); err != nil {
		return nil, err
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	tensors, err := newONNXTensors(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		tensors.inputs(),
		[]ort.ArbitraryTensor{tensors.output},
		nil,
	)
	if err != nil {
		tensors.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEmbedder{
		session:    session,
		tensors:    tensors,
		tokenizer:  HashTokenizer{},
		model:      model,
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed runs the model once per text.
func (e *ONNXEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		emb, err := e.run(text)
		if err != nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues("onnx", e.model, "error").Inc()
			return nil, retry.Permanent(err)
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues("onnx", e.model, "success").Inc()
		metrics.EmbeddingRequestDuration.WithLabelValues("onnx", e.model).Observe(time.Since(start).Seconds())
		embeddings[i] = emb
	}
	return embeddings, nil
}

func (e *ONNXEmbedder) run(text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx embedder is closed")
	}

	e.tensors.load(e.tokenizer.Encode(text, e.maxTokens))
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.tensors.output.GetData())
	NormalizeL2Slice(embedding)
	return embedding, nil
}

// EmbedOne embeds a single text.
func (e *ONNXEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// Model returns the model name.
func (e *ONNXEmbedder) Model() string {
	return e.model
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.tensors.destroy()
	return err
}
