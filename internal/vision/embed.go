// Package vision computes faceprints for registry mugshots with an ArcFace
// ONNX model.
package vision

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	faceSize     = 112
	faceprintDim = 512
)

// Embedder runs the ArcFace model. The session owns fixed input and output
// tensors, so runs are serialized.
type Embedder struct {
	mu     sync.Mutex
	sess   *ort.AdvancedSession
	input  *ort.Tensor[float32]
	output *ort.Tensor[float32]
}

// NewEmbedder loads an ArcFace w600k_r50 model from modelPath.
func NewEmbedder(modelPath string) (*Embedder, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, faceSize, faceSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, faceprintDim))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return &Embedder{sess: sess, input: input, output: output}, nil
}

// Embed takes a normalized CHW face tensor and returns a unit-length faceprint.
func (e *Embedder) Embed(chw []float32) ([]float32, error) {
	if len(chw) != 3*faceSize*faceSize {
		return nil, fmt.Errorf("face tensor has %d values, want %d", len(chw), 3*faceSize*faceSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.input.GetData(), chw)
	if err := e.sess.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	fp := make([]float32, faceprintDim)
	copy(fp, e.output.GetData())
	l2Normalize(fp)
	return fp, nil
}

func (e *Embedder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		e.sess.Destroy()
		e.sess = nil
	}
	if e.input != nil {
		e.input.Destroy()
		e.input = nil
	}
	if e.output != nil {
		e.output.Destroy()
		e.output = nil
	}
}
