//go:build !cgo
// +build !cgo

package embedding

import (
	"errors"
)

// ONNXConfig describes a local sentence-embedding model exported to ONNX.
type ONNXConfig struct {
	ModelPath  string
	ModelID    string
	Dimensions int
	MaxTokens  int
}

// ONNXEmbedder stub type when built without CGO (see onnx.go for real implementation).
type ONNXEmbedder struct {
	Embedder
}

// NewONNXEmbedder returns an error when built without CGO (ONNX not available).
func NewONNXEmbedder(_ ONNXConfig) (*ONNXEmbedder, error) {
	return nil, errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}
