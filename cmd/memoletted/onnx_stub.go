//go:build !onnx

package main

import (
	"errors"

	"github.com/tesumi/memolette/config"
	"github.com/tesumi/memolette/embed"
)

func newONNXEmbedder(config.EmbedderConfig) (embed.Embedder, error) {
	return nil, errors.New("onnx embedder requires building with -tags onnx")
}
