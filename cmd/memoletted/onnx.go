//go:build onnx

package main

import (
	"github.com/tesumi/memolette/config"
	"github.com/tesumi/memolette/embed"
	"github.com/tesumi/memolette/embed/onnx"
)

func newONNXEmbedder(cfg config.EmbedderConfig) (embed.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:         cfg.ModelPath,
		TokenizerPath:     cfg.TokenizerPath,
		SharedLibraryPath: cfg.SharedLibraryPath,
		Dimensions:        cfg.Dimensions,
	})
}
