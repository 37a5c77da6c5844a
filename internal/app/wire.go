//go:build wireinject

package app

import (
	"context"

	"quantcore/internal/config"
	"quantcore/internal/pipeline"

	"github.com/google/wire"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	panic(wire.Build(analysisSet, strategySet, serviceSet))
}

func buildAnalyzer(cfg *config.Config) (*pipeline.Analyzer, error) {
	panic(wire.Build(analysisSet))
}
