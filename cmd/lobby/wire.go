//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"
	"go.uber.org/zap"

	"lobby"
	"lobby/server"
)

// initializeServer wires the store, upstream client, page cache and HTTP server.
func initializeServer(cfg lobby.Config, logger *zap.Logger) (*server.Server, func(), error) {
	wire.Build(
		provideStore,
		provideFetcher,
		provideRegistry,
		provideMetrics,
		providePageCache,
		provideServer,
	)
	return nil, nil, nil
}
