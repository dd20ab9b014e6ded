//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"FuseLane/internal/biz"
	"FuseLane/internal/conf"
	"FuseLane/internal/data"
	"FuseLane/internal/integration"
	"FuseLane/internal/server"
	"FuseLane/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Resilience, *conf.Integrations, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		integration.NewClient,
		integration.NewRegistry,
		NewMaintenanceCron,
		newApp,
	))
}
