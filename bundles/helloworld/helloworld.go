package helloworld

import (
	"github.com/Trinoooo/nodebus/core/bundle"
)

const ActivatorName = "helloworld"

type HelloWorld struct{}

func Register(registry *bundle.Registry) error {
	return registry.Register(ActivatorName, func() bundle.Activator {
		return &HelloWorld{}
	})
}

func (h *HelloWorld) Start(ctx *bundle.Context) error {
	ctx.Logger().Info("Hello world!")
	return nil
}

func (h *HelloWorld) Stop(ctx *bundle.Context) error {
	ctx.Logger().Info("Bye!")
	return nil
}
