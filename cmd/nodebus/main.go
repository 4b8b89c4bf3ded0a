package main

import (
	"os"

	"github.com/Trinoooo/nodebus/cli"
	"github.com/Trinoooo/nodebus/logs"
	"go.uber.org/zap"
)

func main() {
	defer func() {
		_ = logs.Logger.Sync()
	}()

	wrapper := cli.NewWrapper()
	if err := wrapper.Run(os.Args); err != nil {
		logs.Logger.Error("nodebus exit", zap.Error(err))
		os.Exit(1)
	}
}
