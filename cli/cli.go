package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Trinoooo/nodebus/bundles/echo"
	"github.com/Trinoooo/nodebus/bundles/helloworld"
	"github.com/Trinoooo/nodebus/bundles/stdinjson"
	"github.com/Trinoooo/nodebus/config"
	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/core/bundle"
	"github.com/Trinoooo/nodebus/core/master"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/Trinoooo/nodebus/logs"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	flagConfig = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   consts.DefaultConfigPath + "/config.yaml",
		Usage:   "set a custom config path.",
		EnvVars: []string{consts.Config},
	}
	flagBundleRoot = &cli.StringFlag{
		Name:    "bundle-root",
		Aliases: []string{"b"},
		Usage:   "bundle root directory path, overrides the config file.",
	}
	flagEditSettings = &cli.BoolFlag{
		Name:    "edit-settings",
		Aliases: []string{"s"},
		Value:   false,
		Usage:   "interactive settings edition.",
	}
	flagSelectSlices = &cli.IntFlag{
		Name:  "select-slices",
		Usage: "number of wait slices per select, negative waits until disabled, 0 < slices <= 100000 or slices < 0 are available.",
		Action: func(c *cli.Context, slices int) error {
			if slices == 0 || slices > 100000 {
				e := errs.NewInvalidParamErr()
				logs.Logger.Error(e.Error(), zap.String(consts.LogFieldParams, "select-slices"), zap.Int(consts.LogFieldValue, slices))
				return e
			}
			return nil
		},
	}
	flagSliceInterval = &cli.DurationFlag{
		Name:  "slice-interval",
		Usage: "duration of one select wait slice, 0 < interval <= 1s are available.",
		Action: func(c *cli.Context, interval time.Duration) error {
			if interval <= 0 || interval > time.Second {
				e := errs.NewInvalidParamErr()
				logs.Logger.Error(e.Error(), zap.String(consts.LogFieldParams, "slice-interval"), zap.Duration(consts.LogFieldValue, interval))
				return e
			}
			return nil
		},
	}
	flagMetricsPush = &cli.StringFlag{
		Name:  "metrics-push",
		Usage: "prometheus push gateway url, empty to disable.",
	}
)

type Wrapper struct {
	app *cli.App
}

func NewWrapper() *Wrapper {
	wrapper := &Wrapper{
		app: &cli.App{
			Name:    "nodebus",
			Usage:   "a message bus container driven by non-blocking io",
			Version: "0.1.0",
		},
	}
	wrapper.modifyDefaultHelp()
	wrapper.withFlags()
	wrapper.withAction()
	wrapper.withAuthor()
	return wrapper
}

func (wrapper *Wrapper) Run(args []string) error {
	return wrapper.app.Run(args)
}

func (wrapper *Wrapper) modifyDefaultHelp() {
	cli.HelpFlag = &cli.BoolFlag{
		Name: "help",
	}
	cli.AppHelpTemplate = consts.HelpTemplate
}

func (wrapper *Wrapper) withFlags() {
	wrapper.app.Flags = []cli.Flag{
		flagConfig,
		flagBundleRoot,
		flagEditSettings,
		flagSelectSlices,
		flagSliceInterval,
		flagMetricsPush,
	}
}

// Registry 内置 bundle 的 activator
func Registry() (*bundle.Registry, error) {
	registry := bundle.NewRegistry()
	for _, register := range []func(*bundle.Registry) error{
		helloworld.Register,
		stdinjson.Register,
		echo.Register,
	} {
		if err := register(registry); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// loadSettings 命令行参数优先于配置文件
func loadSettings(ctx *cli.Context) (*config.Settings, error) {
	settings := config.Default(ctx.String(flagConfig.Name))
	if err := settings.Load(); err != nil {
		return nil, err
	}
	if ctx.IsSet(flagBundleRoot.Name) {
		settings.Set(consts.SettingBundleRoot, ctx.String(flagBundleRoot.Name))
	}
	if ctx.IsSet(flagSelectSlices.Name) {
		settings.Set(consts.SettingSelectSlices, ctx.Int(flagSelectSlices.Name))
	}
	if ctx.IsSet(flagSliceInterval.Name) {
		settings.Set(consts.SettingSliceInterval, ctx.Duration(flagSliceInterval.Name))
	}
	if ctx.IsSet(flagMetricsPush.Name) {
		settings.Set(consts.SettingMetricsPush, ctx.String(flagMetricsPush.Name))
	}
	return settings, nil
}

func (wrapper *Wrapper) withAction() {
	wrapper.app.Action = func(ctx *cli.Context) error {
		settings, err := loadSettings(ctx)
		if err != nil {
			return err
		}

		if ctx.Bool(flagEditSettings.Name) {
			input, err := config.NewTerminalReader()
			if err != nil {
				return errs.NewConfigErr().WithErr(err)
			}
			defer input.Close()
			return settings.Setup(input, ctx.App.Writer)
		}

		registry, err := Registry()
		if err != nil {
			return err
		}
		m, err := master.New(settings, registry, master.WithStdin(int(os.Stdin.Fd())))
		if err != nil {
			return err
		}
		if err := m.Start(); err != nil {
			logs.Logger.Error("master start failed", zap.Error(m.Stop()))
			return err
		}

		// bugfix: 使用缓冲通道避免执行信号处理程序之前有信号到达会被丢弃
		sig := make(chan os.Signal, 5)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)
		<-sig
		logs.Logger.Info("shutdown...")
		return m.Stop()
	}
}

func (wrapper *Wrapper) withAuthor() {
	wrapper.app.Authors = []*cli.Author{
		{
			Name:  "Trino",
			Email: "sujun.trinoooo@gmail.com",
		},
	}
}
