// Package config 基于 viper 的配置，支持声明配置项说明并交互式编辑
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/Trinoooo/nodebus/logs"
	"github.com/Trinoooo/nodebus/utils"
	"github.com/chzyer/readline"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type definition struct {
	name        string
	description string
	def         any
}

type Settings struct {
	v    *viper.Viper
	path string
	defs []*definition
}

func New(path string) *Settings {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return &Settings{
		v:    v,
		path: path,
	}
}

// Default 默认路径下的配置，声明容器用到的全部配置项
func Default(path string) *Settings {
	if path == "" {
		path = fmt.Sprintf("%s/config.yaml", consts.DefaultConfigPath)
	}
	s := New(path)
	s.Define(consts.SettingPidFile, "Path of the file where the service PID will be written in", consts.DefaultPidFile)
	s.Define(consts.SettingBundleRoot, "Bundle root directory path", consts.DefaultBundleRoot)
	s.Define(consts.SettingSelectSlices, "Number of wait slices per select, negative waits until disabled", consts.DefaultSelectSlices)
	s.Define(consts.SettingSliceInterval, "Duration of one select wait slice", consts.DefaultSliceInterval)
	s.Define(consts.SettingMaxEvents, "Max kernel events collected per wait", consts.DefaultMaxEvents)
	s.Define(consts.SettingWorkers, "Worker pool capacity", consts.DefaultWorkers)
	s.Define(consts.SettingMetricsPush, "Prometheus push gateway url, empty to disable", "")
	s.Define(consts.SettingMetricsPeriod, "Prometheus push period", consts.DefaultMetricsPeriod)

	s.bindEnv(consts.SettingBundleRoot, consts.BundleRoot)
	s.bindEnv(consts.SettingMetricsPush, consts.MetricsPush)
	s.bindEnv(consts.SettingSelectSlices, consts.SelectSlices)
	return s
}

func (s *Settings) bindEnv(name, env string) {
	if err := s.v.BindEnv(name, env); err != nil {
		logs.Logger.Warn("bind env failed", zap.String(consts.LogFieldParams, name), zap.Error(err))
	}
}

// Define 声明配置项，description 在交互式编辑时展示
func (s *Settings) Define(name, description string, def any) {
	s.v.SetDefault(name, def)
	for _, d := range s.defs {
		if d.name == name {
			d.description, d.def = description, def
			return
		}
	}
	s.defs = append(s.defs, &definition{name: name, description: description, def: def})
}

func (s *Settings) Path() string {
	return s.path
}

// Load 配置文件不存在时使用默认值
func (s *Settings) Load() error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		logs.Logger.Info("config file not exist, use defaults", zap.String(consts.LogFieldPath, s.path))
		return nil
	}
	if err := s.v.ReadInConfig(); err != nil {
		e := errs.NewConfigErr().WithErr(err)
		logs.Logger.Error(e.Error(), zap.String(consts.LogFieldPath, s.path))
		return e
	}
	return nil
}

func (s *Settings) Save() error {
	f, err := utils.CheckAndCreateFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	_ = f.Close()
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return errs.NewWriteFileErr().WithErr(err)
	}
	return nil
}

func (s *Settings) Set(name string, value any) {
	s.v.Set(name, value)
}

func (s *Settings) Get(name string) any {
	return s.v.Get(name)
}

func (s *Settings) GetString(name string) string {
	return s.v.GetString(name)
}

func (s *Settings) GetInt(name string) int {
	return s.v.GetInt(name)
}

func (s *Settings) GetDuration(name string) time.Duration {
	return s.v.GetDuration(name)
}

type LineReader interface {
	Readline() (string, error)
}

// NewTerminalReader 交互式编辑使用的终端输入
func NewTerminalReader() (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
	})
}

// Setup 逐项展示配置说明和当前值，输入为空保留当前值，最后写回配置文件
func (s *Settings) Setup(in LineReader, out io.Writer) error {
	for _, d := range s.defs {
		_, _ = fmt.Fprintln(out, utils.WrapInfo("%s (%s)", d.description, d.name))
		_, _ = fmt.Fprintf(out, "  current: %v, default: %v\n", s.v.Get(d.name), d.def)

		line, err := in.Readline()
		if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
			_, _ = fmt.Fprintln(out, utils.WrapWarn("setup aborted, nothing saved"))
			return nil
		}
		if err != nil {
			return errs.NewConfigErr().WithErr(err)
		}
		if line = strings.TrimSpace(line); line != "" {
			s.v.Set(d.name, line)
		}
	}

	if err := s.Save(); err != nil {
		_, _ = fmt.Fprintln(out, utils.WrapError("save settings failed: %v", err))
		return err
	}
	_, _ = fmt.Fprintln(out, utils.WrapOK("settings saved to %s", s.path))
	return nil
}
