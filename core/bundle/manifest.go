package bundle

import (
	"github.com/Trinoooo/nodebus/errs"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// manifest 属性名
const (
	PropSymbolicName = "Bundle-SymbolicName"
	PropName         = "Bundle-Name"
	PropVersion      = "Bundle-Version"
	PropActivator    = "Bundle-Activator"
)

// Manifest bundle 描述文件，yaml 格式：
//
//	Bundle-SymbolicName: org.nodebus.helloworld
//	Bundle-Name: Hello world
//	Bundle-Version: 1.0.0
//	Bundle-Activator: helloworld
type Manifest struct {
	path string
	v    *viper.Viper
}

func LoadManifest(path string) (*Manifest, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errs.NewManifestErr().WithErr(err)
	}

	m := &Manifest{path: path, v: v}
	for _, prop := range []string{PropSymbolicName, PropActivator} {
		if m.Property(prop) == "" {
			return nil, errs.NewManifestErr().WithErr(errors.Errorf("%s: missing property %s", path, prop))
		}
	}
	return m, nil
}

func (m *Manifest) Path() string {
	return m.path
}

// Property 属性名大小写不敏感
func (m *Manifest) Property(name string) string {
	return m.v.GetString(name)
}

func (m *Manifest) SymbolicName() string {
	return m.Property(PropSymbolicName)
}

func (m *Manifest) Name() string {
	if name := m.Property(PropName); name != "" {
		return name
	}
	return m.SymbolicName()
}

func (m *Manifest) Version() string {
	return m.Property(PropVersion)
}

func (m *Manifest) Activator() string {
	return m.Property(PropActivator)
}

func (m *Manifest) All() map[string]any {
	return m.v.AllSettings()
}
