package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/magiconair/properties"
	"github.com/spf13/viper"
)

// Editor gives synchronized access to one server's settings and properties.
// Changes stay in memory until Flush.
type Editor struct {
	dir   string
	mu    sync.Mutex
	v     *viper.Viper
	props *properties.Properties
}

// Open loads the stores in dir. Missing files start out empty.
func Open(dir string) (*Editor, error) {
	e := &Editor{dir: dir}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Dir is the server directory.
func (e *Editor) Dir() string { return e.dir }

// Reload discards unsaved changes and re-reads both stores.
func (e *Editor) Reload() error {
	v := viper.New()
	v.SetConfigType("toml")
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	path := filepath.Join(e.dir, SettingsFile)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	// stat first: the loader reports missing files through the stdlib logger
	props := properties.NewProperties()
	ppath := filepath.Join(e.dir, PropertiesFile)
	if _, err := os.Stat(ppath); err == nil {
		l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
		if props, err = l.LoadFile(ppath); err != nil {
			return fmt.Errorf("read %s: %w", PropertiesFile, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	props.DisableExpansion = true

	e.mu.Lock()
	e.v, e.props = v, props
	e.mu.Unlock()
	return nil
}

// Info returns the typed settings.
func (e *Editor) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info()
}

func (e *Editor) info() Info {
	var i Info
	_ = e.v.Unmarshal(&i)
	return i
}

// UpdateInfo applies fn to the settings.
func (e *Editor) UpdateInfo(fn func(*Info)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.info()
	fn(&i)
	for k, val := range i.values() {
		e.v.Set(k, val)
	}
}

// Property returns a server.properties value.
func (e *Editor) Property(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.props.Get(key)
}

// SetProperty sets a server.properties value.
func (e *Editor) SetProperty(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _, err := e.props.Set(key, value)
	return err
}

// Flush writes both stores. Each is written to a temporary file first and
// both are renamed into place only when both writes succeeded.
func (e *Editor) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := os.MkdirAll(e.dir, 0o750); err != nil {
		return err
	}
	settingsPath := filepath.Join(e.dir, SettingsFile)
	propsPath := filepath.Join(e.dir, PropertiesFile)
	settingsTmp := filepath.Join(e.dir, ".server_settings.tmp.toml")
	propsTmp := propsPath + ".tmp"

	if err := e.v.WriteConfigAs(settingsTmp); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := writeProperties(e.props, propsTmp); err != nil {
		_ = os.Remove(settingsTmp)
		return fmt.Errorf("write properties: %w", err)
	}
	if err := os.Rename(settingsTmp, settingsPath); err != nil {
		_ = os.Remove(settingsTmp)
		_ = os.Remove(propsTmp)
		return err
	}
	if err := os.Rename(propsTmp, propsPath); err != nil {
		_ = os.Remove(propsTmp)
		return err
	}
	return nil
}

func writeProperties(p *properties.Properties, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := p.WriteComment(f, "#", properties.UTF8); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// SetProcessID records the running server's pid and flushes.
func (e *Editor) SetProcessID(pid int) error {
	e.UpdateInfo(func(i *Info) { i.CurrentServerProcessID = pid })
	return e.Flush()
}

// Resolve returns p, or p joined to the server directory when relative.
func (e *Editor) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.dir, p)
}
