// Package settings reads and writes a server's two on-disk stores: the
// mcvisor settings file (TOML) and the server's own server.properties.
package settings

import "path/filepath"

// File names inside a server directory.
const (
	SettingsFile   = "server_settings.toml"
	PropertiesFile = "server.properties"
)

// Defaults.
const (
	DefaultRAM             = 1024
	DefaultBasePort        = 25565
	DefaultServerDelay     = 120 // minutes
	DefaultPlayerdataDelay = 5   // minutes
	DefaultJavaRuntime     = "java"
)

// Info is the typed view of the settings store.
type Info struct {
	Name                     string `mapstructure:"name"`
	Version                  string `mapstructure:"version"`
	Type                     string `mapstructure:"type"`
	ServerJar                string `mapstructure:"serverjar"`
	RAM                      int    `mapstructure:"ram"`
	BasePort                 int    `mapstructure:"baseport"`
	Port                     int    `mapstructure:"port"`
	IPAddress                string `mapstructure:"ipaddress"`
	ServerBackupsPath        string `mapstructure:"serverbackupspath"`
	PlayerdataBackupsPath    string `mapstructure:"playerdatabackupspath"`
	RollingServerBackups     int    `mapstructure:"rollingserverbackups"`
	RollingPlayerdataBackups int    `mapstructure:"rollingplayerdatabackups"`
	ServerBackupsDelay       int    `mapstructure:"serverbackupsdelay"`
	PlayerdataBackupsDelay   int    `mapstructure:"playerdatabackupsdelay"`
	ServerBackupsOn          bool   `mapstructure:"serverbackupson"`
	PlayerdataBackupsOn      bool   `mapstructure:"playerdatabackupson"`
	JavaRuntimePath          string `mapstructure:"javaruntimepath"`
	AutoDetectHint           bool   `mapstructure:"autodetecthint"`
	CurrentServerProcessID   int    `mapstructure:"currentserverprocessid"`
	UseGUI                   bool   `mapstructure:"usegui"`
}

func defaults() map[string]any {
	return map[string]any{
		"ram":                      DefaultRAM,
		"baseport":                 DefaultBasePort,
		"serverbackupspath":        filepath.Join("backups", "server"),
		"playerdatabackupspath":    filepath.Join("backups", "playerdata"),
		"rollingserverbackups":     -1,
		"rollingplayerdatabackups": -1,
		"serverbackupsdelay":       DefaultServerDelay,
		"playerdatabackupsdelay":   DefaultPlayerdataDelay,
		"javaruntimepath":          DefaultJavaRuntime,
		"currentserverprocessid":   -1,
		"usegui":                   true,
	}
}

func (i Info) values() map[string]any {
	return map[string]any{
		"name":                     i.Name,
		"version":                  i.Version,
		"type":                     i.Type,
		"serverjar":                i.ServerJar,
		"ram":                      i.RAM,
		"baseport":                 i.BasePort,
		"port":                     i.Port,
		"ipaddress":                i.IPAddress,
		"serverbackupspath":        i.ServerBackupsPath,
		"playerdatabackupspath":    i.PlayerdataBackupsPath,
		"rollingserverbackups":     i.RollingServerBackups,
		"rollingplayerdatabackups": i.RollingPlayerdataBackups,
		"serverbackupsdelay":       i.ServerBackupsDelay,
		"playerdatabackupsdelay":   i.PlayerdataBackupsDelay,
		"serverbackupson":          i.ServerBackupsOn,
		"playerdatabackupson":      i.PlayerdataBackupsOn,
		"javaruntimepath":          i.JavaRuntimePath,
		"autodetecthint":           i.AutoDetectHint,
		"currentserverprocessid":   i.CurrentServerProcessID,
		"usegui":                   i.UseGUI,
	}
}
