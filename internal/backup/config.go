package backup

import (
	"time"

	"github.com/loykin/mcvisor/internal/settings"
)

// Kind names a backup flavour.
type Kind string

const (
	KindServer     Kind = "server"
	KindPlayerdata Kind = "playerdata"
)

// Config is everything the scheduler needs from the server's settings.
type Config struct {
	Server string // display name
	Root   string // server directory

	ServerOn            bool
	ServerInterval      time.Duration
	ServerRetention     int // <= 0 keeps everything
	ServerDest          string
	PlayerdataOn        bool
	PlayerdataInterval  time.Duration
	PlayerdataRetention int
	PlayerdataDest      string
}

// FromSettings reads the backup settings of one server.
func FromSettings(name string, e *settings.Editor) Config {
	i := e.Info()
	return Config{
		Server:              name,
		Root:                e.Dir(),
		ServerOn:            i.ServerBackupsOn,
		ServerInterval:      time.Duration(i.ServerBackupsDelay) * time.Minute,
		ServerRetention:     i.RollingServerBackups,
		ServerDest:          e.Resolve(i.ServerBackupsPath),
		PlayerdataOn:        i.PlayerdataBackupsOn,
		PlayerdataInterval:  time.Duration(i.PlayerdataBackupsDelay) * time.Minute,
		PlayerdataRetention: i.RollingPlayerdataBackups,
		PlayerdataDest:      e.Resolve(i.PlayerdataBackupsPath),
	}
}
