// Package family names the server distributions mcvisor knows how to run.
package family

import (
	"fmt"
	"strings"
)

// Kind is a server family.
type Kind int

const (
	Unknown Kind = iota
	Vanilla
	VanillaSnapshots
	Spigot
	Forge
	Fabric
	FabricUnstable
)

var names = map[Kind]string{
	Unknown:          "unknown",
	Vanilla:          "vanilla",
	VanillaSnapshots: "vanilla snapshots",
	Spigot:           "spigot",
	Forge:            "forge",
	Fabric:           "fabric",
	FabricUnstable:   "fabric (unstable)",
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Parse maps a settings "type" value to a Kind. Matching ignores case and
// accepts dashes or underscores for spaces.
func Parse(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", " ", "_", " ").Replace(norm)
	switch norm {
	case "vanilla":
		return Vanilla, nil
	case "vanilla snapshots", "snapshot", "snapshots":
		return VanillaSnapshots, nil
	case "spigot":
		return Spigot, nil
	case "forge":
		return Forge, nil
	case "fabric":
		return Fabric, nil
	case "fabric (unstable)", "fabric unstable":
		return FabricUnstable, nil
	}
	return Unknown, fmt.Errorf("unknown server type %q", s)
}

// All lists every supported kind.
func All() []Kind {
	return []Kind{Vanilla, VanillaSnapshots, Spigot, Forge, Fabric, FabricUnstable}
}
