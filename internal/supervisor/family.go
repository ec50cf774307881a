package supervisor

import (
	"context"
	"strings"

	"github.com/loykin/mcvisor/internal/classify"
	"github.com/loykin/mcvisor/internal/family"
)

// Builder installs a server and performs its first run.
type Builder interface {
	// Install produces the runnable artifact from installer.
	Install(ctx context.Context, s *Session, installer string) (string, error)
	// FirstRun boots the artifact once so the server writes its default files.
	FirstRun(ctx context.Context, s *Session, artifact string) ResultCode
}

// Launch is how a persistent run is started: Program with Args verbatim,
// or Line as a shell launch line when Program is empty.
type Launch struct {
	Program string
	Args    []string
	Line    string
}

func (l Launch) String() string {
	if l.Program == "" {
		return l.Line
	}
	return strings.Join(append([]string{l.Program}, l.Args...), " ")
}

// Starter builds the launch of a persistent run.
type Starter interface {
	Launch(s *Session) (Launch, error)
}

// Behaviour is everything that differs between server families.
type Behaviour struct {
	Builder Builder
	Starter Starter
	// Classifier reads install and first-run output. Persistent runs always
	// use the generic classifier.
	Classifier func(classify.Options) classify.Classifier
}

func generic(o classify.Options) classify.Classifier { return classify.NewGeneric(o) }
func simple(o classify.Options) classify.Classifier  { return classify.NewSimple(o) }

const (
	firstRunArgs  = "-Xmx1024M -Xms1024M -jar %SERVER_JAR% nogui"
	defaultLaunch = "%RAM_ARGUMENTS% -jar %SERVER_JAR%"
	spigotLaunch  = "-DIReallyKnowWhatIAmDoingISwear=true %RAM_ARGUMENTS% -jar %SERVER_JAR%"
)

var behaviours = map[family.Kind]Behaviour{
	family.Unknown:          {Builder: directBuilder{}, Starter: templateStarter{defaultLaunch}, Classifier: generic},
	family.Vanilla:          {Builder: directBuilder{}, Starter: templateStarter{defaultLaunch}, Classifier: generic},
	family.VanillaSnapshots: {Builder: directBuilder{}, Starter: templateStarter{defaultLaunch}, Classifier: generic},
	family.Spigot:           {Builder: directBuilder{}, Starter: templateStarter{spigotLaunch}, Classifier: generic},
	family.Fabric:           {Builder: directBuilder{}, Starter: templateStarter{defaultLaunch}, Classifier: generic},
	family.FabricUnstable:   {Builder: directBuilder{}, Starter: templateStarter{defaultLaunch}, Classifier: generic},
	family.Forge:            {Builder: forgeBuilder{}, Starter: forgeStarter{}, Classifier: simple},
}

// BehaviourFor returns the behaviour of k, falling back to Unknown.
func BehaviourFor(k family.Kind) Behaviour {
	if b, ok := behaviours[k]; ok {
		return b
	}
	return behaviours[family.Unknown]
}
