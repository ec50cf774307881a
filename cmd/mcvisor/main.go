package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(command{out: os.Stdout, in: os.Stdin})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot(mc command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(mc, globalFlags),
		createBuildCommand(mc, globalFlags),
		createRunCommand(mc, globalFlags),
		createStartCommand(mc, globalFlags),
		createStopCommand(mc, globalFlags),
		createStatusCommand(mc, globalFlags),
		createOutputCommand(mc, globalFlags),
		createClearOutputCommand(mc, globalFlags),
		createInputCommand(mc, globalFlags),
		createSchedulesCommand(mc, globalFlags),
		createHistoryCommand(mc, globalFlags),
		createLoginCommand(mc, globalFlags),
		createHashPasswordCommand(mc),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "mcvisor",
		Short: "Minecraft server supervisor",
		Long: `mcvisor builds, runs and supervises Minecraft servers: it classifies
their console output, relays console input and takes rolling backups.

Examples:
  mcvisor build --name=survival --type=vanilla --installer=./minecraft_server.jar
  mcvisor run --name=survival        # Run in the foreground
  mcvisor serve                      # Start daemon
  mcvisor status --name=survival     # Query the daemon`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags, timeout time.Duration) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default derived from [server] in the config)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", timeout, "request timeout")
	cmd.Flags().StringVar(&f.APIToken, "api-token", os.Getenv("MCVISOR_API_TOKEN"), "bearer token from 'mcvisor login' (env MCVISOR_API_TOKEN)")
	cmd.Flags().StringVar(&f.APIUser, "api-user", "", "basic auth user")
	cmd.Flags().StringVar(&f.APIPassword, "api-password", os.Getenv("MCVISOR_API_PASSWORD"), "basic auth password (env MCVISOR_API_PASSWORD)")
}

func requireFlags(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}

func createServeCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the mcvisor daemon",
		Long: `Start the daemon that exposes the HTTP API and supervises servers.

Examples:
  mcvisor serve
  mcvisor serve mcvisor.toml
  mcvisor serve --daemonize --pidfile=/run/mcvisor.pid --logfile=/var/log/mcvisor.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			if len(args) > 0 {
				f.ConfigPath = args[0]
			}
			return mc.Serve(*f)
		},
	}
	cmd.Flags().BoolVar(&f.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&f.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func createBuildCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &BuildFlags{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Install a server and perform its first run",
		Long: `Install a server from an installer jar and run it once to generate its files.
The exit status is the build result: 0 success, 1 failure, 2 no free port.

Examples:
  mcvisor build --name=survival --type=vanilla --installer=./server.jar
  mcvisor build --name=modded --type=forge --installer=./forge-installer.jar --remote`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return mc.Build(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name (required)")
	cmd.Flags().StringVar(&f.Type, "type", "", "server type: vanilla, snapshot, spigot, forge, fabric (required)")
	cmd.Flags().StringVar(&f.Installer, "installer", "", "installer or server jar (required)")
	cmd.Flags().BoolVar(&f.Remote, "remote", false, "build through the daemon instead of in this process")
	addAPIFlags(cmd, &f.APIFlags, 30*time.Minute)
	requireFlags(cmd, "name", "type", "installer")
	return cmd
}

func createRunCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a server in the foreground",
		Long: `Run a built server attached to this terminal. Typed lines go to the server
console; Ctrl-C stops the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return mc.Run(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name (required)")
	requireFlags(cmd, "name")
	return cmd
}

func createStartCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &NameFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a server on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return mc.Start(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name (required)")
	addAPIFlags(cmd, &f.APIFlags, 10*time.Second)
	requireFlags(cmd, "name")
	return cmd
}

func createStopCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a server on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return mc.Stop(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name (required)")
	cmd.Flags().DurationVar(&f.Wait, "wait", 0, "time allowed per shutdown step (default from config)")
	addAPIFlags(cmd, &f.APIFlags, 2*time.Minute)
	requireFlags(cmd, "name")
	return cmd
}

func createStatusCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &NameFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Long: `Show the status of one server, or of every server when --name is omitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return mc.Status(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name")
	addAPIFlags(cmd, &f.APIFlags, 10*time.Second)
	return cmd
}

func createOutputCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &OutputFlags{}
	cmd := &cobra.Command{
		Use:   "output",
		Short: "Print buffered server output",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return mc.Output(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name (required)")
	cmd.Flags().BoolVar(&f.Latest, "latest", false, "print only the newest line")
	addAPIFlags(cmd, &f.APIFlags, 10*time.Second)
	requireFlags(cmd, "name")
	return cmd
}

func createClearOutputCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &NameFlags{}
	cmd := &cobra.Command{
		Use:   "clear-output",
		Short: "Discard buffered server output",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return mc.ClearOutput(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name (required)")
	addAPIFlags(cmd, &f.APIFlags, 10*time.Second)
	requireFlags(cmd, "name")
	return cmd
}

func createInputCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &InputFlags{}
	cmd := &cobra.Command{
		Use:   "write-input",
		Short: "Send a line to a server console",
		Long: `Send one line to the console of a running server.

Examples:
  mcvisor write-input --name=survival --text="say backup in 5 minutes"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return mc.Input(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name (required)")
	cmd.Flags().StringVar(&f.Text, "text", "", "line to send (required)")
	addAPIFlags(cmd, &f.APIFlags, 10*time.Second)
	requireFlags(cmd, "name", "text")
	return cmd
}

func createSchedulesCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "List scheduled console commands",
		Long: `List the [[schedule]] entries of the daemon with their next run time.

Example config:
  [[schedule]]
  name = "save"
  server = "survival"
  schedule = "@every 30m"
  command = "save-all"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mc.Schedules(cmd.Context(), *f, g.ConfigPath)
		},
	}
	addAPIFlags(cmd, f, 10*time.Second)
	return cmd
}

func createHistoryCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded lifecycle events of a server",
		Long: `Print builds, starts, exits and backups of a server, newest first.
Needs an sqlite or postgres (or clickhouse) DSN under [history].

Examples:
  mcvisor history --name=survival --limit=20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return mc.History(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "server name (required)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum number of events")
	addAPIFlags(cmd, &f.APIFlags, 10*time.Second)
	requireFlags(cmd, "name")
	return cmd
}

func createLoginCommand(mc command, g *GlobalFlags) *cobra.Command {
	f := &LoginFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an API token from the daemon",
		Long: `Exchange a username and password for a bearer token. Pass it to other
commands with --api-token or MCVISOR_API_TOKEN.

Examples:
  export MCVISOR_API_TOKEN=$(mcvisor login --username=admin --password=secret)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return mc.Login(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Username, "username", "", "user name (required)")
	cmd.Flags().StringVar(&f.Password, "password", "", "password (required)")
	addAPIFlags(cmd, &f.APIFlags, 10*time.Second)
	requireFlags(cmd, "username", "password")
	return cmd
}

func createHashPasswordCommand(mc command) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print the bcrypt hash for a [[server.auth.users]] entry",
		Long: `Print the bcrypt hash of a password. Without --password the first line of
standard input is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mc.HashPassword(password)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password to hash")
	return cmd
}
