package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every subcommand
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	JSON       bool
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	stackrCommand := &command{global: globalFlags, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createInitCommand(stackrCommand),
		createProjectCommand(stackrCommand),
		createStartCommand(stackrCommand),
		createStopCommand(stackrCommand),
		createStatusCommand(stackrCommand),
		createServiceCommand(stackrCommand),
		createVersionsCommand(stackrCommand),
		createEventsCommand(stackrCommand),
		createReconcileCommand(stackrCommand),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "stackr",
		Short: "Local web development stack manager",
		Long: `Stackr runs local PHP projects, a shared database and a database
admin tool, each on its own port, from one daemon.

Examples:
  stackr serve                         # start the daemon
  stackr project add ~/www/blog --domain blog.test
  stackr start <project-id>
  stackr start svc:database
  stackr status`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default derived from config, e.g. http://127.0.0.1:7070/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "print JSON instead of tables")
	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the stackr daemon",
		Long: `Start the daemon that supervises projects and services and serves the API.

Examples:
  stackr serve
  stackr serve ~/.stackr/stackr.toml
  stackr serve --daemonize --pidfile ~/.stackr/stackr.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), *serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write daemon PID to file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func createInitCommand(c *command) *cobra.Command {
	initFlags := &InitFlags{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter stackr.toml",
		Long: `Write a starter configuration. Profiles: minimal, domains (proxy and
hosts file), observability (metrics and event history) and full.

Examples:
  stackr init
  stackr init --profile domains
  stackr init --profile full --output ./stackr.toml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Init(*initFlags)
		},
	}
	cmd.Flags().StringVar(&initFlags.Profile, "profile", "minimal", "config profile")
	cmd.Flags().StringVar(&initFlags.Output, "output", "", "output path (default: <home>/stackr.toml)")
	cmd.Flags().StringVar(&initFlags.Home, "home", "", "home directory written into the config")
	cmd.Flags().BoolVar(&initFlags.Force, "force", false, "overwrite an existing file")
	return cmd
}

func createProjectCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage registered projects",
	}
	addFlags := &AddFlags{}
	add := &cobra.Command{
		Use:   "add <path>",
		Short: "Import a project folder",
		Long: `Import a folder as a project. The kind is detected from the folder
layout unless --kind is given; the port defaults to the next free one.

Examples:
  stackr project add ~/www/shop
  stackr project add ~/www/api --kind symfony --port 8010
  stackr project add ~/www/blog --kind wordpress --domain blog.test --version php-8.2.10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.AddProject(cmd.Context(), args[0], *addFlags)
		},
	}
	add.Flags().StringVar(&addFlags.Name, "name", "", "display name (default: folder name)")
	add.Flags().StringVar(&addFlags.Kind, "kind", "", "standard, artisan (laravel), front-controller (symfony) or cms (wordpress)")
	add.Flags().StringVar(&addFlags.Domain, "domain", "", "local domain (empty serves on localhost only)")
	add.Flags().StringVar(&addFlags.Version, "version", "", "runtime version name (default: global)")
	add.Flags().IntVar(&addFlags.Port, "port", 0, "listen port (default: next free)")

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List projects with their status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.ListProjects(cmd.Context())
		},
	}
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ShowProject(cmd.Context(), args[0])
		},
	}
	remove := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Forget a project; files stay on disk",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.RemoveProject(cmd.Context(), args[0])
		},
	}
	relocate := &cobra.Command{
		Use:   "relocate <id> <path>",
		Short: "Point a project at a moved folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Relocate(cmd.Context(), args[0], args[1])
		},
	}
	port := &cobra.Command{
		Use:   "port <id> <port>",
		Short: "Change the listen port",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.SetPort(cmd.Context(), args[0], args[1])
		},
	}
	version := &cobra.Command{
		Use:   "version <id> [version]",
		Short: "Pin a runtime version; omit to follow the global one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.SetVersion(cmd.Context(), args[0], optionalArg(args, 1))
		},
	}
	domain := &cobra.Command{
		Use:   "domain <id> [domain]",
		Short: "Set the local domain; omit to serve on localhost only",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.SetDomain(cmd.Context(), args[0], optionalArg(args, 1))
		},
	}
	cmd.AddCommand(add, list, show, remove, relocate, port, version, domain)
	return cmd
}

func createStartCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start a project or service",
		Long: `Start a project by id, or a global service by its svc: id.

Examples:
  stackr start 3f9a2c41d7be
  stackr start svc:database`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), args[0])
		},
	}
}

func createStopCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a project or service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), args[0])
		},
	}
}

func createStatusCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show status of one id, or of everything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), optionalArg(args, 0))
		},
	}
}

func createServiceCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "service",
		Aliases: []string{"svc"},
		Short:   "Manage the global database and admin services",
	}
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List services with their status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.ListServices(cmd.Context())
		},
	}
	start := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), serviceID(args[0]))
		},
	}
	stop := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), serviceID(args[0]))
		},
	}
	cmd.AddCommand(list, start, stop)
	return cmd
}

func createVersionsCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Inspect and switch installed runtime versions",
	}
	list := &cobra.Command{
		Use:     "list [runtime]",
		Aliases: []string{"ls"},
		Short:   "List installed versions",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ListVersions(cmd.Context(), optionalArg(args, 0))
		},
	}
	use := &cobra.Command{
		Use:   "use <name>",
		Short: "Make a version the global one for its runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.UseVersion(cmd.Context(), args[0])
		},
	}
	cmd.AddCommand(list, use)
	return cmd
}

func createEventsCommand(c *command) *cobra.Command {
	eventsFlags := &EventsFlags{}
	cmd := &cobra.Command{
		Use:     "events",
		Aliases: []string{"watch"},
		Short:   "Stream status transitions until interrupted",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Events(cmd.Context(), *eventsFlags)
		},
	}
	cmd.Flags().IntVar(&eventsFlags.Count, "count", 0, "exit after this many events (0 streams forever)")
	return cmd
}

func createReconcileCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:    "reconcile",
		Short:  "Ask the daemon to re-check running processes",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Reconcile(cmd.Context())
		},
	}
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
