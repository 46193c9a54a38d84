package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ftl/multirx/config"
	"github.com/ftl/multirx/scope"
)

var (
	version   string = "develop"
	gitCommit string = "-"
	buildTime string = "-"
)

var rootFlags = struct {
	pprof        bool
	debug        bool
	config       string
	control      string
	scope        bool
	scopeAddress string
}{}

var rootCmd = &cobra.Command{
	Use:   "multirx",
	Short: "multirx - receive several channels at once from one wideband IQ stream",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&rootFlags.pprof, "pprof", false, "enable pprof")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&rootFlags.config, "config", "", "the configuration file (default: "+config.DefaultFilename+" if it exists)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.control, "control", "", "listening address for the control console, e.g. localhost:7300 (default: no control console)")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.scope, "scope", false, "enable the scope server for insights into the inner workings")
	rootCmd.PersistentFlags().StringVar(&rootFlags.scopeAddress, "scope-address", "", "listening address for the scope server (default: render.scope_address of the configuration)")

	rootCmd.PersistentFlags().MarkHidden("pprof")
}

// environment is shared by all commands.
type environment struct {
	cfg   *config.Config
	scope *scope.Server
}

func runWithCtx(f func(ctx context.Context, env environment, cmd *cobra.Command, args []string)) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if !rootFlags.debug {
			log.SetOutput(&nopWriter{})
		}

		log.Printf("multirx Version %s", formatVersion())

		if rootFlags.pprof {
			go func() {
				log.Printf("starting pprof on http://localhost:6060/debug/pprof")
				log.Println(http.ListenAndServe("localhost:6060", nil))
			}()
		}

		cfg, err := config.Load(rootFlags.config)
		if err != nil {
			log.SetOutput(os.Stderr)
			log.Fatal(err)
		}
		if rootFlags.scopeAddress != "" {
			cfg.Render.ScopeAddress = rootFlags.scopeAddress
		}
		env := environment{cfg: cfg}

		if rootFlags.scope || usesBackend(cfg, config.ScopeBackend) {
			env.scope = scope.NewServer(cfg.Render.ScopeAddress)
			err := env.scope.Start()
			if err != nil {
				log.Printf("cannot start scope server: %v", err)
				env.scope = nil
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		go handleCancelation(signals, cancel)

		f(ctx, env, cmd, args)

		if env.scope != nil {
			env.scope.Stop()
		}
	}
}

func usesBackend(cfg *config.Config, backend string) bool {
	for _, b := range cfg.Render.Backends {
		if b == backend {
			return true
		}
	}
	return false
}

func formatVersion() string {
	if gitCommit == "-" && buildTime == "-" {
		return version
	}
	return fmt.Sprintf("%s_%s_%s", version, gitCommit, buildTime)
}

func handleCancelation(signals <-chan os.Signal, cancel context.CancelFunc) {
	count := 0
	for range signals {
		count++
		if count == 1 {
			cancel()
		} else {
			log.Fatal("hard shutdown")
		}
	}
}

type nopWriter struct{}

func (w *nopWriter) Write(p []byte) (n int, err error) { return len(p), nil }
