package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snapqa/snaplat/internal/config"
	"github.com/snapqa/snaplat/internal/harness"
	"github.com/snapqa/snaplat/internal/logging"
	"github.com/snapqa/snaplat/internal/provider"
	"github.com/snapqa/snaplat/internal/report"
	"github.com/snapqa/snaplat/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run [subvolume] [snapshot]",
	Short: "Run the stress test against a volume",
	Long: `Run the stress test: start the worker pool, drive snapshot or sync
cycles until the runtime bound elapses or an interrupt arrives, then
print the merged latency report.

Flags override config file values; positional arguments override
both. Examples:

  snaplat run /mnt/subvol snap0 --threads 4 --runtime 60
  snaplat run /mnt/subvol --ops chmod --runtime 10 --plot
  snaplat run --config run.yaml`,
	Args:         cobra.MaximumNArgs(2),
	SilenceUsage: true,
	RunE:         runHarness,
}

func init() {
	registerRunFlags(runCmd)
}

func registerRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "YAML/JSON run configuration file")
	cmd.Flags().Int("threads", 1, "worker thread count")
	cmd.Flags().StringSlice("ops", []string{"chmod", "snapshot"}, "enabled operations (chmod|create|snapshot|sync)")
	cmd.Flags().Uint("runtime", 0, "total runtime in seconds (0 = run until interrupted)")
	cmd.Flags().Uint("delay", config.DefaultDelaySeconds, "delay in seconds between cycles")
	cmd.Flags().Uint("hold", config.DefaultHoldSeconds, "hold in seconds between snapshot commit and destroy")
	cmd.Flags().Bool("plot", false, "plot-friendly bucket output")
	cmd.Flags().Bool("json", false, "JSON report output")
	cmd.Flags().String("report", "", "write the report to a file instead of stdout")
	cmd.Flags().String("provider", config.ProviderBtrfs, "snapshot provider (btrfs|script)")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	cmd.Flags().String("log-level", "info", "log level (debug|info|warn|error)")
	cmd.Flags().String("log-format", "console", "log format (console|json)")
}

func runHarness(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	set, _ := cfg.OpSet() // validated above

	hcfg := harness.Config{
		Dir:      cfg.Volume,
		Workers:  cfg.Threads,
		Snapshot: set.Snapshot,
		Sync:     set.Sync,
		Runtime:  cfg.Runtime(),
		Delay:    cfg.Delay(),
		Hold:     cfg.Hold(),
	}
	switch {
	case set.Chmod:
		hcfg.Op = harness.OpChmod
	case set.Create:
		hcfg.Op = harness.OpCreate
	default:
		hcfg.Op = harness.OpNone
		hcfg.Workers = 0
	}

	// World init: the chmod workers need a target file inside the
	// volume before any of them start.
	if hcfg.Op == harness.OpChmod {
		target, err := createTarget(cfg.Volume)
		if err != nil {
			return fmt.Errorf("initializing target file: %w", err)
		}
		hcfg.Target = target
		logger.Info("created chmod target", zap.String("path", target))
	}

	prov, err := buildProvider(cfg, set)
	if err != nil {
		return err
	}

	var rec harness.Recorder = harness.NopRecorder{}
	if cfg.MetricsAddr != "" {
		m := telemetry.New()
		m.Serve(cfg.MetricsAddr, logger)
		defer m.Shutdown()
		rec = m
	}

	ctl, err := harness.NewController(hcfg, prov, rec, logger)
	if err != nil {
		return err
	}

	// Operator interrupts request a cooperative stop; the cycle in
	// flight completes before the controller exits its loop.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		s, ok := <-sigCh
		if !ok {
			return
		}
		logger.Info("stop requested", zap.String("signal", s.String()))
		ctl.Stop()
	}()

	res, runErr := ctl.Run(context.Background())
	if runErr != nil {
		// Already logged by the controller; the report below still
		// covers everything recorded before the abort.
		logger.Warn("run aborted", zap.Error(runErr))
	}

	return writeReport(cmd, cfg, res)
}

// buildConfig assembles the run configuration: defaults, then config
// file, then flag overrides, then positional arguments.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	f := cmd.Flags()
	if f.Changed("threads") {
		cfg.Threads, _ = f.GetInt("threads")
	}
	if f.Changed("ops") {
		cfg.Ops, _ = f.GetStringSlice("ops")
	}
	if f.Changed("runtime") {
		cfg.RuntimeSeconds, _ = f.GetUint("runtime")
	}
	if f.Changed("delay") {
		cfg.DelaySeconds, _ = f.GetUint("delay")
	}
	if f.Changed("hold") {
		cfg.HoldSeconds, _ = f.GetUint("hold")
	}
	if f.Changed("provider") {
		cfg.Provider, _ = f.GetString("provider")
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = f.GetString("metrics-addr")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.LogFormat, _ = f.GetString("log-format")
	}
	if plot, _ := f.GetBool("plot"); plot {
		cfg.Output = config.OutputPlot
	}
	if jsonOut, _ := f.GetBool("json"); jsonOut {
		cfg.Output = config.OutputJSON
	}

	if len(args) > 0 {
		cfg.Volume = args[0]
	}
	if len(args) > 1 {
		cfg.Snapshot = args[1]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func buildProvider(cfg *config.Config, set config.OpSet) (provider.Provider, error) {
	if !set.Snapshot && !set.Sync {
		return nil, nil
	}
	switch cfg.Provider {
	case config.ProviderScript:
		return provider.NewScript(cfg.Volume, cfg.Snapshot, provider.ScriptCommands{
			Create:  cfg.Script.Create,
			Wait:    cfg.Script.Wait,
			Destroy: cfg.Script.Destroy,
			Sync:    cfg.Script.Sync,
		}), nil
	default:
		p, err := provider.NewBtrfs(cfg.Volume, cfg.Snapshot)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func createTarget(volume string) (string, error) {
	target := filepath.Join(volume, "snaplat-target-"+uuid.NewString())
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o777)
	if err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	// The open mode is subject to the umask; the workers expect a
	// fully-open file to flip bits on.
	if err := os.Chmod(target, 0o777); err != nil {
		return "", err
	}
	return target, nil
}

func writeReport(cmd *cobra.Command, cfg *config.Config, res *harness.Result) error {
	out := cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("report"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating report file: %w", err)
		}
		defer f.Close()
		out = f
	}

	summary := report.Aggregate(res)
	switch cfg.Output {
	case config.OutputPlot:
		summary.RenderPlot(out)
	case config.OutputJSON:
		if err := summary.RenderJSON(out); err != nil {
			return err
		}
	default:
		summary.RenderVerbose(out)
	}
	return nil
}
