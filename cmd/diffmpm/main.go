package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/san-kum/diffmpm/internal/config"
	"github.com/san-kum/diffmpm/internal/scene"
	"github.com/san-kum/diffmpm/internal/storage"
)

var (
	dataDir    string
	configFile string
	logJSON    bool
	verbose    bool

	preset   string
	steps    int
	dt       float64
	seed     int64
	backend  string
	workers  int
	boundary string

	// optimizer
	iterations     int
	learningRate   float64
	method         string
	controlIDs     []string
	target         []float64
	visualizeEvery int

	// output
	interactive bool
	every       int
	theme       string
	viewName    string
	noSave      bool

	eps      float64
	checkIDs []string
	axes     []string

	outDir   string
	svgEvery int
	width    int
	height   int
)

var registry = scene.NewRegistry()

func main() {
	rootCmd := &cobra.Command{
		Use:           "diffmpm",
		Short:         "differentiable MPM soft-body simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(newLogger())
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultDataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run [scene]",
		Short: "simulate a scene once and save the trajectory",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runScene,
	}
	sceneFlags(runCmd)
	outputFlags(runCmd)

	optimizeCmd := &cobra.Command{
		Use:   "optimize [scene]",
		Short: "optimize a scene's controls by gradient descent through the simulation",
		Args:  cobra.MaximumNArgs(1),
		RunE:  optimizeScene,
	}
	sceneFlags(optimizeCmd)
	outputFlags(optimizeCmd)
	optimizeCmd.Flags().IntVar(&iterations, "iterations", config.DefaultIterations, "optimizer iterations")
	optimizeCmd.Flags().Float64Var(&learningRate, "lr", 0, "learning rate (descent)")
	optimizeCmd.Flags().StringVar(&method, "method", config.DefaultMethod, fmt.Sprintf("optimizer %v", config.Methods()))
	optimizeCmd.Flags().StringSliceVar(&controlIDs, "controls", nil, "control ids to optimize (default all)")
	optimizeCmd.Flags().Float64SliceVar(&target, "target", nil, "goal position x,y,z")
	optimizeCmd.Flags().IntVar(&visualizeEvery, "visualize-every", config.DefaultVisualizeEvery, "draw the final frame every n iterations (0 disables)")

	gradcheckCmd := &cobra.Command{
		Use:   "gradcheck [scene]",
		Short: "compare tape gradients with central differences",
		Args:  cobra.MaximumNArgs(1),
		RunE:  gradcheckScene,
	}
	sceneFlags(gradcheckCmd)
	gradcheckCmd.Flags().Float64Var(&eps, "eps", 1e-4, "finite difference step")
	gradcheckCmd.Flags().StringSliceVar(&checkIDs, "controls", []string{"swirl"}, "control ids to check")

	sweepCmd := &cobra.Command{
		Use:   "sweep [scene]",
		Short: "evaluate the loss on a grid of control values",
		Args:  cobra.MaximumNArgs(1),
		RunE:  sweepScene,
	}
	sceneFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&axes, "axis", nil, "sweep axis id:index:lo:hi:n (repeatable)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a run's center of mass and loss history",
		Args:  cobra.MaximumNArgs(1),
		RunE:  plotRun,
	}

	viewCmd := &cobra.Command{
		Use:   "view [run_id]",
		Short: "play back a saved run in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE:  viewRun,
	}
	viewCmd.Flags().StringVar(&theme, "theme", "", "color theme")
	viewCmd.Flags().StringVar(&viewName, "view", "front", "front, top or 3d")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [run_id]",
		Short: "export frames and center-of-mass tracks as SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().StringVar(&outDir, "out", "", "output directory (default: the run directory)")
	exportSVGCmd.Flags().IntVar(&svgEvery, "every", 10, "write every n-th frame")
	exportSVGCmd.Flags().IntVar(&width, "width", 480, "image width")
	exportSVGCmd.Flags().IntVar(&height, "height", 480, "image height")
	exportSVGCmd.Flags().StringVar(&viewName, "view", "front", "front, top or 3d")

	scenesCmd := &cobra.Command{
		Use:   "scenes",
		Short: "list available scenes",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range registry.List() {
				desc, _ := registry.Describe(name)
				fmt.Printf("  %-10s %s\n", name, desc)
			}
			return nil
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [scene]",
		Short: "list available presets for a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for scene: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [scene] [path]",
		Short: "write a scene's configuration to a yaml file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := baseConfig(args[0])
			if err != nil {
				return err
			}
			path := args[0] + ".yaml"
			if len(args) == 2 {
				path = args[1]
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&preset, "preset", "", "start from a preset")

	rootCmd.AddCommand(runCmd, optimizeCmd, gradcheckCmd, sweepCmd, listCmd, plotCmd, viewCmd, exportJSONCmd, exportSVGCmd, scenesCmd, presetsCmd, initCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func sceneFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().IntVar(&steps, "steps", 0, "simulation steps")
	cmd.Flags().Float64Var(&dt, "dt", 0, "timestep")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed for particle sampling")
	cmd.Flags().StringVar(&backend, "backend", "", "compute backend (cpu, serial)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker count (0 = all cores)")
	cmd.Flags().StringVar(&boundary, "boundary", "", "boundary policy override (slip, sticky, reflect, open)")
}

func outputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "play the final trajectory in the terminal")
	cmd.Flags().IntVar(&every, "every", 0, "print every n-th frame (0 prints only the last)")
	cmd.Flags().StringVar(&theme, "theme", "", "color theme")
	cmd.Flags().StringVar(&viewName, "view", "front", "front, top or 3d")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not save the run")
}

func openStore() (*storage.Store, error) {
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return nil, err
	}
	return st, nil
}
