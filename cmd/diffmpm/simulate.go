package main

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/diffmpm/internal/config"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/optim"
	"github.com/san-kum/diffmpm/internal/storage"
	"github.com/san-kum/diffmpm/internal/trajectory"
	"github.com/san-kum/diffmpm/internal/viz"
)

func runScene(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	su, err := buildScene(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("running %s simulation...\n", su.scene.Name)
	start := time.Now()
	memo, runErr := su.sim.Run(cmd.Context(), su.init, su.scene.Steps, nil, su.scene.Loss, su.scene.Options())
	if runErr != nil && !errors.Is(runErr, mpm.ErrDiverged) {
		return runErr
	}
	fmt.Printf("completed in %v\n", time.Since(start))
	printMemo(memo)

	if !noSave {
		runID, err := saveRun(su, memo, nil)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}
	if err := show(su, memo, su.scene.Name); err != nil {
		return err
	}
	return runErr
}

func optimizeScene(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	su, err := buildScene(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	ids := cfg.Optimizer.Controls
	if len(ids) == 0 {
		ids = su.scene.IDs()
	}
	obj, err := optim.NewSimObjective(su.sim, su.init, su.scene.Steps, su.scene.Loss, ids, su.scene.Options())
	if err != nil {
		return err
	}
	x0, err := obj.Start()
	if err != nil {
		return err
	}

	view, err := parseView(viewName)
	if err != nil {
		return err
	}
	extent := su.scene.Params.Extent()
	ve := cfg.Output.VisualizeEvery
	onStep := func(st optim.Step) error {
		fmt.Printf("iter %3d  loss %.6g  |grad| %.4g\n", st.Iteration, st.Loss, st.GradNorm)
		if ve > 0 && st.Iteration%ve == 0 && obj.Last != nil {
			snap := viz.Snapshot{Out: os.Stdout, Options: viz.PlayerOptions{
				Title:  fmt.Sprintf("%s iter %d", su.scene.Name, st.Iteration),
				Extent: extent,
				View:   view,
			}}
			return snap.Render(obj.Last.Positions())
		}
		return nil
	}

	fmt.Printf("optimizing %v on %s with %s (%d iterations)\n", ids, su.scene.Name, cfg.Optimizer.Method, cfg.Optimizer.Iterations)
	start := time.Now()
	var res *optim.Result
	if cfg.Optimizer.Method == config.DefaultMethod {
		d := optim.Descent{
			LearningRate: cfg.Optimizer.LearningRate,
			Iterations:   cfg.Optimizer.Iterations,
			Tolerance:    cfg.Optimizer.Tolerance,
		}
		res, err = d.Run(ctx, obj, x0, onStep)
	} else {
		res, err = optim.Minimize(ctx, obj, x0, cfg.Optimizer.Method, cfg.Optimizer.Iterations, onStep)
	}
	if err != nil {
		return err
	}
	fmt.Printf("optimized in %v (converged: %v)\n", time.Since(start), res.Converged)

	best, err := obj.Values(res.X)
	if err != nil {
		return err
	}
	if err := su.sim.Controls().SetAll(best); err != nil {
		return err
	}
	memo, runErr := su.sim.Run(ctx, su.init, su.scene.Steps, nil, su.scene.Loss, su.scene.Options())
	if runErr != nil && !errors.Is(runErr, mpm.ErrDiverged) {
		return runErr
	}
	printMemo(memo)

	losses := make([]float64, len(res.History))
	for i, st := range res.History {
		losses[i] = st.Loss
	}
	if plot := viz.PlotLoss(losses, 70, 10); plot != "" {
		fmt.Println()
		fmt.Println(plot)
	}

	if !noSave {
		runID, err := saveRun(su, memo, res.History)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}
	if err := show(su, memo, su.scene.Name+" optimized"); err != nil {
		return err
	}
	return runErr
}

func gradcheckScene(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	su, err := buildScene(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("checking gradients of %s for %v...\n", su.scene.Loss, checkIDs)
	report, err := su.sim.GradCheck(cmd.Context(), su.init, su.scene.Steps, su.scene.Loss, checkIDs, eps, su.scene.Options())
	if err != nil {
		return err
	}

	fmt.Printf("loss: %.8g\n\n", report.Loss)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTROL\tINDEX\tANALYTIC\tNUMERIC\tREL ERR")
	for _, e := range report.Entries {
		fmt.Fprintf(w, "%s\t%d\t%.6e\t%.6e\t%.2e\n", e.ID, e.Index, e.Analytic, e.Numeric, e.RelErr)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nmax relative error: %.2e\n", report.MaxRel)
	return nil
}

func sweepScene(cmd *cobra.Command, args []string) error {
	if len(axes) == 0 {
		return fmt.Errorf("at least one --axis is required")
	}
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	su, err := buildScene(cfg)
	if err != nil {
		return err
	}

	parsed := make([]optim.Axis, len(axes))
	for i, a := range axes {
		if parsed[i], err = parseAxis(a); err != nil {
			return err
		}
	}
	sw := optim.NewSweep(parsed...)
	if err := sw.Validate(su.sim.Controls()); err != nil {
		return err
	}

	fmt.Printf("sweeping %d points...\n", len(sw.Points()))
	start := time.Now()
	points, best, err := sw.Run(cmd.Context(), su.sim, su.init, su.scene.Steps, su.scene.Loss, su.scene.Options())
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n\n", time.Since(start))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := make([]string, 0, len(parsed)+1)
	for _, a := range parsed {
		header = append(header, fmt.Sprintf("%s[%d]", a.ID, a.Index))
	}
	fmt.Fprintln(w, strings.Join(append(header, "LOSS"), "\t"))
	for _, p := range points {
		cols := make([]string, 0, len(p.Values)+1)
		for _, v := range p.Values {
			cols = append(cols, strconv.FormatFloat(v, 'g', 6, 64))
		}
		loss := strconv.FormatFloat(p.Loss, 'g', 6, 64)
		if p.Diverged {
			loss = "diverged"
		}
		fmt.Fprintln(w, strings.Join(append(cols, loss), "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nbest: %v loss %.6g\n", best.Values, best.Loss)
	return nil
}

// parseAxis reads id:index:lo:hi:n.
func parseAxis(s string) (optim.Axis, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 5 {
		return optim.Axis{}, fmt.Errorf("axis %q: want id:index:lo:hi:n", s)
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return optim.Axis{}, fmt.Errorf("axis %q: index: %w", s, err)
	}
	lo, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return optim.Axis{}, fmt.Errorf("axis %q: lo: %w", s, err)
	}
	hi, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return optim.Axis{}, fmt.Errorf("axis %q: hi: %w", s, err)
	}
	n, err := strconv.Atoi(parts[4])
	if err != nil || n < 1 {
		return optim.Axis{}, fmt.Errorf("axis %q: n must be a positive integer", s)
	}
	return optim.Axis{ID: parts[0], Index: index, Values: optim.Linspace(lo, hi, n)}, nil
}

func printMemo(memo *trajectory.Memo) {
	fmt.Printf("steps: %d\n", memo.Steps())
	if memo.Diverged {
		fmt.Printf("diverged at step %d\n", memo.DivergedAt)
	} else if memo.Signature != "" {
		fmt.Printf("loss: %.8g\n", memo.Loss)
	}
	if len(memo.Metrics) == 0 {
		return
	}
	fmt.Println("\nmetrics:")
	for _, name := range slices.Sorted(maps.Keys(memo.Metrics)) {
		fmt.Printf("  %s: %.6f\n", name, memo.Metrics[name])
	}
}

func saveRun(su *setup, memo *trajectory.Memo, history []optim.Step) (string, error) {
	st, err := openStore()
	if err != nil {
		return "", err
	}
	runID, err := st.Save(storage.Run{
		Scene:  su.scene.Name,
		Seed:   su.cfg.Scene.Seed,
		Params: su.scene.Params,
		Groups: su.scene.Groups,
		Memo:   memo,
		Config: su.cfg,
	})
	if err != nil {
		return "", err
	}
	if len(history) > 0 {
		if err := st.SaveHistory(runID, history); err != nil {
			return runID, err
		}
	}
	return runID, nil
}

func show(su *setup, memo *trajectory.Memo, title string) error {
	note := ""
	if memo.Diverged {
		note = fmt.Sprintf("diverged at step %d", memo.DivergedAt)
	}
	r, err := renderer(title, note, su.scene.Params.Extent())
	if err != nil {
		return err
	}
	su.sim.SetRenderer(r)
	return su.sim.Visualize(memo)
}
