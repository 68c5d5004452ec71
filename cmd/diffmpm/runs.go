package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/export"
	"github.com/san-kum/diffmpm/internal/storage"
	"github.com/san-kum/diffmpm/internal/trajectory"
	"github.com/san-kum/diffmpm/internal/viz"
)

// loadRun resolves a run id argument, defaulting to the latest run.
func loadRun(st *storage.Store, args []string) (*storage.RunMetadata, error) {
	if len(args) > 0 {
		return st.Load(args[0])
	}
	return st.Latest()
}

// runExtent is the box size the run was simulated in.
func runExtent(st *storage.Store, runID string) float64 {
	cfg, err := st.LoadConfig(runID)
	if err != nil {
		return 1
	}
	return cfg.Params().Extent()
}

// groupTracks computes the center-of-mass track of every group.
func groupTracks(frames [][]r3.Vec, groups []trajectory.Range) ([][]r3.Vec, error) {
	if len(groups) == 0 && len(frames) > 0 {
		groups = []trajectory.Range{trajectory.All(len(frames[0]))}
	}
	tracks := make([][]r3.Vec, len(groups))
	for g, r := range groups {
		tracks[g] = make([]r3.Vec, len(frames))
		for i, f := range frames {
			c, err := trajectory.Mean(f, r)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", i, err)
			}
			tracks[g][i] = c
		}
	}
	return tracks, nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENE\tTIME\tSTEPS\tPARTICLES\tDT\tLOSS")

	for _, run := range runs {
		loss := "-"
		switch {
		case run.Diverged:
			loss = fmt.Sprintf("diverged@%d", run.DivergedAt)
		case run.Loss != nil:
			loss = fmt.Sprintf("%.6g", *run.Loss)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.4g\t%s\n",
			run.ID,
			run.Scene,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Steps,
			run.Particles,
			run.Dt,
			loss,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := loadRun(st, args)
	if err != nil {
		return err
	}

	frames, err := st.LoadFrames(meta.ID)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("scene: %s\n", meta.Scene)
	fmt.Printf("frames: %d\n\n", len(frames))

	tracks, err := groupTracks(frames, meta.Groups)
	if err != nil {
		return err
	}
	for g, track := range tracks {
		fmt.Println(viz.PlotTrack(track, 70, 10, fmt.Sprintf("group %d center of mass", g)))
		fmt.Println()
	}

	history, err := st.LoadHistory(meta.ID)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		losses := make([]float64, len(history))
		for i, h := range history {
			losses[i] = h.Loss
		}
		fmt.Println(viz.PlotLoss(losses, 70, 10))
	}
	return nil
}

func viewRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := loadRun(st, args)
	if err != nil {
		return err
	}
	frames, err := st.LoadFrames(meta.ID)
	if err != nil {
		return err
	}
	view, err := parseView(viewName)
	if err != nil {
		return err
	}

	note := ""
	if meta.Diverged {
		note = fmt.Sprintf("diverged at step %d", meta.DivergedAt)
	}
	r := viz.Terminal{Options: viz.PlayerOptions{
		Title:  meta.ID,
		Extent: runExtent(st, meta.ID),
		Theme:  theme,
		View:   view,
		Note:   note,
	}}
	return r.Render(frames)
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	return st.ExportJSON(args[0], os.Stdout)
}

func exportSVG(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	frames, err := st.LoadFrames(meta.ID)
	if err != nil {
		return err
	}
	view, err := parseView(viewName)
	if err != nil {
		return err
	}

	dir := outDir
	if dir == "" {
		dir = filepath.Join(st.Dir(meta.ID), "svg")
	}
	paths, err := export.WriteFrames(dir, frames, svgEvery, export.SVGOptions{
		Width:  width,
		Height: height,
		View:   view,
		Extent: runExtent(st, meta.ID),
		Groups: meta.Groups,
	})
	if err != nil {
		return err
	}

	tracks, err := groupTracks(frames, meta.Groups)
	if err != nil {
		return err
	}
	var goal *r3.Vec
	if g, ok := meta.Feeds["goal"]; ok {
		goal = &r3.Vec{X: g[0], Y: g[1], Z: g[2]}
	}
	trackPath := filepath.Join(dir, "com.svg")
	if svg := export.TrackSVG(tracks, goal, width, height, view); svg != "" {
		if err := os.WriteFile(trackPath, []byte(svg), 0644); err != nil {
			return err
		}
		paths = append(paths, trackPath)
	}

	fmt.Printf("wrote %d files to %s\n", len(paths), dir)
	return nil
}
