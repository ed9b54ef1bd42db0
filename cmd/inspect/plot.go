package main

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/simrecord/internal/container"
	"github.com/banshee-data/simrecord/internal/geometry"
	"github.com/banshee-data/simrecord/internal/recorder"
	"github.com/banshee-data/simrecord/internal/security"
)

// forceSeries reads the force feedback of one file as time against force
// magnitude.
func forceSeries(path string) (plotter.XYs, error) {
	f, err := container.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stamps, err := f.Read(recorder.GroupForceFeedback, "time_stamp")
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wrench, err := f.Read(recorder.GroupForceFeedback, "wrench")
	if err != nil {
		return nil, err
	}
	t, err := stamps.Float64s()
	if err != nil {
		return nil, err
	}
	values, err := wrench.Float64s()
	if err != nil {
		return nil, err
	}
	if len(values) != len(t)*geometry.WrenchLen {
		return nil, fmt.Errorf("%s: %d stamps but %d wrench values", path, len(t), len(values))
	}

	pts := make(plotter.XYs, len(t))
	for i := range t {
		force := values[i*geometry.WrenchLen : i*geometry.WrenchLen+3]
		pts[i] = plotter.XY{X: t[i], Y: floats.Norm(force, 2)}
	}
	return pts, nil
}

// plotForceFeedback writes a PNG of force magnitude over the session, with
// time relative to the first sample, and returns the number of samples.
func plotForceFeedback(paths []string, out string) (int, error) {
	if err := security.ValidateOutputPath(out, ".png"); err != nil {
		return 0, err
	}
	var pts plotter.XYs
	for _, path := range paths {
		series, err := forceSeries(path)
		if err != nil {
			return 0, err
		}
		pts = append(pts, series...)
	}
	if len(pts) == 0 {
		return 0, errors.New("no force feedback recorded")
	}

	t0 := math.Inf(1)
	for _, p := range pts {
		t0 = math.Min(t0, p.X)
	}
	for i := range pts {
		pts[i].X -= t0
	}

	p := plot.New()
	p.Title.Text = "Drill force feedback"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "|F| (N)"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return 0, err
	}
	line.Width = vg.Points(1)
	p.Add(line)

	if err := p.Save(14*vg.Inch, 6*vg.Inch, out); err != nil {
		return 0, fmt.Errorf("save force plot: %w", err)
	}
	return len(pts), nil
}
