package stats

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CurvePoint aggregates one iteration across every series long enough to
// reach it.
type CurvePoint struct {
	Iteration int     `json:"iteration"`
	Series    int     `json:"series"`
	Mean      float64 `json:"mean"`
	Std       float64 `json:"std"`
	Max       float64 `json:"max"`
}

// BuildCurve averages series of unequal length iteration by iteration.
// Iterations are 1-based; a series that stopped early drops out of later
// points.
func BuildCurve(series [][]float64) []CurvePoint {
	longest := 0
	for _, s := range series {
		longest = max(longest, len(s))
	}
	points := make([]CurvePoint, 0, longest)
	values := make([]float64, 0, len(series))
	for i := 0; i < longest; i++ {
		values = values[:0]
		for _, s := range series {
			if i < len(s) {
				values = append(values, s[i])
			}
		}
		mean, std := stat.PopMeanStdDev(values, nil)
		points = append(points, CurvePoint{
			Iteration: i + 1,
			Series:    len(values),
			Mean:      mean,
			Std:       std,
			Max:       floats.Max(values),
		})
	}
	return points
}

// QualityCurves holds the per-iteration gradient norm and effectiveness
// curves of a quality run.
type QualityCurves struct {
	GradientNorm  []CurvePoint `json:"gradient_norm"`
	Effectiveness []CurvePoint `json:"effectiveness"`
}

func buildQualityCurves(results []QualityResult) QualityCurves {
	norms := make([][]float64, len(results))
	scores := make([][]float64, len(results))
	for i, r := range results {
		norms[i] = r.Analysis.GradientNorms
		scores[i] = r.Analysis.EffectivenessScores
	}
	return QualityCurves{GradientNorm: BuildCurve(norms), Effectiveness: BuildCurve(scores)}
}

// writeCurveFile writes gnuplot-style blocks: a comment header, then one
// "iteration value [std]" row per point.
func writeCurveFile(path string, curves QualityCurves) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := fmt.Fprintln(file, "#Avg Gradient Norm Vs Iteration"); err != nil {
		return err
	}
	if err := writeCurve(file, curves.GradientNorm, true); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(file, "\n\n#Max Gradient Norm Vs Iteration"); err != nil {
		return err
	}
	if err := writeCurve(file, curves.GradientNorm, false); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(file, "\n\n#Avg Effectiveness Vs Iteration"); err != nil {
		return err
	}
	return writeCurve(file, curves.Effectiveness, true)
}

func writeCurve(file *os.File, points []CurvePoint, withStd bool) error {
	for _, p := range points {
		var err error
		if withStd {
			_, err = fmt.Fprintf(file, "%d %g %g\n", p.Iteration, p.Mean, p.Std)
		} else {
			_, err = fmt.Fprintf(file, "%d %g\n", p.Iteration, p.Max)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
