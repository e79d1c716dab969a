/*
File: model_scorer.go
Version: 1.0.0
Description: Feature standardization and boosted tree ensemble inference.
*/

package main

import "math"

// Standardize centers and scales x. A zero scale, or any result that is not finite,
// yields 0 for that feature so trees only ever compare finite values.
func Standardize(x FeatureVector, p *ScalingParams) FeatureVector {
	var out FeatureVector
	for i := range x {
		s := p.Scale[i]
		if s == 0 {
			continue
		}
		v := (x[i] - p.Mean[i]) / s
		if isFinite(v) {
			out[i] = v
		}
	}
	return out
}

func (t *Tree) leafValue(x *FeatureVector) float64 {
	i := int32(0)
	for {
		n := &t.nodes[i]
		if n.leaf {
			return n.value
		}
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

// Margin sums the leaf reached in every tree.
func (e *Ensemble) Margin(x *FeatureVector) float64 {
	var m float64
	for i := range e.trees {
		m += e.trees[i].leafValue(x)
	}
	return m
}

// Score is the logistic transform of the margin, kept strictly inside (0, 1).
func (e *Ensemble) Score(x *FeatureVector) float64 {
	return sigmoid(e.Margin(x))
}

// Len returns the number of trees.
func (e *Ensemble) Len() int {
	return len(e.trees)
}

func sigmoid(m float64) float64 {
	if math.IsNaN(m) {
		return 0.5
	}
	p := 1.0 / (1.0 + math.Exp(-m))
	if p <= 0 {
		return math.SmallestNonzeroFloat64
	}
	if p >= 1 {
		return math.Nextafter(1, 0)
	}
	return p
}

// Predict runs standardization and the ensemble for an already extracted vector.
func (m *ModelArtifact) Predict(x FeatureVector) float64 {
	z := Standardize(x, &m.Scaling)
	return m.Ensemble.Score(&z)
}
