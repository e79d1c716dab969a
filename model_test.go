package main

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- artifact builders shared by the tests in this package ---

func leafNode(v float64) map[string]any {
	return map[string]any{"leaf_value": v}
}

func splitNode(feature int, threshold float64, left, right map[string]any) map[string]any {
	return map[string]any{
		"split_feature": feature,
		"threshold":     threshold,
		"decision_type": "<=",
		"left_child":    left,
		"right_child":   right,
	}
}

func unitScaling() (mean, scale []float64) {
	mean = make([]float64, FeatureCount)
	scale = make([]float64, FeatureCount)
	for i := range scale {
		scale[i] = 1
	}
	return mean, scale
}

func artifactJSON(t *testing.T, mean, scale []float64, trees ...map[string]any) []byte {
	t.Helper()
	info := make([]map[string]any, 0, len(trees))
	for _, tree := range trees {
		info = append(info, map[string]any{"tree_structure": tree})
	}
	data, err := json.Marshal(map[string]any{
		"scaler_mean":  mean,
		"scaler_scale": scale,
		"model":        map[string]any{"tree_info": info},
	})
	if err != nil {
		t.Fatalf("marshal artifact: %v", err)
	}
	return data
}

// constantArtifact always predicts sigmoid(margin).
func constantArtifact(t *testing.T, margin float64) []byte {
	mean, scale := unitScaling()
	return artifactJSON(t, mean, scale, leafNode(margin))
}

func writeArtifact(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

// --- loader ---

func TestParseModelArtifact_Valid(t *testing.T) {
	mean, scale := unitScaling()
	data := artifactJSON(t, mean, scale,
		splitNode(featURLLength, 10, leafNode(0.2), leafNode(-0.4)),
		leafNode(0.1),
	)

	m, err := ParseModelArtifact(data, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Ensemble.Len() != 2 {
		t.Fatalf("expected 2 trees, got %d", m.Ensemble.Len())
	}
	if m.Schema != FeatureSchema {
		t.Fatalf("expected schema %s, got %s", FeatureSchema, m.Schema)
	}
	if len(m.Digest) != 64 {
		t.Fatalf("expected hex sha256 digest, got %q", m.Digest)
	}
	if m.Source != "test" {
		t.Fatalf("expected source 'test', got %q", m.Source)
	}

	// Pre-order arena: split at 0, children at 1 and 2.
	nodes := m.Ensemble.trees[0].nodes
	if len(nodes) != 3 || nodes[0].leaf || nodes[0].left != 1 || nodes[0].right != 2 {
		t.Fatalf("unexpected arena layout: %+v", nodes)
	}
}

func TestParseModelArtifact_Rejections(t *testing.T) {
	mean, scale := unitScaling()
	good := leafNode(0.5)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrModelLoad},
		{"not json", []byte("{"), ErrModelLoad},
		{"short scaler", artifactJSON(t, mean[:5], scale, good), ErrMalformedModel},
		{"no trees", artifactJSON(t, mean, scale), ErrMalformedModel},
		{"split out of range", artifactJSON(t, mean, scale,
			splitNode(FeatureCount, 0, leafNode(1), leafNode(2))), ErrMalformedModel},
		{"negative split", artifactJSON(t, mean, scale,
			splitNode(-1, 0, leafNode(1), leafNode(2))), ErrMalformedModel},
		{"missing child", artifactJSON(t, mean, scale,
			map[string]any{"split_feature": 1, "threshold": 0.5, "left_child": leafNode(1)}), ErrMalformedModel},
		{"empty node", artifactJSON(t, mean, scale, map[string]any{}), ErrMalformedModel},
		{"unsupported decision type", artifactJSON(t, mean, scale,
			map[string]any{"split_feature": 1, "threshold": 0.5, "decision_type": "==",
				"left_child": leafNode(1), "right_child": leafNode(2)}), ErrMalformedModel},
		{"null tree", []byte(`{"scaler_mean":` + floats(mean) + `,"scaler_scale":` + floats(scale) +
			`,"model":{"tree_info":[{"tree_structure":null}]}}`), ErrMalformedModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModelArtifact(tt.data, "test")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func floats(v []float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestParseModelArtifact_SchemaChecks(t *testing.T) {
	mean, scale := unitScaling()

	names := make([]string, FeatureCount)
	copy(names, featureNames[:])

	build := func(mutate func(m map[string]any)) []byte {
		m := map[string]any{
			"scaler_mean":   mean,
			"scaler_scale":  scale,
			"feature_names": names,
			"model": map[string]any{
				"max_feature_idx": FeatureCount - 1,
				"tree_info":       []map[string]any{{"tree_structure": leafNode(0.3)}},
			},
		}
		if mutate != nil {
			mutate(m)
		}
		data, _ := json.Marshal(m)
		return data
	}

	if _, err := ParseModelArtifact(build(nil), "ok"); err != nil {
		t.Fatalf("expected matching schema to load, got %v", err)
	}

	swapped := make([]string, FeatureCount)
	copy(swapped, names)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	_, err := ParseModelArtifact(build(func(m map[string]any) { m["feature_names"] = swapped }), "swapped")
	if !errors.Is(err, ErrMalformedModel) {
		t.Fatalf("expected reordered features to be rejected, got %v", err)
	}

	_, err = ParseModelArtifact(build(func(m map[string]any) { m["feature_names"] = names[:FeatureCount-1] }), "short")
	if !errors.Is(err, ErrMalformedModel) {
		t.Fatalf("expected short feature list to be rejected, got %v", err)
	}

	_, err = ParseModelArtifact(build(func(m map[string]any) {
		m["model"].(map[string]any)["max_feature_idx"] = FeatureCount - 2
	}), "idx")
	if !errors.Is(err, ErrMalformedModel) {
		t.Fatalf("expected max_feature_idx mismatch to be rejected, got %v", err)
	}
}

func TestReadModelFile_Missing(t *testing.T) {
	_, err := ReadModelFile(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestReadModelFile_Source(t *testing.T) {
	path := writeArtifact(t, constantArtifact(t, 0))
	m, err := ReadModelFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Source != path {
		t.Fatalf("expected source %s, got %s", path, m.Source)
	}
}

func TestTreeValidate_BackwardChild(t *testing.T) {
	tree := Tree{nodes: []treeNode{
		{feature: 0, threshold: 1, left: 0, right: 1},
		{leaf: true, value: 1},
	}}
	if err := tree.validate(); err == nil {
		t.Fatal("expected self-referencing split to fail validation")
	}

	tree = Tree{nodes: []treeNode{
		{feature: 0, threshold: 1, left: 1, right: 5},
		{leaf: true, value: 1},
	}}
	if err := tree.validate(); err == nil {
		t.Fatal("expected out-of-range child to fail validation")
	}

	if err := (&Tree{}).validate(); err == nil {
		t.Fatal("expected empty tree to fail validation")
	}
}

// --- scorer ---

func TestEnsemble_TwoTreeMargin(t *testing.T) {
	mean, scale := unitScaling()
	data := artifactJSON(t, mean, scale,
		splitNode(featURLLength, 0, leafNode(0.2), leafNode(0.9)),
		leafNode(-0.1),
	)
	m, err := ParseModelArtifact(data, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var x FeatureVector
	x[featURLLength] = -1

	margin := m.Ensemble.Margin(&x)
	if math.Abs(margin-0.1) > 1e-12 {
		t.Fatalf("expected margin 0.1, got %v", margin)
	}

	score := m.Predict(x)
	if math.Abs(score-0.5250) > 1e-4 {
		t.Fatalf("expected score ~0.5250, got %.6f", score)
	}

	e := NewEngine(EngineConfig{}, nil)
	if !e.IsSuspicious(score) {
		t.Fatalf("expected %.4f to be suspicious at threshold %.2f", score, e.Threshold())
	}
}

func TestTree_ThresholdGoesLeft(t *testing.T) {
	mean, scale := unitScaling()
	m, err := ParseModelArtifact(artifactJSON(t, mean, scale,
		splitNode(featHostLength, 3, leafNode(1), leafNode(-1))), "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var x FeatureVector
	x[featHostLength] = 3
	if got := m.Ensemble.Margin(&x); got != 1 {
		t.Fatalf("expected value equal to threshold to go left, got margin %v", got)
	}
	x[featHostLength] = 3.0001
	if got := m.Ensemble.Margin(&x); got != -1 {
		t.Fatalf("expected value above threshold to go right, got margin %v", got)
	}
}

func TestStandardize_ZeroScale(t *testing.T) {
	mean, scale := unitScaling()
	mean[featURLLength] = 10
	scale[featURLLength] = 0
	mean[featHostLength] = 2
	scale[featHostLength] = 4

	p, err := buildScaling(mean, scale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var x FeatureVector
	x[featURLLength] = 42
	x[featHostLength] = 10

	z := Standardize(x, &p)
	for i, v := range z {
		if !isFinite(v) {
			t.Fatalf("feature %s standardized to non-finite %v", featureNames[i], v)
		}
	}
	if z[featURLLength] != 0 {
		t.Fatalf("expected zero-scale feature to standardize to 0, got %v", z[featURLLength])
	}
	if z[featHostLength] != 2 {
		t.Fatalf("expected (10-2)/4 = 2, got %v", z[featHostLength])
	}

	data := artifactJSON(t, mean, scale, splitNode(featURLLength, 0, leafNode(0.3), leafNode(-0.3)))
	m, err := ParseModelArtifact(data, "zero-scale")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	score := m.Predict(x)
	if !(score > 0 && score < 1) {
		t.Fatalf("expected score in (0,1), got %v", score)
	}
}

func TestSigmoid_Bounds(t *testing.T) {
	tests := []struct {
		margin float64
		check  func(float64) bool
	}{
		{0, func(p float64) bool { return p == 0.5 }},
		{1000, func(p float64) bool { return p < 1 && p > 0.99 }},
		{-1000, func(p float64) bool { return p > 0 && p < 0.01 }},
		{math.Inf(1), func(p float64) bool { return p < 1 }},
		{math.Inf(-1), func(p float64) bool { return p > 0 }},
		{math.NaN(), func(p float64) bool { return p == 0.5 }},
	}
	for _, tt := range tests {
		if p := sigmoid(tt.margin); !tt.check(p) {
			t.Fatalf("sigmoid(%v) = %v out of expected range", tt.margin, p)
		}
	}

	// Monotone non-decreasing.
	prev := 0.0
	for m := -20.0; m <= 20; m += 0.5 {
		p := sigmoid(m)
		if p < prev {
			t.Fatalf("sigmoid not monotone at %v: %v < %v", m, p, prev)
		}
		prev = p
	}
}

func randomTree(rng *rand.Rand, depth int) map[string]any {
	if depth == 0 || rng.Intn(3) == 0 {
		v := rng.NormFloat64() * 2
		if rng.Intn(20) == 0 {
			v *= 100
		}
		return leafNode(v)
	}
	return splitNode(rng.Intn(FeatureCount), rng.NormFloat64()*3,
		randomTree(rng, depth-1), randomTree(rng, depth-1))
}

func TestEnsemble_ScoreAlwaysInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	special := []float64{0, math.Inf(1), math.Inf(-1), math.NaN(), 1e300, -1e300}

	for round := 0; round < 200; round++ {
		mean := make([]float64, FeatureCount)
		scale := make([]float64, FeatureCount)
		for i := range mean {
			mean[i] = rng.NormFloat64() * 10
			if rng.Intn(5) > 0 {
				scale[i] = rng.Float64() * 5
			}
		}
		trees := make([]map[string]any, 1+rng.Intn(6))
		for i := range trees {
			trees[i] = randomTree(rng, 4)
		}

		m, err := ParseModelArtifact(artifactJSON(t, mean, scale, trees...), "random")
		if err != nil {
			t.Fatalf("round %d: unexpected error: %v", round, err)
		}

		for j := 0; j < 20; j++ {
			var x FeatureVector
			for i := range x {
				if rng.Intn(10) == 0 {
					x[i] = special[rng.Intn(len(special))]
				} else {
					x[i] = rng.Float64() * 200
				}
			}
			score := m.Predict(x)
			if !(score > 0 && score < 1) {
				t.Fatalf("round %d: score %v outside (0,1) for %v", round, score, x)
			}
			if again := m.Predict(x); again != score {
				t.Fatalf("round %d: expected deterministic score, got %v then %v", round, score, again)
			}
		}
	}
}

func TestFeatureNames_MatchCount(t *testing.T) {
	seen := make(map[string]bool)
	for i, name := range featureNames {
		if name == "" || strings.ContainsAny(name, " -") {
			t.Fatalf("feature %d has invalid name %q", i, name)
		}
		if seen[name] {
			t.Fatalf("duplicate feature name %q", name)
		}
		seen[name] = true
	}
}
