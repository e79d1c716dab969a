/*
File: model_loader.go
Version: 1.0.0
Description: Decodes and validates the model artifact exported by the trainer (scaler parameters plus a
             LightGBM-style tree dump) and flattens every tree into an arena.
             Any structural problem rejects the artifact as a whole.
*/

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"
)

type artifactNode struct {
	LeafValue    *float64      `json:"leaf_value"`
	SplitFeature *int          `json:"split_feature"`
	Threshold    *float64      `json:"threshold"`
	DecisionType string        `json:"decision_type"`
	LeftChild    *artifactNode `json:"left_child"`
	RightChild   *artifactNode `json:"right_child"`
}

type artifactTree struct {
	TreeStructure *artifactNode `json:"tree_structure"`
}

type artifactFile struct {
	ScalerMean   []float64 `json:"scaler_mean"`
	ScalerScale  []float64 `json:"scaler_scale"`
	FeatureNames []string  `json:"feature_names"`
	Model        struct {
		MaxFeatureIdx *int           `json:"max_feature_idx"`
		TreeInfo      []artifactTree `json:"tree_info"`
	} `json:"model"`
}

// ReadModelFile reads and parses an artifact from disk.
func ReadModelFile(path string) (*ModelArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	return ParseModelArtifact(data, path)
}

// ParseModelArtifact decodes artifact bytes. Decoding problems wrap ErrModelLoad,
// structural problems wrap ErrMalformedModel.
func ParseModelArtifact(data []byte, source string) (*ModelArtifact, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty artifact", ErrModelLoad)
	}

	var file artifactFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrModelLoad, err)
	}

	if len(file.FeatureNames) > 0 {
		if len(file.FeatureNames) != FeatureCount {
			return nil, fmt.Errorf("%w: artifact declares %d features, schema %s has %d",
				ErrMalformedModel, len(file.FeatureNames), FeatureSchema, FeatureCount)
		}
		for i, name := range file.FeatureNames {
			if name != featureNames[i] {
				return nil, fmt.Errorf("%w: feature %d is %q, schema expects %q",
					ErrMalformedModel, i, name, featureNames[i])
			}
		}
	}

	if idx := file.Model.MaxFeatureIdx; idx != nil && *idx != FeatureCount-1 {
		return nil, fmt.Errorf("%w: max_feature_idx %d does not match %d features",
			ErrMalformedModel, *idx, FeatureCount)
	}

	scaling, err := buildScaling(file.ScalerMean, file.ScalerScale)
	if err != nil {
		return nil, err
	}

	if len(file.Model.TreeInfo) == 0 {
		return nil, fmt.Errorf("%w: model has no trees", ErrMalformedModel)
	}

	trees := make([]Tree, 0, len(file.Model.TreeInfo))
	for i, info := range file.Model.TreeInfo {
		b := treeBuilder{tree: i}
		if _, err := b.add(info.TreeStructure, 0); err != nil {
			return nil, err
		}
		tree := Tree{nodes: b.nodes}
		if err := tree.validate(); err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrMalformedModel, i, err)
		}
		trees = append(trees, tree)
	}

	sum := sha256.Sum256(data)
	return &ModelArtifact{
		Scaling:  scaling,
		Ensemble: Ensemble{trees: trees},
		Schema:   FeatureSchema,
		Digest:   hex.EncodeToString(sum[:]),
		Source:   source,
		LoadedAt: time.Now(),
	}, nil
}

func buildScaling(mean, scale []float64) (ScalingParams, error) {
	var p ScalingParams
	if len(mean) != FeatureCount || len(scale) != FeatureCount {
		return p, fmt.Errorf("%w: scaler has %d means and %d scales, schema %s needs %d",
			ErrMalformedModel, len(mean), len(scale), FeatureSchema, FeatureCount)
	}
	for i := 0; i < FeatureCount; i++ {
		if !isFinite(mean[i]) || !isFinite(scale[i]) {
			return p, fmt.Errorf("%w: non-finite scaler value for %s", ErrMalformedModel, featureNames[i])
		}
		p.Mean[i] = mean[i]
		p.Scale[i] = scale[i]
	}
	return p, nil
}

type treeBuilder struct {
	tree  int
	nodes []treeNode
}

// add appends n and its subtree in pre-order and returns the slot of n.
func (b *treeBuilder) add(n *artifactNode, depth int) (int32, error) {
	if n == nil {
		return -1, fmt.Errorf("%w: tree %d: missing node at depth %d", ErrMalformedModel, b.tree, depth)
	}
	if depth > maxTreeDepth {
		return -1, fmt.Errorf("%w: tree %d: deeper than %d", ErrMalformedModel, b.tree, maxTreeDepth)
	}

	idx := int32(len(b.nodes))

	if n.LeafValue != nil {
		if !isFinite(*n.LeafValue) {
			return -1, fmt.Errorf("%w: tree %d: non-finite leaf value", ErrMalformedModel, b.tree)
		}
		b.nodes = append(b.nodes, treeNode{leaf: true, value: *n.LeafValue})
		return idx, nil
	}

	switch {
	case n.SplitFeature == nil || n.Threshold == nil:
		return -1, fmt.Errorf("%w: tree %d: node %d has neither leaf_value nor split fields", ErrMalformedModel, b.tree, idx)
	case *n.SplitFeature < 0 || *n.SplitFeature >= FeatureCount:
		return -1, fmt.Errorf("%w: tree %d: split_feature %d out of range", ErrMalformedModel, b.tree, *n.SplitFeature)
	case math.IsNaN(*n.Threshold):
		return -1, fmt.Errorf("%w: tree %d: NaN threshold", ErrMalformedModel, b.tree)
	case n.DecisionType != "" && n.DecisionType != "<=":
		return -1, fmt.Errorf("%w: tree %d: unsupported decision_type %q", ErrMalformedModel, b.tree, n.DecisionType)
	case n.LeftChild == nil || n.RightChild == nil:
		return -1, fmt.Errorf("%w: tree %d: split node %d is missing a child", ErrMalformedModel, b.tree, idx)
	}

	b.nodes = append(b.nodes, treeNode{feature: *n.SplitFeature, threshold: *n.Threshold})

	left, err := b.add(n.LeftChild, depth+1)
	if err != nil {
		return -1, err
	}
	right, err := b.add(n.RightChild, depth+1)
	if err != nil {
		return -1, err
	}
	b.nodes[idx].left = left
	b.nodes[idx].right = right
	return idx, nil
}

// validate checks the arena invariant: every split points forward to existing slots.
func (t *Tree) validate() error {
	if len(t.nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	n := int32(len(t.nodes))
	for i, node := range t.nodes {
		if node.leaf {
			continue
		}
		self := int32(i)
		if node.left <= self || node.left >= n || node.right <= self || node.right >= n {
			return fmt.Errorf("node %d has invalid children (%d, %d)", i, node.left, node.right)
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
