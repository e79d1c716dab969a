/*
File: model_types.go
Version: 1.0.0
Description: Shared types, constants and the versioned feature schema for the URL classification engine.
             The schema order is the training-time column order and is shared by the extractor,
             the standardizer and the model loader.
*/

package main

import (
	"errors"
	"time"
)

// --- Feature Schema ---

// FeatureSchema names the column layout below. Bump it whenever the order changes.
const FeatureSchema = "lexical-v1"

const (
	featURLLength = iota
	featHostLength
	featPathLength
	featQueryLength
	featCountDigits
	featCountHyphen
	featCountAt
	featCountPercent
	featCountQuestion
	featCountEquals
	featCountSlash
	featNumDots
	featHasIP
	featEntropy
	featTLDLen
	featSubdomainLen
	featDomainLen
	featUsesHTTPS

	FeatureCount
)

var featureNames = [FeatureCount]string{
	"url_length", "host_length", "path_length", "query_length",
	"count_digits", "count_hyphen", "count_at", "count_percent",
	"count_question", "count_equals", "count_slash", "num_dots",
	"has_ip", "entropy", "tld_len", "subdomain_len", "domain_len",
	"uses_https",
}

// FeatureVector is one row in schema order.
type FeatureVector [FeatureCount]float64

// --- Constants ---

const (
	defaultThreshold = 0.5
	brandScore       = 0.99
	whitelistScore   = 0.0
	brandMaxDistance = 2
	brandLengthSlack = 3

	// maxTreeDepth bounds nesting in artifact trees. LightGBM exports rarely exceed 64.
	maxTreeDepth = 512
)

// --- Errors ---

var (
	ErrMalformedURL   = errors.New("malformed url")
	ErrModelLoad      = errors.New("model load failed")
	ErrMalformedModel = errors.New("malformed model artifact")
)

// --- Model ---

// ScalingParams are the per-feature standardization parameters.
type ScalingParams struct {
	Mean  FeatureVector
	Scale FeatureVector
}

// treeNode is one arena slot. Children always sit at higher indices than their
// parent, so descent from slot 0 terminates.
type treeNode struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	left      int32
	right     int32
}

// Tree is a single decision tree rooted at nodes[0].
type Tree struct {
	nodes []treeNode
}

// Ensemble is an ordered list of boosted trees whose leaf values are summed.
type Ensemble struct {
	trees []Tree
}

// ModelArtifact is immutable once published through an EngineState.
type ModelArtifact struct {
	Scaling  ScalingParams
	Ensemble Ensemble
	Schema   string
	Digest   string
	Source   string
	LoadedAt time.Time
}

// --- Engine State ---

type EnginePhase int

const (
	EngineUnloaded EnginePhase = iota
	EngineLoaded
	EngineLoadFailed
)

func (p EnginePhase) String() string {
	switch p {
	case EngineUnloaded:
		return "unloaded"
	case EngineLoaded:
		return "loaded"
	case EngineLoadFailed:
		return "load_failed"
	default:
		return "unknown"
	}
}

// EngineState is swapped atomically as a whole; readers never see a partial update.
type EngineState struct {
	Phase      EnginePhase
	Model      *ModelArtifact
	Err        error
	generation uint64
}

// --- Results ---

// VerdictSource records which stage produced a score.
type VerdictSource string

const (
	SourceBrand     VerdictSource = "brand"
	SourceWhitelist VerdictSource = "whitelist"
	SourceModel     VerdictSource = "model"
	SourceNone      VerdictSource = "none"
)

// ClassificationResult is the value handed to the host shell and persisted per session.
type ClassificationResult struct {
	URL       string    `json:"url"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// verdict is the timestamp-free part of a result, safe to cache per URL.
type verdict struct {
	score      float64
	reason     string
	source     VerdictSource
	generation uint64
}
