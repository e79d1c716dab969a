package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunBatch_Arguments(t *testing.T) {
	e := NewEngine(EngineConfig{}, nil)
	var out bytes.Buffer

	flagged, err := runBatch(e, []string{
		"https://www.google.com",
		"http://paypa1-secure-login.com/verify",
		"not a url",
	}, nil, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flagged != 1 {
		t.Fatalf("expected 1 flagged URL, got %d", flagged)
	}

	text := out.String()
	for _, want := range []string{
		"BENIGN    | Score: 0.0000 | https://www.google.com",
		"PHISHING  | Score: 0.9900 | http://paypa1-secure-login.com/verify (Suspected paypal impersonation)",
		"SKIPPED   | Score:   n/a  | not a url",
		"Classifying 3 URLs (Model: unloaded, Threshold: 0.50)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, text)
		}
	}
}

func TestRunBatch_Stdin(t *testing.T) {
	e := NewEngine(EngineConfig{}, nil)
	var out bytes.Buffer

	in := strings.NewReader("# list\nhttps://www.youtube.com\n\n  http://192.168.0.1  \n")
	flagged, err := runBatch(e, nil, in, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flagged != 0 {
		t.Fatalf("expected nothing flagged, got %d", flagged)
	}
	if !strings.Contains(out.String(), "Classifying 2 URLs") {
		t.Fatalf("expected 2 URLs read from input, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "| http://192.168.0.1") {
		t.Fatalf("expected trimmed URL in output, got:\n%s", out.String())
	}
}
