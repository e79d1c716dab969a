/*
File: batch.go
Version: 1.0.0
Description: One-shot classification of URLs from the command line or stdin, one line per URL.
*/

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const batchRule = "======================================================================"

// runBatch classifies urls (or, when empty, newline separated URLs read from in)
// and writes one verdict line each. Returns the number of suspicious URLs.
func runBatch(e *Engine, urls []string, in io.Reader, out io.Writer) (int, error) {
	if len(urls) == 0 && in != nil {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			urls = append(urls, line)
		}
		if err := scanner.Err(); err != nil {
			return 0, fmt.Errorf("reading urls: %w", err)
		}
	}

	st := e.State()
	fmt.Fprintln(out, batchRule)
	fmt.Fprintf(out, "Classifying %d URLs (Model: %s, Threshold: %.2f)\n", len(urls), st.Phase, e.Threshold())
	fmt.Fprintln(out, batchRule)

	flagged := 0
	for _, u := range urls {
		c, ok := e.Classify(u)
		fmt.Fprintln(out, formatBatchLine(u, c, ok))
		if ok && c.Suspicious {
			flagged++
		}
	}

	fmt.Fprintln(out, batchRule)
	return flagged, nil
}

func formatBatchLine(rawURL string, c Classification, ok bool) string {
	if !ok {
		return fmt.Sprintf("SKIPPED   | Score:   n/a  | %s", rawURL)
	}

	label := "BENIGN   "
	if c.Suspicious {
		label = "PHISHING "
	}
	line := fmt.Sprintf("%s | Score: %.4f | %s", label, c.Score, c.URL)
	if c.Reason != "" {
		line += " (" + c.Reason + ")"
	}
	return line
}
