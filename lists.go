/*
File: lists.go
Version: 4.0.0
Description: Loads whitelist and brand lists from local files and http(s) URLs, concurrently.
             Accepted line formats: plain domains, Tranco-style "rank,domain" CSV, HOSTS-style
             "IP name..." lines and CIDR prefixes (kept as trusted networks). '#' starts a comment.
             Downloaded lists are revalidated with ETag and cached on disk (gob) so a restart
             without network access still has the last good copy.
*/

package main

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const maxListBytes = 32 << 20

type urlMeta struct {
	ETag         string
	LastModified string
}

// ruleList holds the parsed content of one or more sources.
type ruleList struct {
	Names    []string
	Networks []string
	Source   string
	MTime    time.Time
	Meta     urlMeta
}

type listLoader struct {
	client   *http.Client
	cacheDir string
}

func newListLoader(cfg ListsConfig) *listLoader {
	timeout := cfg.parsedTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	l := &listLoader{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cfg.CacheDir,
	}
	if l.cacheDir != "" {
		if err := os.MkdirAll(l.cacheDir, 0755); err != nil {
			LogWarn("[LISTS] Failed to create cache dir %s: %v", l.cacheDir, err)
			l.cacheDir = ""
		}
	}
	return l
}

func isListURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Load reads every source concurrently and merges them in the order given.
func (l *listLoader) Load(sources []string) (*ruleList, error) {
	merged := &ruleList{}
	if len(sources) == 0 {
		return merged, nil
	}

	results := make([]*ruleList, len(sources))
	errs := make([]error, len(sources))

	maxConcurrency := runtime.NumCPU() * 2
	if maxConcurrency < 4 {
		maxConcurrency = 4
	}
	sem := make(chan struct{}, maxConcurrency)

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if isListURL(src) {
				results[i], errs[i] = l.loadURL(src)
			} else {
				results[i], errs[i] = l.loadFile(src)
			}
		}(i, src)
	}
	wg.Wait()

	for i, res := range results {
		if errs[i] != nil {
			return nil, errs[i]
		}
		merged.Names = append(merged.Names, res.Names...)
		merged.Networks = append(merged.Networks, res.Networks...)
	}
	return merged, nil
}

func (l *listLoader) loadFile(path string) (*ruleList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open list %s: %w", path, err)
	}
	defer f.Close()

	list := &ruleList{Source: path}
	if info, err := f.Stat(); err == nil {
		list.MTime = info.ModTime()
	}
	format, err := parseListReader(f, list)
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s: %w", path, err)
	}

	LogInfo("[LISTS] Parsed file %s (%s): %d names, %d networks", path, format, len(list.Names), len(list.Networks))
	return list, nil
}

func (l *listLoader) loadURL(url string) (*ruleList, error) {
	cached := l.loadFromDiskCache(url)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid list url %s: %w", url, err)
	}
	if cached != nil {
		if cached.Meta.ETag != "" {
			req.Header.Set("If-None-Match", cached.Meta.ETag)
		}
		if cached.Meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.Meta.LastModified)
		}
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return l.fallback(url, cached, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		LogInfo("[LISTS] %s not modified, using cached copy (%d names)", url, len(cached.Names))
		return cached, nil
	case resp.StatusCode != http.StatusOK:
		return l.fallback(url, cached, fmt.Errorf("unexpected status %s", resp.Status))
	}

	list := &ruleList{
		Source: url,
		MTime:  time.Now(),
		Meta:   urlMeta{ETag: resp.Header.Get("ETag"), LastModified: resp.Header.Get("Last-Modified")},
	}
	format, err := parseListReader(io.LimitReader(resp.Body, maxListBytes), list)
	if err != nil {
		return l.fallback(url, cached, err)
	}

	LogInfo("[LISTS] Parsed URL %s (%s): %d names, %d networks", url, format, len(list.Names), len(list.Networks))
	if len(list.Names)+len(list.Networks) > 0 {
		l.saveToDiskCache(url, list)
	}
	return list, nil
}

func (l *listLoader) fallback(url string, cached *ruleList, err error) (*ruleList, error) {
	if cached != nil {
		LogWarn("[LISTS] Failed to fetch %s (%v), using cached copy from %s", url, err, cached.MTime.Format(time.RFC3339))
		return cached, nil
	}
	return nil, fmt.Errorf("failed to fetch list %s: %w", url, err)
}

// --- Disk Cache Logic ---

func (l *listLoader) cacheFilename(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(l.cacheDir, "list_"+hex.EncodeToString(hash[:])+".bin")
}

func (l *listLoader) loadFromDiskCache(key string) *ruleList {
	if l.cacheDir == "" {
		return nil
	}
	filename := l.cacheFilename(key)
	f, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer f.Close()

	var list ruleList
	if err := gob.NewDecoder(f).Decode(&list); err != nil {
		os.Remove(filename)
		return nil
	}
	return &list
}

func (l *listLoader) saveToDiskCache(key string, list *ruleList) {
	if l.cacheDir == "" {
		return
	}
	tmpFile, err := os.CreateTemp(l.cacheDir, "tmp_list_*")
	if err != nil {
		return
	}

	if err := gob.NewEncoder(tmpFile).Encode(list); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return
	}
	tmpFile.Close()
	os.Rename(tmpFile.Name(), l.cacheFilename(key))
}

// --- Parsing Logic ---

// parseListReader appends names and networks found in r to list and reports the dominant format.
func parseListReader(r io.Reader, list *ruleList) (string, error) {
	var csvCount, hostsCount, domainsCount int

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	addName := func(b []byte) {
		name := strings.ToLower(strings.Trim(string(bytes.Trim(b, "\"' \t")), "."))
		if name == "" {
			return
		}
		if _, err := netip.ParseAddr(name); err == nil {
			return
		}
		list.Names = append(list.Names, name)
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if idx := bytes.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		// Tranco / CSV: "rank,domain[,...]"
		if fields := bytes.Split(line, []byte{','}); len(fields) >= 2 {
			csvCount++
			addName(fields[1])
			continue
		}

		fields := bytes.Fields(line)
		first := string(fields[0])

		if strings.IndexByte(first, '/') >= 0 {
			if prefix, err := netip.ParsePrefix(first); err == nil {
				list.Networks = append(list.Networks, prefix.Masked().String())
				continue
			}
		}

		if _, err := netip.ParseAddr(first); err == nil {
			hostsCount++
			for _, f := range fields[1:] {
				addName(f)
			}
			continue
		}

		domainsCount++
		addName(fields[0])
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	format := "UNKNOWN"
	switch {
	case csvCount >= hostsCount && csvCount >= domainsCount && csvCount > 0:
		format = "CSV"
	case hostsCount >= domainsCount && hostsCount > 0:
		format = "HOSTS"
	case domainsCount > 0:
		format = "DOMAINS"
	}
	return format, nil
}
