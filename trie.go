/*
File: trie.go
Version: 2.0.0
Description: A generic domain suffix trie keyed by DNS labels (com -> example -> www).
             Used for label-boundary whitelist matching, where "example.com" covers
             "a.example.com" but not "badexample.com".
*/

package main

import (
	"strings"
)

// TrieNode represents a node in the domain trie.
type TrieNode[T any] struct {
	Children map[string]*TrieNode[T]
	Value    T
	HasValue bool
}

// DomainTrie is a generic trie for domain suffixes.
type DomainTrie[T any] struct {
	Root *TrieNode[T]
	size int
}

func NewDomainTrie[T any]() *DomainTrie[T] {
	return &DomainTrie[T]{Root: &TrieNode[T]{}}
}

// Insert stores value under domain. Leading "*." or "." are accepted and ignored,
// since every entry already covers its subdomains.
func (t *DomainTrie[T]) Insert(domain string, value T) {
	domain = strings.TrimPrefix(strings.TrimPrefix(domain, "*"), ".")
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return
	}

	node := t.Root
	end := len(domain)
	for end > 0 {
		start := strings.LastIndexByte(domain[:end], '.')
		part := domain[start+1 : end]
		end = start
		if part == "" {
			continue
		}

		if node.Children == nil {
			node.Children = make(map[string]*TrieNode[T])
		}
		child, ok := node.Children[part]
		if !ok {
			child = &TrieNode[T]{}
			node.Children[part] = child
		}
		node = child
		if start < 0 {
			break
		}
	}

	if !node.HasValue {
		t.size++
	}
	node.Value = value
	node.HasValue = true
}

// MatchSuffix returns the value of the shortest stored domain that equals host or
// is a parent of host on a label boundary.
func (t *DomainTrie[T]) MatchSuffix(host string) (T, bool) {
	node := t.Root

	// Iterate backwards using string indices to avoid splitting/allocation
	end := len(host)
	for end > 0 {
		start := strings.LastIndexByte(host[:end], '.')
		part := host[start+1 : end]

		next, ok := node.Children[part]
		if !ok {
			break
		}
		node = next
		if node.HasValue {
			return node.Value, true
		}
		if start < 0 {
			break
		}
		end = start
	}

	var zero T
	return zero, false
}

// Len returns the number of stored domains.
func (t *DomainTrie[T]) Len() int {
	return t.size
}
