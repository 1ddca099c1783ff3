// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package report assembles static findings and writes them as JSON or
// styled text.
//
// Report assembly is pure aggregation: protected candidates are dropped,
// one finding is built per remaining candidate that has at least one
// unprotected write, and the result is sorted by severity, then access
// count descending, then name. The ordering is total, so two runs over
// unchanged source produce byte-identical output.
package report

import (
	"sort"

	"github.com/raceaudit/raceaudit/internal/analysis/access"
	"github.com/raceaudit/raceaudit/internal/analysis/catalog"
	"github.com/raceaudit/raceaudit/internal/analysis/classify"
)

// AccessLocation is one recorded touch in the finding's location list.
type AccessLocation struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Kind string `json:"kind"`
}

// Finding is one reported candidate with its classification.
type Finding struct {
	StateName          string           `json:"stateName"`
	DeclKind           string           `json:"declKind"`
	InferredShape      string           `json:"inferredShape"`
	Severity           access.Severity  `json:"severity"`
	Description        string           `json:"description"`
	Suggestion         string           `json:"suggestion"`
	RecognizedIdioms   []string         `json:"recognizedIdioms"`
	FalsePositiveHints []string         `json:"falsePositiveIndicators"`
	AccessLocations    []AccessLocation `json:"accessLocations"`

	// AccessCount is the total number of recorded accesses, used for
	// ordering.
	AccessCount int `json:"accessCount"`
}

// Build filters and sorts the classified catalog into findings.
func Build(cat *catalog.Catalog, verdicts []classify.Verdict) []Finding {
	findings := make([]Finding, 0, len(cat.Candidates))
	for i, cand := range cat.Candidates {
		v := verdicts[i]
		if v.Protected {
			continue
		}
		if !hasUnprotectedWrite(cand.Accesses) {
			continue
		}
		findings = append(findings, newFinding(cand, v))
	}
	sortFindings(findings)
	return findings
}

func hasUnprotectedWrite(accs []access.Access) bool {
	for _, a := range accs {
		if !a.InLockContext && a.Kind.IsWrite() {
			return true
		}
	}
	return false
}

func newFinding(cand *catalog.Candidate, v classify.Verdict) Finding {
	locs := make([]AccessLocation, 0, len(cand.Accesses))
	for _, a := range cand.Accesses {
		locs = append(locs, AccessLocation{
			File: a.Location.File,
			Line: a.Location.Line,
			Kind: a.Kind.String(),
		})
	}
	return Finding{
		StateName:          cand.QualifiedName,
		DeclKind:           cand.DeclKind.String(),
		InferredShape:      cand.Shape.String(),
		Severity:           v.Severity,
		Description:        v.Description,
		Suggestion:         v.Suggestion,
		RecognizedIdioms:   emptyNotNil(v.Idioms),
		FalsePositiveHints: emptyNotNil(v.FalsePositiveHints),
		AccessLocations:    locs,
		AccessCount:        len(cand.Accesses),
	}
}

// emptyNotNil keeps JSON output stable: empty lists serialize as [] and
// never as null.
func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// sortFindings orders by severity descending, access count descending,
// then state name for a total, deterministic order.
func sortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.AccessCount != b.AccessCount {
			return a.AccessCount > b.AccessCount
		}
		return a.StateName < b.StateName
	})
}
