// Package calibration checks a threshold profile against labelled item pairs.
//
// Thresholds are empirical. A fixture records, for one profile version, pairs
// of items and how they should classify; Run scores each pair in a scratch
// database with the configured weights and thresholds and reports which pairs
// land where they should.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/storydesk/storydesk/internal/corpus"
	"github.com/storydesk/storydesk/internal/resolution"
	"github.com/storydesk/storydesk/internal/scoring"
	"github.com/storydesk/storydesk/internal/storage"
	"github.com/storydesk/storydesk/internal/types"
)

// ErrProfileMismatch is returned when a fixture was calibrated for another profile version
var ErrProfileMismatch = errors.New("calibration fixture does not match profile version")

// Expectation is the label on a pair
type Expectation string

const (
	ExpectNew       Expectation = "new"
	ExpectDuplicate Expectation = "duplicate"
	ExpectAmbiguous Expectation = "ambiguous"
	ExpectNotNew    Expectation = "not_new" // ambiguous or duplicate
)

// IsValid checks if the expectation is known
func (e Expectation) IsValid() bool {
	switch e {
	case ExpectNew, ExpectDuplicate, ExpectAmbiguous, ExpectNotNew:
		return true
	}
	return false
}

// Matches reports whether a classification satisfies the expectation
func (e Expectation) Matches(c resolution.Classification) bool {
	switch e {
	case ExpectNew:
		return c == resolution.AutoNew
	case ExpectDuplicate:
		return c == resolution.AutoDuplicate
	case ExpectAmbiguous:
		return c == resolution.Ambiguous
	case ExpectNotNew:
		return c != resolution.AutoNew
	}
	return false
}

// Document is the text of one fixture item
type Document struct {
	Headline string `yaml:"headline"`
	Summary  string `yaml:"summary"`
	Body     string `yaml:"body"`
}

// Pair is one labelled comparison: candidate scored against a corpus holding anchor
type Pair struct {
	Name      string      `yaml:"name"`
	Anchor    Document    `yaml:"anchor"`
	Candidate Document    `yaml:"candidate"`
	Expect    Expectation `yaml:"expect"`
}

// Fixture is a calibration set for one profile version
type Fixture struct {
	ProfileVersion string     `yaml:"profile_version"`
	Background     []Document `yaml:"background"`
	Pairs          []Pair     `yaml:"pairs"`
}

// Validate checks the fixture is usable
func (f *Fixture) Validate() error {
	if !semver.IsValid(f.ProfileVersion) {
		return fmt.Errorf("profile_version must be a semantic version like v1.0.0 (got %q)", f.ProfileVersion)
	}
	if len(f.Pairs) == 0 {
		return fmt.Errorf("fixture has no pairs")
	}
	for i, p := range f.Pairs {
		if strings.TrimSpace(p.Anchor.Headline) == "" || strings.TrimSpace(p.Candidate.Headline) == "" {
			return fmt.Errorf("pair %d (%s): anchor and candidate need a headline", i, p.Name)
		}
		if !p.Expect.IsValid() {
			return fmt.Errorf("pair %d (%s): invalid expect %q (must be new, duplicate, ambiguous or not_new)", i, p.Name, p.Expect)
		}
	}
	for i, d := range f.Background {
		if strings.TrimSpace(d.Headline) == "" {
			return fmt.Errorf("background document %d has no headline", i)
		}
	}
	return nil
}

// Load reads and validates a YAML fixture
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse calibration fixture %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration fixture %s: %w", path, err)
	}
	return &f, nil
}

// PairResult is how one pair scored
type PairResult struct {
	Name           string
	Expect         Expectation
	Classification resolution.Classification
	Score          *float64
	Passed         bool
}

// Report is the outcome of a calibration run
type Report struct {
	ProfileVersion string
	Results        []PairResult
	Passed         int
	Failed         int
}

// OK reports whether every pair classified as labelled
func (r *Report) OK() bool {
	return r.Failed == 0
}

// String renders one line per pair and a total
func (r *Report) String() string {
	var b strings.Builder
	for _, res := range r.Results {
		mark := "ok  "
		if !res.Passed {
			mark = "FAIL"
		}
		score := "none"
		if res.Score != nil {
			score = fmt.Sprintf("%.2f", *res.Score)
		}
		fmt.Fprintf(&b, "%s %-40s expect=%-9s got=%-14s score=%s\n", mark, res.Name, res.Expect, res.Classification, score)
	}
	fmt.Fprintf(&b, "profile %s: %d passed, %d failed\n", r.ProfileVersion, r.Passed, r.Failed)
	return b.String()
}

var fixtureBase = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Run scores every pair against a scratch database in workDir. Each pair gets
// its own database holding the background documents and the anchor.
func Run(ctx context.Context, fixture *Fixture, cfg resolution.Config, workDir string) (*Report, error) {
	if semver.Compare(fixture.ProfileVersion, cfg.ProfileVersion) != 0 {
		return nil, fmt.Errorf("%w: fixture is %s, profile is %s", ErrProfileMismatch, fixture.ProfileVersion, cfg.ProfileVersion)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	report := &Report{ProfileVersion: cfg.ProfileVersion}
	for i, pair := range fixture.Pairs {
		name := pair.Name
		if name == "" {
			name = fmt.Sprintf("pair-%d", i+1)
		}
		result, err := runPair(ctx, fixture.Background, pair, cfg, filepath.Join(workDir, fmt.Sprintf("pair-%03d.db", i+1)))
		if err != nil {
			return nil, fmt.Errorf("pair %s: %w", name, err)
		}
		result.Name = name
		report.Results = append(report.Results, *result)
		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

func runPair(ctx context.Context, background []Document, pair Pair, cfg resolution.Config, dbPath string) (*PairResult, error) {
	store, err := storage.NewStorage(ctx, &storage.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	index := corpus.New(store.DB())
	writer := resolution.NewWriter(store, index)

	at := fixtureBase
	for _, doc := range append(append([]Document{}, background...), pair.Anchor) {
		item := doc.item(at)
		if err := store.CreateItem(ctx, item); err != nil {
			return nil, err
		}
		if _, err := writer.Apply(ctx, &types.ResolutionChange{ItemID: item.ID, Resolution: types.ResolutionNew}); err != nil {
			return nil, err
		}
		at = at.Add(time.Minute)
	}

	candidate := pair.Candidate.item(at)
	if err := store.CreateItem(ctx, candidate); err != nil {
		return nil, err
	}

	scorer := scoring.NewScorer(index, cfg.Weights, cfg.LookbackWindow, cfg.MaxCandidates)
	candidates, err := scorer.Score(ctx, candidate, time.Time{})
	if err != nil {
		return nil, err
	}

	class, top := cfg.Thresholds().Classify(candidates)
	result := &PairResult{Expect: pair.Expect, Classification: class, Passed: pair.Expect.Matches(class)}
	if top != nil {
		score := top.Score
		result.Score = &score
	}
	return result, nil
}

func (d Document) item(at time.Time) *types.ContentItem {
	return &types.ContentItem{Headline: d.Headline, Summary: d.Summary, Body: d.Body, IngestedAt: at}
}

// Check loads the fixture at path and runs it in a temporary directory.
// It fails on a version mismatch or any mislabelled pair.
func Check(ctx context.Context, path string, cfg resolution.Config) (*Report, error) {
	fixture, err := Load(path)
	if err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp("", "storydesk-calibration-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	report, err := Run(ctx, fixture, cfg, workDir)
	if err != nil {
		return nil, err
	}
	if !report.OK() {
		return report, fmt.Errorf("calibration failed for profile %s: %d of %d pairs misclassified",
			cfg.ProfileVersion, report.Failed, len(report.Results))
	}
	return report, nil
}
