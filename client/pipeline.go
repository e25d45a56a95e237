package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/providers"
	"github.com/phoenix4ge/censor/threshold"
)

// pipelineExecutor handles the analyzer pipeline execution.
type pipelineExecutor struct {
	analyzers map[string]providers.Analyzer
	config    PipelineConfig
}

// newPipelineExecutor creates a new pipeline executor.
func newPipelineExecutor(as []providers.Analyzer, config PipelineConfig) *pipelineExecutor {
	m := make(map[string]providers.Analyzer, len(as))
	for _, a := range as {
		m[a.Name()] = a
	}
	if config.Primary == "" && len(as) > 0 {
		config.Primary = as[0].Name()
	}
	return &pipelineExecutor{
		analyzers: m,
		config:    config,
	}
}

// pipelineResult holds the result of a pipeline execution.
type pipelineResult struct {
	// analysis is the merged analysis of every analyzer that answered.
	analysis  providers.Analysis
	providers []string

	primaryErr   error
	secondaryErr error
}

// provider names the analyzers behind the result, e.g. "nudenet+aliyun".
func (pr *pipelineResult) provider() string {
	return strings.Join(pr.providers, "+")
}

// execute runs the primary analyzer and, when judge's verdict or a primary
// failure calls for it, the secondary one.
func (pe *pipelineExecutor) execute(ctx context.Context, req providers.AnalyzeRequest, judge func(providers.Analysis) censor.ModerationStatus) (*pipelineResult, error) {
	primary, ok := pe.analyzers[pe.config.Primary]
	if !ok {
		return nil, fmt.Errorf("%w: %q", censor.ErrProviderNotFound, pe.config.Primary)
	}

	a, err := primary.Analyze(ctx, req)
	if err != nil {
		if !pe.config.Trigger.OnError || pe.config.Secondary == "" || ctx.Err() != nil {
			return nil, err
		}
		b, name, serr := pe.runSecondary(ctx, req)
		if serr != nil {
			return nil, errors.Join(err, serr)
		}
		return &pipelineResult{analysis: b, providers: []string{name}, primaryErr: err}, nil
	}

	result := &pipelineResult{analysis: a, providers: []string{primary.Name()}}
	if pe.config.Secondary == "" || judge == nil {
		return result, nil
	}
	if !pe.config.Trigger.ShouldTrigger(judge(a)) {
		return result, nil
	}

	b, name, err := pe.runSecondary(ctx, req)
	if err != nil {
		// The primary result is enough.
		result.secondaryErr = err
		return result, nil
	}
	result.analysis = mergeAnalyses(a, b)
	result.providers = append(result.providers, name)
	return result, nil
}

// runSecondary runs the secondary analyzer.
func (pe *pipelineExecutor) runSecondary(ctx context.Context, req providers.AnalyzeRequest) (providers.Analysis, string, error) {
	secondary, ok := pe.analyzers[pe.config.Secondary]
	if !ok {
		return providers.Analysis{}, "", fmt.Errorf("%w: %q", censor.ErrProviderNotFound, pe.config.Secondary)
	}
	a, err := secondary.Analyze(ctx, req)
	return a, secondary.Name(), err
}

// mergeAnalyses keeps the highest confidence per category and the strictest
// child signals of both analyses.
func mergeAnalyses(a, b providers.Analysis) providers.Analysis {
	best := make(map[string]float64)
	var order []string
	for _, rec := range append(append([]censor.DetectionRecord(nil), a.Records...), b.Records...) {
		prev, seen := best[rec.Category]
		if !seen {
			order = append(order, rec.Category)
		}
		if !seen || rec.Confidence > prev {
			best[rec.Category] = rec.Confidence
		}
	}
	threshold.SortCategories(order)

	merged := a
	merged.Records = make([]censor.DetectionRecord, 0, len(order))
	for _, cat := range order {
		merged.Records = append(merged.Records, censor.DetectionRecord{Category: cat, Confidence: best[cat]})
	}
	merged.Signals = mergeSignals(a.Signals, b.Signals)
	merged.Provider = a.Provider + "+" + b.Provider
	return merged
}

func mergeSignals(a, b censor.ChildSignals) censor.ChildSignals {
	out := censor.ChildSignals{
		ContainsChildren: a.ContainsChildren || b.ContainsChildren,
		UnderageDetected: a.UnderageDetected || b.UnderageDetected,
		MinAge:           a.MinAge,
		Description:      a.Description,
	}
	if b.MinAge != nil && (out.MinAge == nil || *b.MinAge < *out.MinAge) {
		out.MinAge = b.MinAge
	}
	if out.Description == "" {
		out.Description = b.Description
	}

	seen := make(map[string]bool)
	for _, kw := range append(append([]string(nil), a.KeywordsFound...), b.KeywordsFound...) {
		if !seen[kw] {
			seen[kw] = true
			out.KeywordsFound = append(out.KeywordsFound, kw)
		}
	}
	return out
}
