// Package rules compiles the fast-path rule document and evaluates
// normalized message text against it.
package rules

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/normalize"
)

// DetectionCounter is bumped once per Evaluate call that returns hits.
type DetectionCounter interface {
	IncDetections()
}

// LoadStats summarizes one Load call.
type LoadStats struct {
	Version       string `json:"version"`
	Labels        int    `json:"labels"`
	Patterns      int    `json:"patterns"`
	CompileErrors int    `json:"compileErrors"`
}

type namedMatcher struct {
	*Matcher
	reason string
}

type compiledRule struct {
	label     string
	severity  models.Severity
	positives []namedMatcher
	negatives []*Matcher
}

type ruleSet struct {
	stats LoadStats
	rules []compiledRule
}

// Engine evaluates text against the loaded rule set. Load swaps the set
// atomically so Evaluate never sees a half-built one.
type Engine struct {
	set     atomic.Pointer[ruleSet]
	counter DetectionCounter
	logger  *zap.Logger
}

// NewEngine creates an engine with no rules loaded. counter may be nil.
func NewEngine(counter DetectionCounter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{counter: counter, logger: logger}
}

// Load compiles doc and installs it. Patterns that fail to compile, and
// labels with an unknown severity, are dropped and counted.
func (e *Engine) Load(doc *Document) LoadStats {
	set := &ruleSet{stats: LoadStats{Version: doc.Version}}

	for _, label := range doc.Labels {
		severity, err := models.ParseSeverity(label.Severity)
		if err != nil {
			set.stats.CompileErrors++
			e.logger.Warn("Dropping label with invalid severity",
				zap.String("label", label.Name), zap.String("severity", label.Severity))
			continue
		}

		rule := compiledRule{label: label.Name, severity: severity}
		for _, p := range label.Patterns {
			m, err := Compile(p.Src)
			if err != nil {
				set.stats.CompileErrors++
				e.logger.Warn("Dropping pattern that failed to compile",
					zap.String("label", label.Name), zap.String("pattern", p.Src), zap.Error(err))
				continue
			}
			reason := p.Name
			if reason == "" {
				reason = p.Src
			}
			rule.positives = append(rule.positives, namedMatcher{Matcher: m, reason: reason})
		}

		negatives, failed := CompileAll(label.Negatives)
		if failed > 0 {
			set.stats.CompileErrors += failed
			e.logger.Warn("Dropped negative patterns that failed to compile",
				zap.String("label", label.Name), zap.Int("count", failed))
		}
		rule.negatives = negatives

		set.stats.Patterns += len(rule.positives) + len(rule.negatives)
		set.rules = append(set.rules, rule)
	}
	set.stats.Labels = len(set.rules)

	e.set.Store(set)
	e.logger.Info("Rule set loaded",
		zap.String("version", set.stats.Version),
		zap.Int("labels", set.stats.Labels),
		zap.Int("patterns", set.stats.Patterns),
		zap.Int("compile_errors", set.stats.CompileErrors))
	return set.stats
}

// LoadFile reads, parses and loads a rule file.
func (e *Engine) LoadFile(path string) (LoadStats, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return LoadStats{}, err
	}
	return e.Load(doc), nil
}

// Stats returns the stats of the installed rule set.
func (e *Engine) Stats() LoadStats {
	if set := e.set.Load(); set != nil {
		return set.stats
	}
	return LoadStats{}
}

// CompileErrors is the number of patterns dropped by the last Load.
func (e *Engine) CompileErrors() int {
	return e.Stats().CompileErrors
}

// Evaluate returns one hit per label that matched, in document order. A
// matching negative vetoes its label outright.
func (e *Engine) Evaluate(raw string) []models.DetectionHit {
	set := e.set.Load()
	if set == nil || raw == "" {
		return nil
	}
	text := normalize.Normalize(raw)
	if text == "" {
		return nil
	}

	var hits []models.DetectionHit
	for _, rule := range set.rules {
		if vetoed(rule.negatives, text) {
			continue
		}

		var reasons, sources []string
		for _, p := range rule.positives {
			if !p.Match(text) {
				continue
			}
			reasons = appendUnique(reasons, p.reason)
			sources = appendUnique(sources, p.Source)
		}
		if len(sources) == 0 {
			continue
		}
		hits = append(hits, models.DetectionHit{
			Label:          rule.label,
			Severity:       rule.severity,
			Reasons:        reasons,
			PatternSources: sources,
		})
	}

	if len(hits) > 0 && e.counter != nil {
		e.counter.IncDetections()
	}
	return hits
}

func vetoed(negatives []*Matcher, text string) bool {
	for _, n := range negatives {
		if n.Match(text) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
