// Package buildlog implements the durable build log and the planner
// that determines what is stale and must be rebuilt. Grounded on the
// teacher's kernel/threads/registry/loader.go
// (ModuleRegistry.GetDependencyOrder, a Kahn's-algorithm topological
// sort with residual-in-degree cycle detection) for the planner's
// build-task ordering, and on
// kernel/threads/intelligence/scheduling/engine.go's DeadlineScheduler
// (a container/heap priority queue) for ordering simultaneously-stale
// build tasks by declared rule priority.
package buildlog

import (
	"fmt"
	"sync"
)

// RawEntry records a source file as last seen by the log.
type RawEntry struct {
	Name        string
	TypeVersion uint64
	FileVersion uint64 // derived from modification time or content hash
}

// SecondaryInputRef records one secondary input a built entry depended
// on at build time, so staleness can be detected if that input
// changes later.
type SecondaryInputRef struct {
	Name    string
	Version uint64
}

// BuiltEntry records one build-rule output.
type BuiltEntry struct {
	Name                string
	TypeVersion         uint64
	BuildRuleVersion    uint64
	PlatformConfigTime  uint64
	PrimaryInputName    string
	PrimaryInputVersion uint64
	SecondaryInputs     []SecondaryInputRef
	SavedDirectory      string
	OutputFileVersion   uint64
}

// SecondaryEntry records a secondary output produced as a side effect
// of building some other entry.
type SecondaryEntry struct {
	Name            string
	ProducerVersion uint64
}

// TargetLog is one build target's durable state: root -> targets[] ->
// {raw, built, secondary}, per spec.md §4.5.3.
type TargetLog struct {
	Name      string
	Raw       []RawEntry
	Built     []BuiltEntry
	Secondary []SecondaryEntry
}

// Log is the full durable build log, versioned per entry by
// TypeVersion; a version mismatch forces a rebuild of that entry.
type Log struct {
	mu      sync.Mutex
	Targets map[string]*TargetLog
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{Targets: make(map[string]*TargetLog)}
}

// Target returns (creating if necessary) the log for the named target.
func (l *Log) Target(name string) *TargetLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.Targets[name]
	if !ok {
		t = &TargetLog{Name: name}
		l.Targets[name] = t
	}
	return t
}

// FileStat abstracts the disk so up-to-date checks and the planner
// remain unit-testable without a real filesystem.
type FileStat func(path string) (version uint64, exists bool)

func rawUpToDate(logged RawEntry, detectedType, detectedFile uint64) bool {
	return logged.TypeVersion == detectedType && logged.FileVersion == detectedFile
}

// builtUpToDate checks a built entry: type version and build-rule
// version and primary input version all match, every recorded
// secondary input still matches its current version, the saved
// directory still contains the output, and the output's file version
// (modification time surrogate) matches. PlatformConfigTime is not
// compared.
func builtUpToDate(e BuiltEntry, detectedTypeVersion uint64, rule BuildRule, primaryVersion uint64, currentSecondaryVersions map[string]uint64, stat FileStat) bool {
	if e.TypeVersion != detectedTypeVersion {
		return false
	}
	if e.BuildRuleVersion != rule.Version() {
		return false
	}
	if e.PrimaryInputVersion != primaryVersion {
		return false
	}
	for _, sec := range e.SecondaryInputs {
		cur, ok := currentSecondaryVersions[sec.Name]
		if !ok || cur != sec.Version {
			return false
		}
	}
	outputVersion, exists := stat(e.SavedDirectory + "/" + e.Name)
	if !exists {
		return false
	}
	return outputVersion == e.OutputFileVersion
}

// BuildRule is one concrete producer of built entries from a primary
// input of a declared type. Implementations are handed to Plan/Execute
// as a []BuildRule; there is no separate registry.
type BuildRule interface {
	Name() string
	Version() uint64
	PrimaryInputType() string
	// DependsOnRules names other rules whose outputs this rule may
	// consume as secondary inputs, purely for planner ordering.
	DependsOnRules() []string
	Build(ctx *BuildContext, primary RawEntry) (*BuiltEntry, error)
}

// BuildContext is passed to a BuildRule's Build method; it collects
// secondary outputs, deduplicating identical-argument calls within a
// single invocation per spec.md §7 idempotence requirements.
type BuildContext struct {
	mu        sync.Mutex
	secondary map[string]SecondaryEntry
}

func newBuildContext() *BuildContext {
	return &BuildContext{secondary: make(map[string]SecondaryEntry)}
}

// ProduceSecondaryOutput records name as a secondary output of the
// current build, deduplicating by (name, producerVersion).
func (c *BuildContext) ProduceSecondaryOutput(name string, producerVersion uint64) SecondaryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fmt.Sprintf("%s@%d", name, producerVersion)
	if existing, ok := c.secondary[key]; ok {
		return existing
	}
	e := SecondaryEntry{Name: name, ProducerVersion: producerVersion}
	c.secondary[key] = e
	return e
}

func (c *BuildContext) secondaryEntries() []SecondaryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SecondaryEntry, 0, len(c.secondary))
	for _, e := range c.secondary {
		out = append(out, e)
	}
	return out
}
