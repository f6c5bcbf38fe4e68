package buildlog

import (
	"container/heap"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/forge-engine/core/resource/reference"
)

// BuildTask is one unit of planned work: run rule against primary,
// producing (or refreshing) one built entry.
type BuildTask struct {
	Rule     BuildRule
	Primary  RawEntry
	Priority int
	seq      uint64
}

// ReferenceCheck reports whether primary's detected references are all
// still resolvable, the second half of spec.md §4.5.3's up-to-date
// condition ("existing built entry up-to-date and references still
// resolvable: keep"). A nil ReferenceCheck treats every primary as
// fully resolvable, preserving the type-version/file-version-only
// check.
type ReferenceCheck func(primary RawEntry) bool

// NewReferenceCheck builds a ReferenceCheck backed by
// reference.DetectReferences: primary is resolvable when loadInstance
// produces a live instance of typeName and every reference detected on
// it is either resolvable (per the resolvable callback) or carries the
// platform-optional flag. An unresolved platform-optional reference
// does not invalidate the build — it resolves to an UNSUPPORTED log
// entry at request time instead, per spec.md §8 scenario S5 — so it
// does not count against resolvability here.
func NewReferenceCheck(typeName string, loadInstance func(RawEntry) (any, error), resolvable func(targetType, name string) bool) ReferenceCheck {
	return func(primary RawEntry) bool {
		instance, err := loadInstance(primary)
		if err != nil {
			return false
		}
		refs, err := reference.DetectReferences(typeName, instance)
		if err != nil {
			return false
		}
		for _, r := range refs {
			if resolvable(r.Type, r.Name) {
				continue
			}
			if !r.Optional {
				return false
			}
		}
		return true
	}
}

// Priority lets a caller declare a rule-specific priority for a batch
// of candidate primaries; default 0 preserves insertion order, the
// same convention internal/dispatch uses for its task queue.
type Priority func(rule BuildRule, primary RawEntry) int

// Plan computes the set of build tasks needed to bring target up to
// date, given the freshly scanned raw entries and the registered
// rules, following the pseudocode in spec.md §4.5.3:
//
//	for each raw entry on disk: keep if logged version matches, else
//	  mark stale (invalidating dependent built entries)
//	for each rule, for each candidate primary input: keep the existing
//	  built entry if up to date, else enqueue a build task
//
// Resource cycles are permitted (lazy runtime loading); Plan only
// orders *build* tasks, honoring each rule's declared secondary-input
// rule dependencies as a topological order, priority (descending) then
// insertion order breaking ties.
//
// refsOK, if non-nil, is consulted for every otherwise up-to-date
// primary; a primary whose references are no longer resolvable is
// rebuilt even though its type/file/rule versions still match.
func Plan(target *TargetLog, scanned []RawEntry, rules []BuildRule, prio Priority, stat FileStat, refsOK ReferenceCheck) ([]*BuildTask, error) {
	if prio == nil {
		prio = func(BuildRule, RawEntry) int { return 0 }
	}

	detected := make(map[string]RawEntry, len(scanned))
	for _, r := range scanned {
		detected[r.Name] = r
	}

	stale := map[string]bool{}
	loggedRaw := make(map[string]RawEntry, len(target.Raw))
	for _, logged := range target.Raw {
		loggedRaw[logged.Name] = logged
		cur, ok := detected[logged.Name]
		if !ok || !rawUpToDate(logged, cur.TypeVersion, cur.FileVersion) {
			stale[logged.Name] = true
		}
	}
	for name := range detected {
		if _, logged := loggedRaw[name]; !logged {
			stale[name] = true // new raw entry, never built before
		}
	}

	existingBuilt := make(map[string]BuiltEntry, len(target.Built))
	for _, b := range target.Built {
		existingBuilt[b.PrimaryInputName] = b
	}
	currentSecondaryVersions := make(map[string]uint64, len(target.Secondary))
	for _, s := range target.Secondary {
		currentSecondaryVersions[s.Name] = s.ProducerVersion
	}

	var tasks []*BuildTask
	var seq uint64
	for _, rule := range rules {
		for _, primary := range scanned {
			if primary.TypeVersion == 0 {
				continue
			}
			_ = rule.PrimaryInputType() // candidate filtering is caller's responsibility via `scanned`

			existing, hasBuilt := existingBuilt[primary.Name]
			invalidated := stale[primary.Name]
			upToDate := hasBuilt && !invalidated &&
				builtUpToDate(existing, primary.TypeVersion, rule, primary.FileVersion, currentSecondaryVersions, stat)
			if upToDate && (refsOK == nil || refsOK(primary)) {
				continue
			}
			seq++
			tasks = append(tasks, &BuildTask{
				Rule:     rule,
				Primary:  primary,
				Priority: prio(rule, primary),
				seq:      seq,
			})
		}
	}

	return topoOrderByRuleDeps(tasks)
}

// topoOrderByRuleDeps orders tasks so that every task whose rule
// DependsOnRules names another rule present in this batch runs after
// that rule's tasks, using a Kahn's-algorithm topological sort over
// rule names — the same algorithm the teacher's ModuleRegistry uses
// for module load order, applied here to build-rule ordering. Ties
// within a dependency layer are broken by a priority (descending)
// max-heap over (priority, seq), the same ordering idiom as the
// dispatcher's optional priority queue.
func topoOrderByRuleDeps(tasks []*BuildTask) ([]*BuildTask, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	ruleNames := map[string]bool{}
	for _, t := range tasks {
		ruleNames[t.Rule.Name()] = true
	}

	inDegree := map[string]int{}
	dependents := map[string][]string{}
	for _, t := range tasks {
		name := t.Rule.Name()
		if _, ok := inDegree[name]; !ok {
			inDegree[name] = 0
		}
		for _, dep := range t.Rule.DependsOnRules() {
			if !ruleNames[dep] {
				continue // dependency not part of this batch; nothing to order against
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	tasksByRule := map[string][]*BuildTask{}
	for _, t := range tasks {
		tasksByRule[t.Rule.Name()] = append(tasksByRule[t.Rule.Name()], t)
	}

	var ready ruleHeap
	for name, deg := range inDegree {
		if deg == 0 {
			heap.Push(&ready, &ruleHeapItem{name: name, priority: maxPriority(tasksByRule[name]), seq: tasksByRule[name][0].seq})
		}
	}

	var ordered []*BuildTask
	visited := map[string]bool{}
	for ready.Len() > 0 {
		item := heap.Pop(&ready).(*ruleHeapItem)
		visited[item.name] = true
		ordered = append(ordered, sortByPriority(tasksByRule[item.name])...)
		for _, dep := range dependents[item.name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				heap.Push(&ready, &ruleHeapItem{name: dep, priority: maxPriority(tasksByRule[dep]), seq: tasksByRule[dep][0].seq})
			}
		}
	}

	if len(visited) != len(ruleNames) {
		return nil, fmt.Errorf("buildlog: cycle detected among build rule dependencies")
	}
	return ordered, nil
}

func maxPriority(tasks []*BuildTask) int {
	max := 0
	for i, t := range tasks {
		if i == 0 || t.Priority > max {
			max = t.Priority
		}
	}
	return max
}

func sortByPriority(tasks []*BuildTask) []*BuildTask {
	out := append([]*BuildTask(nil), tasks...)
	h := taskHeap(out)
	heap.Init(&h)
	sorted := make([]*BuildTask, 0, len(out))
	for h.Len() > 0 {
		sorted = append(sorted, heap.Pop(&h).(*BuildTask))
	}
	return sorted
}

type taskHeap []*BuildTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*BuildTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type ruleHeapItem struct {
	name     string
	priority int
	seq      uint64 // seq of the rule's first task
}

type ruleHeap []*ruleHeapItem

func (h ruleHeap) Len() int { return len(h) }
func (h ruleHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h ruleHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *ruleHeap) Push(x any)         { *h = append(*h, x.(*ruleHeapItem)) }
func (h *ruleHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Execute runs every task in order, recording each resulting built
// entry into target and aggregating failures with go-multierror so a
// single failing rule does not abort the rest of the batch — matching
// the "transient build-rule failure: rollback secondary outputs,
// continue with next target" propagation rule in spec.md §7.
func Execute(target *TargetLog, log *Log, tasks []*BuildTask) error {
	var result *multierror.Error
	for _, task := range tasks {
		ctx := newBuildContext()
		built, err := task.Rule.Build(ctx, task.Primary)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("rule %s on %s: %w", task.Rule.Name(), task.Primary.Name, err))
			continue
		}
		built.SecondaryInputs = append(built.SecondaryInputs, toSecondaryRefs(ctx.secondaryEntries())...)
		replaceBuiltEntry(target, *built)
	}
	return result.ErrorOrNil()
}

func toSecondaryRefs(entries []SecondaryEntry) []SecondaryInputRef {
	refs := make([]SecondaryInputRef, len(entries))
	for i, e := range entries {
		refs[i] = SecondaryInputRef{Name: e.Name, Version: e.ProducerVersion}
	}
	return refs
}

func replaceBuiltEntry(target *TargetLog, e BuiltEntry) {
	for i, existing := range target.Built {
		if existing.PrimaryInputName == e.PrimaryInputName {
			target.Built[i] = e
			return
		}
	}
	target.Built = append(target.Built, e)
}
