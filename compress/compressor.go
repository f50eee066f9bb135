// Package compress implements the token-aware history compressor: it takes
// the Engine's accumulated, human-readable execution-history strings plus
// the current iteration number and returns a reordered, tier-compressed
// sequence that fits a token budget, so a long-running agent session never
// blows the planner's context window.
package compress

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// EntryKind classifies one history entry.
type EntryKind int

const (
	KindResult EntryKind = iota
	KindPlan
	KindUserResponse
)

// Tier is the compression tier an entry falls into relative to the
// current iteration.
type Tier int

const (
	TierImmediate Tier = iota
	TierRecent
	TierMilestone
)

// Entry is one parsed history line.
type Entry struct {
	Iteration     int
	Kind          EntryKind
	Text          string
	Tokens        int
	OriginalIndex int
}

// Budget configures the compressor's total token budget and its
// immediate/recent/milestone split.
type Budget struct {
	Total             int
	ImmediateFraction float64
	RecentFraction    float64
	MilestoneFraction float64
}

// DefaultBudget is 40,000 tokens total, split 90% / 7% / 3% across the
// immediate / recent / milestone tiers.
func DefaultBudget() Budget {
	return Budget{
		Total:             40000,
		ImmediateFraction: 0.90,
		RecentFraction:    0.07,
		MilestoneFraction: 0.03,
	}
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithBudget overrides the default token budget and tier split.
func WithBudget(b Budget) Option {
	return func(c *Compressor) { c.budget = b }
}

// Compressor applies the tiered compression policy.
type Compressor struct {
	budget Budget
}

// New builds a Compressor with the given options, defaulting to
// DefaultBudget when WithBudget is not supplied.
func New(opts ...Option) *Compressor {
	c := &Compressor{budget: DefaultBudget()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress reduces history to fit the configured token budget relative
// to currentIteration. On any internal failure it returns history
// unchanged: compression must never block progress.
func (c *Compressor) Compress(history []string, currentIteration int) (result []string) {
	defer func() {
		if r := recover(); r != nil {
			result = history
		}
	}()

	entries := make([]Entry, len(history))
	for i, raw := range history {
		entries[i] = parseEntry(raw, i)
	}

	immediate, recent, milestone := make([]Entry, 0), make([]Entry, 0), make([]Entry, 0)
	for _, e := range entries {
		switch classifyTier(e.Iteration, currentIteration) {
		case TierImmediate:
			immediate = append(immediate, e)
		case TierRecent:
			recent = append(recent, e)
		default:
			milestone = append(milestone, e)
		}
	}

	immediateBudget := int(float64(c.budget.Total) * c.budget.ImmediateFraction)
	recentBudget := int(float64(c.budget.Total) * c.budget.RecentFraction)
	milestoneBudget := int(float64(c.budget.Total) * c.budget.MilestoneFraction)

	out := make([]string, 0, len(history))
	out = append(out, immediatePolicy(immediate, immediateBudget)...)
	out = append(out, recentPolicy(recent, recentBudget)...)
	out = append(out, milestonePolicy(milestone, milestoneBudget)...)
	return out
}

// classifyTier buckets an entry by how far its iteration trails current.
func classifyTier(iteration, current int) Tier {
	switch {
	case iteration >= current-4:
		return TierImmediate
	case iteration >= current-8:
		return TierRecent
	default:
		return TierMilestone
	}
}

var (
	iterationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`迭代\s*(\d+)`),
		regexp.MustCompile(`第\s*(\d+)\s*轮`),
		regexp.MustCompile(`(?i)round\s*(\d+)`),
		regexp.MustCompile(`(?i)iteration\s*(\d+)`),
	}
)

// parseEntry extracts (iteration, kind, text, estimatedTokens) from one
// raw history line.
func parseEntry(raw string, index int) Entry {
	iteration := 0
	for _, re := range iterationPatterns {
		if m := re.FindStringSubmatch(raw); m != nil {
			fmt.Sscanf(m[1], "%d", &iteration)
			break
		}
	}

	kind := KindResult
	switch {
	case strings.Contains(raw, "AI计划") || strings.Contains(strings.ToLower(raw), "plan"):
		kind = KindPlan
	case strings.Contains(raw, "用户回复") || strings.Contains(strings.ToLower(raw), "user"):
		kind = KindUserResponse
	}

	return Entry{
		Iteration:     iteration,
		Kind:          kind,
		Text:          raw,
		Tokens:        EstimateTokens(raw),
		OriginalIndex: index,
	}
}

// EstimateTokens estimates ceil(#cjkChars + #asciiWords × 1.3).
func EstimateTokens(text string) int {
	cjkChars := 0
	asciiWords := 0
	inWord := false
	for _, r := range text {
		if isCJK(r) {
			cjkChars++
			inWord = false
			continue
		}
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			inWord = false
			continue
		}
		if !inWord {
			asciiWords++
			inWord = true
		}
	}
	return int(math.Ceil(float64(cjkChars) + float64(asciiWords)*1.3))
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// immediatePolicy sorts by iteration descending then original index
// ascending, keeps entries verbatim while the running total stays
// within budget, and truncates the tail once it is exceeded.
func immediatePolicy(entries []Entry, budget int) []string {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Iteration != sorted[j].Iteration {
			return sorted[i].Iteration > sorted[j].Iteration
		}
		return sorted[i].OriginalIndex < sorted[j].OriginalIndex
	})

	out := make([]string, 0, len(sorted))
	total := 0
	for _, e := range sorted {
		if total+e.Tokens > budget {
			break
		}
		out = append(out, e.Text)
		total += e.Tokens
	}
	return out
}

var toolMarker = regexp.MustCompile(`([✅❌])\s*([A-Za-z_][A-Za-z0-9_]*)`)

// recentPolicy groups entries by iteration and emits one summary line
// per iteration, descending by iteration, stopping (and dropping the
// last line) once the budget would be exceeded.
func recentPolicy(entries []Entry, budget int) []string {
	byIteration := make(map[int][]Entry)
	for _, e := range entries {
		byIteration[e.Iteration] = append(byIteration[e.Iteration], e)
	}
	iterations := make([]int, 0, len(byIteration))
	for it := range byIteration {
		iterations = append(iterations, it)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(iterations)))

	out := make([]string, 0, len(iterations))
	total := 0
	for _, it := range iterations {
		line := summarizeIteration(it, byIteration[it])
		tokens := EstimateTokens(line)
		if total+tokens > budget {
			break
		}
		out = append(out, line)
		total += tokens
	}
	return out
}

func summarizeIteration(iteration int, entries []Entry) string {
	ok := make(map[string]int)
	fail := make(map[string]int)
	ops := 0
	for _, e := range entries {
		ops++
		for _, m := range toolMarker.FindAllStringSubmatch(e.Text, -1) {
			if m[1] == "✅" {
				ok[m[2]]++
			} else {
				fail[m[2]]++
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "迭代 %d: %d次操作", iteration, ops)
	if okPart := joinToolCounts(ok); okPart != "" {
		b.WriteString(" ✅ ")
		b.WriteString(okPart)
	}
	if failPart := joinToolCounts(fail); failPart != "" {
		b.WriteString(" ❌ ")
		b.WriteString(failPart)
	}
	return b.String()
}

func joinToolCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if n := counts[name]; n > 1 {
			parts = append(parts, fmt.Sprintf("%s(%d次)", name, n))
		} else {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}

var milestonePatterns = []string{
	"文件创建成功", "项目初始化", "重大修改完成", "任务阶段完成",
	"用户交互完成", "taskComplete", "专家任务执行完成",
}

// milestonePolicy identifies milestone-bearing entries by content
// pattern and emits one aggregate line, falling back to a minimal
// count-only line if even that does not fit.
func milestonePolicy(entries []Entry, budget int) []string {
	var milestones []Entry
	var latestType string
	for _, e := range entries {
		for _, p := range milestonePatterns {
			if strings.Contains(e.Text, p) {
				milestones = append(milestones, e)
				latestType = p
				break
			}
		}
	}
	if len(milestones) == 0 {
		return nil
	}

	iterations := make([]string, 0, len(milestones))
	for _, m := range milestones {
		iterations = append(iterations, fmt.Sprintf("%d", m.Iteration))
	}
	full := fmt.Sprintf("## 🎯 里程碑: %d个节点 (迭代 %s, 最近: %s)", len(milestones), strings.Join(iterations, ","), latestType)
	if EstimateTokens(full) <= budget {
		return []string{full}
	}

	minimal := fmt.Sprintf("## 🎯 里程碑: %d个节点", len(milestones))
	if EstimateTokens(minimal) <= budget {
		return []string{minimal}
	}
	return nil
}
