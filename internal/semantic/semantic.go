// Package semantic derives normalized task keys and entity/verb tags from
// free-text task descriptions, and scores how similar two tasks are.
package semantic

import (
	"sort"
	"strings"
)

// Canonical verb tokens. Navigation is hyphenated so it survives noise-word
// stripping as a single token.
const (
	VerbGoTo  = "go-to"
	VerbFind  = "find"
	VerbClick = "click"
	VerbType  = "type"
)

// verbGroups maps a canonical verb to the phrases that collapse into it.
var verbGroups = []struct {
	canonical string
	phrases   []string
}{
	{VerbGoTo, []string{"go to", "navigate to", "open", "visit", "browse to", "load", "access"}},
	{VerbFind, []string{"find", "search for", "look for", "locate", "get", "show", "display", "check", "view"}},
	{VerbClick, []string{"click", "press", "select", "choose", "pick"}},
	{VerbType, []string{"type", "enter", "input", "fill", "write"}},
}

var (
	twoWordVerbs = map[string]string{}
	oneWordVerbs = map[string]string{}
	canonical    = map[string]bool{VerbGoTo: true, VerbFind: true, VerbClick: true, VerbType: true}
	noiseWords   = map[string]bool{
		"the": true, "a": true, "an": true, "for": true, "of": true, "in": true,
		"on": true, "at": true, "to": true, "and": true, "or": true,
	}
)

func init() {
	for _, g := range verbGroups {
		for _, p := range g.phrases {
			if strings.Contains(p, " ") {
				twoWordVerbs[p] = g.canonical
			} else {
				oneWordVerbs[p] = g.canonical
			}
		}
	}
}

// Entry is the indexable view of a task.
type Entry struct {
	Normalized string
	Entities   []string
	Verbs      []string
}

// Normalize lowercases task, collapses whitespace, canonicalizes verb phrases
// and strips noise words.
func Normalize(task string) string {
	return strings.Join(tokens(task), " ")
}

// tokens returns the normalized word list for task.
func tokens(task string) []string {
	words := strings.Fields(strings.ToLower(task))
	out := make([]string, 0, len(words))
	for i := 0; i < len(words); i++ {
		w := words[i]
		if i+1 < len(words) {
			if v, ok := twoWordVerbs[w+" "+words[i+1]]; ok {
				out = append(out, v)
				i++
				continue
			}
		}
		if v, ok := oneWordVerbs[w]; ok {
			out = append(out, v)
			continue
		}
		if noiseWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Extract computes the normalized form and the entity and verb tags of task.
// Entities are the values following the first colon in a token ("pair:gbpusd").
func Extract(task string) Entry {
	words := tokens(task)
	entities := map[string]bool{}
	verbs := map[string]bool{}
	for _, w := range words {
		if IsVerb(w) {
			verbs[w] = true
			continue
		}
		if i := strings.Index(w, ":"); i >= 0 {
			rest := w[i+1:]
			if j := strings.Index(rest, ":"); j >= 0 {
				rest = rest[:j]
			}
			if rest != "" {
				entities[rest] = true
			}
		}
	}
	return Entry{
		Normalized: strings.Join(words, " "),
		Entities:   sortedKeys(entities),
		Verbs:      sortedKeys(verbs),
	}
}

// Similarity scores two tasks: the share of common words over the larger word
// set, multiplied by 1 when both tasks share a canonical verb and by 0 otherwise.
func Similarity(a, b string) float64 {
	w1 := wordSet(tokens(a))
	w2 := wordSet(tokens(b))
	if len(w1) == 0 || len(w2) == 0 {
		return 0
	}

	sharedVerb := false
	common := 0
	for w := range w1 {
		if !w2[w] {
			continue
		}
		common++
		if IsVerb(w) {
			sharedVerb = true
		}
	}
	if !sharedVerb {
		return 0
	}

	denom := len(w1)
	if len(w2) > denom {
		denom = len(w2)
	}
	return float64(common) / float64(denom)
}

// IsVerb reports whether token is one of the canonical verbs.
func IsVerb(token string) bool {
	return canonical[token]
}

func wordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
