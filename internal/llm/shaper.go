package llm

import (
	"regexp"
	"strings"
)

// Shaper rewrites system prompts to fit the target adapter's capabilities.
// A prompt written for a web-grounded vendor tells the model to search for
// live lines and injuries; routed to a vendor without live search, those
// directives would produce confident hallucinations, so they are replaced
// with an instruction to rely on pre-fetched context instead.
type Shaper struct {
	searchDirectives []*regexp.Regexp
}

const prefetchedNote = "Use only the pre-fetched data provided in the conversation; you do not have live search."

var defaultSearchDirectives = []string{
	`(?i)search the web[^.\n]*\.?`,
	`(?i)use (?:google|live|web) search[^.\n]*\.?`,
	`(?i)look up (?:current|live|today'?s) [^.\n]*\.?`,
	`(?i)verify [^.\n]* against live sources[^.\n]*\.?`,
	`(?i)cite (?:your )?(?:web|search) sources[^.\n]*\.?`,
}

// NewShaper creates a shaper with the default directive table.
func NewShaper() *Shaper {
	s := &Shaper{}
	for _, p := range defaultSearchDirectives {
		s.searchDirectives = append(s.searchDirectives, regexp.MustCompile(p))
	}
	return s
}

// Shape returns the system prompt adjusted for the target capabilities.
// Prompts for fully capable targets pass through untouched.
func (s *Shaper) Shape(systemPrompt string, caps Capabilities) string {
	if systemPrompt == "" || caps.Grounding {
		return systemPrompt
	}

	shaped := systemPrompt
	replaced := false
	for _, re := range s.searchDirectives {
		if re.MatchString(shaped) {
			shaped = re.ReplaceAllString(shaped, "")
			replaced = true
		}
	}
	if !replaced {
		return systemPrompt
	}

	shaped = collapseBlank(shaped)
	return strings.TrimSpace(shaped) + "\n\n" + prefetchedNote
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

func collapseBlank(s string) string {
	return blankRuns.ReplaceAllString(s, "\n\n")
}
