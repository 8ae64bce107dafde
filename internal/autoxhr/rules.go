package autoxhr

import "regexp"

// Rules is an ordered list of URL patterns.
type Rules struct {
	rules []rule
}

type rule struct {
	raw string
	re  *regexp.Regexp
}

// CompileRules compiles patterns in order. A pattern that is not a valid
// regular expression only matches by equality.
func CompileRules(patterns ...string) Rules {
	r := Rules{rules: make([]rule, 0, len(patterns))}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			re = nil
		}
		r.rules = append(r.rules, rule{raw: p, re: re})
	}
	return r
}

// Len returns the number of rules.
func (r Rules) Len() int { return len(r.rules) }

// Match returns the index of the first rule matching url.
func (r Rules) Match(url string) (int, bool) {
	for i, rl := range r.rules {
		if rl.raw == url {
			return i, true
		}
		if rl.re != nil && rl.re.MatchString(url) {
			return i, true
		}
	}
	return -1, false
}
