package txt2img

import "regexp"

// CustomVar is a prompt variable and the values substituted for it.
type CustomVar struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// varPattern matches $name tokens that do not start inside a word.
var varPattern = regexp.MustCompile(`(^|[^\w$])\$(\w+)`)

// ExtractVars returns the variable names used in prompt, without the $,
// in order of first appearance.
func ExtractVars(prompt string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range varPattern.FindAllStringSubmatch(prompt, -1) {
		name := m[2]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Expand returns every prompt produced by substituting each combination of
// variable values. Variables are applied in order, so the last variable
// varies fastest. Variables without values are skipped.
func Expand(prompt string, vars []CustomVar) []string {
	if prompt == "" {
		return nil
	}

	prompts := []string{prompt}
	for _, v := range vars {
		if len(v.Values) == 0 {
			continue
		}
		next := make([]string, 0, len(prompts)*len(v.Values))
		for _, partial := range prompts {
			for _, val := range v.Values {
				next = append(next, substitute(partial, v.Name, val))
			}
		}
		prompts = next
	}
	return prompts
}

// AllVarsFilled reports whether every variable used in prompt has at least
// one value in vars.
func AllVarsFilled(prompt string, vars []CustomVar) bool {
	filled := map[string]bool{}
	for _, v := range vars {
		if len(v.Values) > 0 {
			filled[v.Name] = true
		}
	}
	for _, name := range ExtractVars(prompt) {
		if !filled[name] {
			return false
		}
	}
	return true
}

// substitute replaces whole $name tokens only, so $style leaves $style2 alone.
func substitute(prompt, name, value string) string {
	return varPattern.ReplaceAllStringFunc(prompt, func(m string) string {
		sub := varPattern.FindStringSubmatch(m)
		if sub[2] != name {
			return m
		}
		return sub[1] + value
	})
}
