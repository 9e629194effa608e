package tracker

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dependency edges live in a fenced YAML block inside the issue body:
//
//	```phased:deps
//	depends_on:
//	  - 12
//	  - 15
//	```
//
// The block survives manual edits elsewhere in the body, and a body
// without one simply has no dependencies.
const depsFence = "```phased:deps"

type depsBlock struct {
	DependsOn []int `yaml:"depends_on"`
}

// ParseDependsOn extracts the dependency numbers from a work-item
// body. A missing block yields nil; a malformed block is an error so
// the caller fails closed rather than treating the item as unblocked.
func ParseDependsOn(body string) ([]int, error) {
	payload, found := extractDepsPayload(body)
	if !found {
		return nil, nil
	}
	var block depsBlock
	if err := yaml.Unmarshal([]byte(payload), &block); err != nil {
		return nil, fmt.Errorf("malformed phased:deps block: %w", err)
	}
	sort.Ints(block.DependsOn)
	return block.DependsOn, nil
}

// RenderDependsOn returns body with its deps block replaced (or
// appended). An empty deps list removes the block entirely.
func RenderDependsOn(body string, dependsOn []int) string {
	stripped := removeDepsBlock(body)
	if len(dependsOn) == 0 {
		return stripped
	}

	sorted := append([]int(nil), dependsOn...)
	sort.Ints(sorted)

	var sb strings.Builder
	sb.WriteString(depsFence)
	sb.WriteString("\ndepends_on:\n")
	for _, n := range sorted {
		fmt.Fprintf(&sb, "  - %d\n", n)
	}
	sb.WriteString("```")

	stripped = strings.TrimRight(stripped, "\n")
	if stripped == "" {
		return sb.String() + "\n"
	}
	return stripped + "\n\n" + sb.String() + "\n"
}

func extractDepsPayload(body string) (string, bool) {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != depsFence {
			continue
		}
		var payload []string
		for _, inner := range lines[i+1:] {
			if strings.TrimSpace(inner) == "```" {
				return strings.Join(payload, "\n"), true
			}
			payload = append(payload, inner)
		}
		// Unterminated fence: treat the rest of the body as payload so
		// a truncated block still errors in the YAML parse when bogus.
		return strings.Join(payload, "\n"), true
	}
	return "", false
}

func removeDepsBlock(body string) string {
	lines := strings.Split(body, "\n")
	var out []string
	skipping := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !skipping && trimmed == depsFence {
			skipping = true
			continue
		}
		if skipping {
			if trimmed == "```" {
				skipping = false
			}
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
