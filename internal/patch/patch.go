// Package patch applies surgical mutations to strategy code inside
// EVOLVE-BLOCK marker regions:
//
//	# === EVOLVE-BLOCK: <name> ===
//	<body>
//	# === END EVOLVE-BLOCK ===
//
// Everything outside the markers is left untouched, so the evolution loop
// can rewrite one decision block without disturbing the strategy scaffold.
package patch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrBlockNotFound = errors.New("evolve block not found")

var blockRe = regexp.MustCompile(
	`(?ms)(^[ \t]*# === EVOLVE-BLOCK:[ \t]*([\w-]+).*?$\n)(.*?)(^[ \t]*# === END EVOLVE-BLOCK.*?$)`,
)

// Diff is a mutation specification: a full replacement when Code is set,
// otherwise per-block body replacements.
type Diff struct {
	Code   string
	Blocks map[string]string
}

// Apply returns the parent code with the diff applied. A full-code diff
// replaces everything; a block diff rewrites each named block body in place,
// re-indented to the block's marker indentation.
func Apply(parentCode string, diff Diff) (string, error) {
	if diff.Code != "" {
		return diff.Code, nil
	}
	result := parentCode
	for name, body := range diff.Blocks {
		replaced, err := replaceBlock(result, name, body)
		if err != nil {
			return "", err
		}
		result = replaced
	}
	return result, nil
}

// ExtractBlocks returns every block body keyed by name, dedented.
func ExtractBlocks(code string) map[string]string {
	blocks := make(map[string]string)
	for _, match := range blockRe.FindAllStringSubmatch(code, -1) {
		blocks[match[2]] = dedent(match[3])
	}
	return blocks
}

func replaceBlock(code, name, newBody string) (string, error) {
	indexes := blockRe.FindAllStringSubmatchIndex(code, -1)
	for _, idx := range indexes {
		blockName := code[idx[4]:idx[5]]
		if blockName != name {
			continue
		}

		head := code[idx[2]:idx[3]]
		tail := code[idx[8]:idx[9]]
		indent := head[:len(head)-len(strings.TrimLeft(head, " \t"))]

		body := indentLines(dedent(newBody), indent)
		replacement := head + strings.TrimRight(body, "\n") + "\n" + tail
		return code[:idx[0]] + replacement + code[idx[1]:], nil
	}
	return "", fmt.Errorf("%w: %q", ErrBlockNotFound, name)
}

func indentLines(body, indent string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			lines[i] = indent + line
		} else {
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

func dedent(body string) string {
	lines := strings.Split(body, "\n")

	minIndent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if minIndent < 0 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return strings.TrimSpace(body)
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
		} else {
			lines[i] = line[minIndent:]
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
