package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "votingdapp"

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

// layerRule lists what one layer of a bounded context may import besides the
// standard library. Prefixes are relative to the context root unless they
// start with the module path.
type layerRule struct {
	allowed   []string
	forbidden map[string]string
}

var layerRules = map[string]layerRule{
	"domain": {
		allowed: []string{"domain"},
		forbidden: map[string]string{
			"/adapters/": "domain must not import adapters",
		},
	},
	"ports": {
		allowed: []string{"domain", modulePath + "/contracts"},
		forbidden: map[string]string{
			"/adapters/":    "ports must not import adapters",
			"/application/": "ports must not import application code",
		},
	},
	"application": {
		allowed: []string{"application", "domain", "ports", modulePath + "/contracts"},
		forbidden: map[string]string{
			"/adapters/": "application must not import adapters",
		},
	},
	"transport": {
		allowed: []string{"transport"},
		forbidden: map[string]string{
			"/application/": "transport DTOs must not import application code",
		},
	},
}

func main() {
	root := "contexts"
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	violations := collectViolations(root)
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File == violations[j].File {
			if violations[i].Line == violations[j].Line {
				return violations[i].Import < violations[j].Import
			}
			return violations[i].Line < violations[j].Line
		}
		return violations[i].File < violations[j].File
	})

	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

func collectViolations(root string) []violation {
	var violations []violation

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		normalized := filepath.ToSlash(path)
		parts := strings.Split(normalized, "/")
		if len(parts) < 4 || parts[0] != "contexts" {
			return nil
		}

		contextRoot := fmt.Sprintf("%s/contexts/%s/%s", modulePath, parts[1], parts[2])
		violations = append(violations, validateFile(path, normalized, parts[3], contextRoot)...)
		return nil
	})

	return violations
}

func validateFile(path string, normalizedPath string, layer string, contextRoot string) []violation {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []violation{{
			File: normalizedPath,
			Line: 1,
			Rule: "file must parse",
		}}
	}

	rule, hasRule := layerRules[layer]
	var violations []violation
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, "\"")
		report := func(reason string) {
			violations = append(violations, violation{
				File:   normalizedPath,
				Line:   fset.Position(imp.Pos()).Line,
				Import: importPath,
				Rule:   reason,
			})
		}

		if hasPrefix(importPath, modulePath+"/contexts") && !hasPrefix(importPath, contextRoot) {
			report("cross-context imports are forbidden")
		}
		if !hasRule {
			continue
		}
		if hasPrefix(importPath, modulePath+"/internal") {
			report(layer + " must not import runtime infrastructure")
		}
		for fragment, reason := range rule.forbidden {
			if strings.Contains(importPath, fragment) {
				report(reason)
			}
		}
		if !isStdlib(importPath) && !isAllowed(importPath, resolve(contextRoot, rule.allowed)) {
			report(layer + " import is outside explicit allowlist")
		}
	}
	return violations
}

func resolve(contextRoot string, prefixes []string) []string {
	resolved := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		if hasPrefix(prefix, modulePath) {
			resolved = append(resolved, prefix)
			continue
		}
		resolved = append(resolved, contextRoot+"/"+prefix)
	}
	return resolved
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isAllowed(importPath string, allowedPrefixes []string) bool {
	for _, p := range allowedPrefixes {
		if hasPrefix(importPath, p) {
			return true
		}
	}
	return false
}

// isStdlib treats any import whose first element has no dot as standard
// library, the same test the go tool uses.
func isStdlib(importPath string) bool {
	first := strings.SplitN(importPath, "/", 2)[0]
	return !strings.Contains(first, ".") && first != modulePath
}
