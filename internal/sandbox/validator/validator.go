// Package validator rejects snippets that name obviously dangerous constructs
// before any code is compiled. It is a fast early filter only; confinement is
// enforced by the capability registry and the helper process limits.
package validator

import (
	"fmt"
	"regexp"
	"strings"
)

// DeniedModules lists module names that may not appear as an import target.
var DeniedModules = []string{
	"os", "sys", "subprocess", "socket", "requests", "urllib",
	"pathlib", "pickle", "shutil", "importlib", "builtins",
	"ctypes", "marshal", "shelve", "multiprocessing", "tempfile", "http",
}

// Violation reports the construct that caused a snippet to be rejected.
type Violation struct {
	Construct string
	Reason    string
}

func (v *Violation) Error() string {
	return v.Reason
}

var (
	importStmt = regexp.MustCompile(`(?m)^\s*import\s+([^\n#;]+)`)
	fromStmt   = regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z_][\w.]*)\s+import\b`)
	loadStmt   = regexp.MustCompile(`\bload\s*\(\s*["']([^"']+)["']`)
	dynamicUse = regexp.MustCompile(`\b(eval|exec|compile|__import__)\s*\(`)
	fileUse    = regexp.MustCompile(`\b(open|file)\s*\(`)

	denied = func() map[string]struct{} {
		m := make(map[string]struct{}, len(DeniedModules))
		for _, name := range DeniedModules {
			m[name] = struct{}{}
		}
		return m
	}()
)

// Validate scans raw source text and returns a *Violation for the first
// forbidden construct found, checking imports, then dynamic evaluation,
// then file access. It returns nil when nothing matched.
func Validate(code string) error {
	if module, ok := deniedImport(code); ok {
		return &Violation{
			Construct: module,
			Reason:    fmt.Sprintf("Importing module '%s' is not allowed", module),
		}
	}
	if m := dynamicUse.FindStringSubmatch(code); m != nil {
		return &Violation{
			Construct: m[1],
			Reason:    fmt.Sprintf("Using %s() is not allowed", m[1]),
		}
	}
	if m := fileUse.FindStringSubmatch(code); m != nil {
		return &Violation{
			Construct: m[1],
			Reason:    "File operations are not allowed",
		}
	}
	return nil
}

func deniedImport(code string) (string, bool) {
	for _, m := range importStmt.FindAllStringSubmatch(code, -1) {
		for _, target := range strings.Split(m[1], ",") {
			fields := strings.Fields(target)
			if len(fields) == 0 {
				continue
			}
			if root, ok := deniedRoot(fields[0]); ok {
				return root, true
			}
		}
	}
	for _, m := range fromStmt.FindAllStringSubmatch(code, -1) {
		if root, ok := deniedRoot(m[1]); ok {
			return root, true
		}
	}
	for _, m := range loadStmt.FindAllStringSubmatch(code, -1) {
		if root, ok := deniedRoot(loadModule(m[1])); ok {
			return root, true
		}
	}
	return "", false
}

// loadModule turns a load() label such as "//lib/os.star" or "os" into a
// dotted module-like name.
func loadModule(label string) string {
	label = strings.TrimLeft(label, "/@:")
	if i := strings.LastIndexAny(label, "/:"); i >= 0 {
		label = label[i+1:]
	}
	return strings.TrimSuffix(label, ".star")
}

func deniedRoot(target string) (string, bool) {
	root := target
	if i := strings.IndexByte(root, '.'); i >= 0 {
		root = root[:i]
	}
	_, ok := denied[root]
	return root, ok
}
