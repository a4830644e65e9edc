package resolver

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

var ErrFileNotFound = errors.New("input file not found")

// DefaultExtensions is the preference order used when a name comes without
// an extension.
var DefaultExtensions = []string{".svs", ".png", ".jpg", ".jpeg", ".tif", ".tiff"}

type RuleKind int

const (
	// RuleExact matches the name as given.
	RuleExact RuleKind = iota
	// RuleExtension tries the name with each of Extensions appended.
	RuleExtension
	// RuleDirectoryScan accepts the first directory entry equal to the base
	// name or starting with base + ".".
	RuleDirectoryScan
)

func (k RuleKind) String() string {
	switch k {
	case RuleExact:
		return "exact"
	case RuleExtension:
		return "extension"
	case RuleDirectoryScan:
		return "directory_scan"
	default:
		return fmt.Sprintf("rule(%d)", int(k))
	}
}

type Rule struct {
	Kind       RuleKind
	Extensions []string
}

func DefaultRules() []Rule {
	return []Rule{
		{Kind: RuleExact},
		{Kind: RuleExtension, Extensions: DefaultExtensions},
		{Kind: RuleDirectoryScan},
	}
}

// Resolver maps a logical slide name to a file under root. Returned names
// are relative to root and use forward slashes.
type Resolver struct {
	root  string
	rules []Rule
}

func New(root string, rules ...Rule) *Resolver {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Resolver{root: root, rules: rules}
}

func (r *Resolver) Root() string {
	return r.root
}

// Resolve applies the rules in order and returns the first match.
func (r *Resolver) Resolve(name string) (string, error) {
	clean, ok := localName(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrFileNotFound, name)
	}

	for _, rule := range r.rules {
		if found, ok := r.apply(rule, clean); ok {
			logrus.WithFields(logrus.Fields{
				"requested": name,
				"resolved":  found,
				"rule":      rule.Kind.String(),
			}).Debug("Resolved input file")
			return found, nil
		}
	}

	return "", fmt.Errorf("%w: %q (tried common image extensions)", ErrFileNotFound, name)
}

func (r *Resolver) apply(rule Rule, name string) (string, bool) {
	switch rule.Kind {
	case RuleExact:
		return name, r.isFile(name)
	case RuleExtension:
		for _, ext := range rule.Extensions {
			if r.isFile(name + ext) {
				return name + ext, true
			}
		}
	case RuleDirectoryScan:
		return r.scan(name)
	}
	return "", false
}

func (r *Resolver) isFile(name string) bool {
	info, err := os.Stat(filepath.Join(r.root, filepath.FromSlash(name)))
	return err == nil && info.Mode().IsRegular()
}

func (r *Resolver) scan(name string) (string, bool) {
	dir, base := path.Split(name)
	entries, err := os.ReadDir(filepath.Join(r.root, filepath.FromSlash(dir)))
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name() == base || strings.HasPrefix(e.Name(), base+".") {
			return path.Join(dir, e.Name()), true
		}
	}
	return "", false
}

// Candidates lists the exact names the exact and extension rules would
// try for name, in order. History lookups use it against stored names.
func (r *Resolver) Candidates(name string) []string {
	out := []string{name}
	for _, rule := range r.rules {
		if rule.Kind != RuleExtension {
			continue
		}
		for _, ext := range rule.Extensions {
			out = append(out, name+ext)
		}
	}
	return out
}

// localName normalizes name and rejects anything that would leave the root.
func localName(name string) (string, bool) {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return "", false
	}
	clean := path.Clean(name)
	if !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", false
	}
	return clean, true
}
