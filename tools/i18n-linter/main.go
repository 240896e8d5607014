// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter keeps the locale files and the i18n.T call sites in sync.
// It checks that every used message ID exists in the primary locale,
// that no locale carries orphaned or extra IDs, that IDs follow the
// command.message grammar, and that the fmt verbs of every translation
// match the primary locale (T applies Sprintf, so a verb mismatch is a
// runtime formatting bug in that language).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
	projectRoot   = "."
)

// Location is a call site of i18n.T.
type Location struct {
	Filepath string
	Line     int
}

// idRe is the message ID grammar: one command segment, one message
// segment, lowercase with underscores.
var idRe = regexp.MustCompile(`^[a-z]+\.[a-z][a-z_]*$`)

func main() {
	failed := false

	used, err := findUsedIDs(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanning source: %v\n", err)
		os.Exit(1)
	}

	primary, err := loadMessages(filepath.Join(localesDir, primaryLocale))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading %s: %v\n", primaryLocale, err)
		os.Exit(1)
	}

	// Grammar violations in the primary locale.
	for _, id := range sortedKeys(primary) {
		if !idRe.MatchString(id) {
			fmt.Printf("bad message ID %q in %s (want command.message)\n", id, primaryLocale)
			failed = true
		}
	}

	// Used but missing from the primary locale: T falls back to the raw
	// ID at runtime, so this is always a bug.
	for _, id := range sortedUsed(used) {
		if _, ok := primary[id]; !ok {
			loc := used[id][0]
			fmt.Printf("missing message %q (used at %s:%d)\n", id, loc.Filepath, loc.Line)
			failed = true
		}
	}

	// Present but never used.
	for _, id := range sortedKeys(primary) {
		if _, ok := used[id]; !ok {
			fmt.Printf("orphaned message %q in %s\n", id, primaryLocale)
			failed = true
		}
	}

	localeFiles, err := filepath.Glob(filepath.Join(localesDir, "*.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing locales: %v\n", err)
		os.Exit(1)
	}
	for _, file := range localeFiles {
		if filepath.Base(file) == primaryLocale {
			continue
		}
		messages, err := loadMessages(file)
		if err != nil {
			fmt.Printf("loading %s: %v\n", file, err)
			failed = true
			continue
		}
		for _, id := range sortedKeys(primary) {
			translation, ok := messages[id]
			if !ok {
				fmt.Printf("%s: missing message %q\n", file, id)
				failed = true
				continue
			}
			if pv, tv := verbs(primary[id]), verbs(translation); pv != tv {
				fmt.Printf("%s: message %q has verbs [%s], primary has [%s]\n", file, id, tv, pv)
				failed = true
			}
		}
		for _, id := range sortedKeys(messages) {
			if _, ok := primary[id]; !ok {
				fmt.Printf("%s: extra message %q not in %s\n", file, id, primaryLocale)
				failed = true
			}
		}
	}

	if failed {
		os.Exit(1)
	}
	fmt.Println("locale files and i18n.T call sites are consistent")
}

// tRe matches i18n.T("some.id"). IDs are always string literals in this
// codebase, so a textual scan is sufficient.
var tRe = regexp.MustCompile(`i18n\.T\("([^"]+)"`)

// findUsedIDs scans non-test Go files for i18n.T call sites. Hidden and
// underscore-prefixed directories and this tool itself are skipped.
func findUsedIDs(root string) (map[string][]Location, error) {
	used := make(map[string][]Location)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if name != "." && (name == "tools" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for i, line := range strings.Split(string(content), "\n") {
			for _, match := range tRe.FindAllStringSubmatch(line, -1) {
				used[match[1]] = append(used[match[1]], Location{Filepath: path, Line: i + 1})
			}
		}
		return nil
	})
	return used, err
}

// loadMessages reads a locale file into a flat id -> translation map.
// Locale files are exactly two levels deep: a command section holding
// string messages. Anything else is rejected.
func loadMessages(path string) (map[string]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sections map[string]map[string]interface{}
	if err := yaml.Unmarshal(content, &sections); err != nil {
		return nil, fmt.Errorf("not a two-level section/message document: %w", err)
	}
	messages := make(map[string]string)
	for section, entries := range sections {
		for name, value := range entries {
			text, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("message %s.%s is not a string", section, name)
			}
			messages[section+"."+name] = text
		}
	}
	return messages, nil
}

// verbRe captures fmt verbs, including flagged and width forms.
var verbRe = regexp.MustCompile(`%[-+# 0]*[0-9*]*(?:\.[0-9*]+)?[a-zA-Z]`)

// verbs returns the fmt verbs of a translation in order, as a single
// comparable string. %% is not a verb.
func verbs(s string) string {
	var found []string
	for _, v := range verbRe.FindAllString(strings.ReplaceAll(s, "%%", ""), -1) {
		found = append(found, v)
	}
	return strings.Join(found, " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedUsed(m map[string][]Location) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
