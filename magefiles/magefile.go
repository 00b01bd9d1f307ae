//go:build mage

// Package main provides build targets for epirec using Mage.
//
// Usage:
//
//	mage build       Compile the epirec binary to bin/
//	mage test:all    Run every test
//	mage test:unit   Run tests in short mode
//	mage test:cover  Run tests with a coverage profile
//	mage lint        Run golangci-lint
//	mage clean       Remove build artifacts
//	mage install     Install epirec to GOPATH/bin
//	mage stats       Print Go line counts per package tree
package main

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Stats prints Go lines of code, split into production and test code, for
// each top-level directory.
func Stats() error {
	type counts struct{ prod, test int }
	byRoot := map[string]*counts{}

	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case "vendor", ".git", binaryDir, "_examples":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		n, err := countLines(path)
		if err != nil {
			return nil
		}
		root := strings.SplitN(filepath.ToSlash(path), "/", 2)[0]
		c, ok := byRoot[root]
		if !ok {
			c = &counts{}
			byRoot[root] = c
		}
		if strings.HasSuffix(path, "_test.go") {
			c.test += n
		} else {
			c.prod += n
		}
		return nil
	})
	if err != nil {
		return err
	}

	roots := make([]string, 0, len(byRoot))
	for r := range byRoot {
		roots = append(roots, r)
	}
	sort.Strings(roots)

	var prod, test int
	for _, r := range roots {
		c := byRoot[r]
		fmt.Printf("%-12s prod %6d  test %6d\n", r, c.prod, c.test)
		prod += c.prod
		test += c.test
	}
	fmt.Printf("%-12s prod %6d  test %6d\n", "total", prod, test)
	return nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}
