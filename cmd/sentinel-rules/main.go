// Package main provides a CLI tool for inspecting the built-in
// detection pattern library.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"agent-sentinel/internal/pattern"
	"agent-sentinel/internal/schema"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		runListCmd(os.Args[2:])
	case "check":
		runCheckCmd(os.Args[2:])
	case "-version", "--version", "-v":
		fmt.Printf("sentinel-rules %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: sentinel-rules <command> [flags] [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  list   List the built-in detection rules\n")
	fmt.Fprintf(os.Stderr, "  check  Run sample text through the rules\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	fmt.Fprintf(os.Stderr, "  -version  Show version and exit\n")
}

func runListCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	category := fs.String("category", "", "Only list rules in this category")
	fs.Parse(args)

	library, err := pattern.Compile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *category != "" && !schema.Category(*category).IsValid() {
		fmt.Fprintf(os.Stderr, "Error: unknown category %q\n", *category)
		fmt.Fprintf(os.Stderr, "Categories: %s\n", strings.Join(categoryNames(), ", "))
		os.Exit(1)
	}

	fmt.Printf("Pattern library %s (%d rules)\n\n", pattern.LibraryVersion, library.Len())

	for _, c := range schema.Categories {
		if *category != "" && string(c) != *category {
			continue
		}
		rules := library.ByCategory(c)
		if len(rules) == 0 {
			continue
		}
		fmt.Printf("%s:\n", c)
		for _, rule := range rules {
			fmt.Printf("  %-32s  conf=%.2f  %s\n", rule.Type, rule.BaseConfidence, rule.Description)
		}
		fmt.Println()
	}
}

func runCheckCmd(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.Parse(args)

	library, err := pattern.Compile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	texts := fs.Args()
	if len(texts) == 0 {
		// Read lines from stdin when no arguments are given.
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				texts = append(texts, line)
			}
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading stdin: %v\n", err)
			os.Exit(1)
		}
	}

	if len(texts) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: sentinel-rules check <text> [<text>...]\n")
		os.Exit(1)
	}

	os.Exit(runCheck(library, texts))
}

func runCheck(library *pattern.Library, texts []string) int {
	matched := 0
	for _, text := range texts {
		hits := 0
		for _, rule := range library.Rules() {
			evidence, ok := rule.Match(text)
			if !ok {
				continue
			}
			if hits == 0 {
				fmt.Printf("MATCH  %s\n", truncate(text, 80))
			}
			hits++
			fmt.Printf("       [%s] %s  conf=%.2f  evidence=%q\n",
				rule.Category, rule.Type, rule.BaseConfidence, truncate(evidence, 60))
		}
		if hits == 0 {
			fmt.Printf("clean  %s\n", truncate(text, 80))
		} else {
			matched++
		}
	}

	fmt.Printf("\nResults: %d of %d samples matched\n", matched, len(texts))

	if matched > 0 {
		return 1
	}
	return 0
}

func categoryNames() []string {
	names := make([]string, 0, len(schema.Categories))
	for _, c := range schema.Categories {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return names
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
