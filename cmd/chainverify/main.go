// Command chainverify is a standalone tool for verifying the integrity of
// an event store data directory.
//
// It opens no writer and mutates nothing, making it suitable for:
// - Offline verification of copied or archived data directories
// - Third-party audits
// - Automated verification pipelines
//
// Usage:
//
//	chainverify [flags] <data-dir>
//
// Examples:
//
//	# Basic verification
//	chainverify /var/lib/eventstore/data
//
//	# JSON output for programmatic processing
//	chainverify -format json /var/lib/eventstore/data
//
//	# Quiet mode for scripts: exit code carries the result
//	chainverify -quiet /var/lib/eventstore/data
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"eventstore/internal/logging"
	"eventstore/internal/segment"
	"eventstore/internal/verify"
)

var (
	// Version information (set at build time)
	version = "dev"
	commit  = "unknown"
)

func main() {
	prefix := flag.String("prefix", segment.DefaultPrefix, "segment file name prefix")
	format := flag.String("format", "text", "output format: text, json")
	quiet := flag.Bool("quiet", false, "quiet mode - only the exit code carries the result")
	exitCode := flag.Bool("exit-code", true, "exit with non-zero code on verification failure")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "chainverify - Verify an event store hash chain\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <data-dir>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("chainverify %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: data directory required\n\n")
		flag.Usage()
		os.Exit(2)
	}
	dataDir := flag.Arg(0)

	if info, err := os.Stat(dataDir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "Error: %s is not a readable directory\n", dataDir)
		os.Exit(2)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LevelError
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	reader := segment.NewReader(dataDir, *prefix, log)
	result, err := verify.NewVerifier(reader).Verify()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error verifying chain: %v\n", err)
		os.Exit(2)
	}

	if !*quiet {
		switch *format {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding result: %v\n", err)
				os.Exit(2)
			}
		default:
			fmt.Println(result.String())
		}
	}

	if !result.Valid && *exitCode {
		os.Exit(1)
	}
}
