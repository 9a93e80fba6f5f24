package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"tradecore/internal/audit"
)

func main() {
	originalPath := flag.String("original", "", "Original audit trail (file or directory)")
	replayPath := flag.String("replay", "", "Replayed audit trail (file or directory)")
	prefix := flag.String("prefix", "audit", "Segment file prefix for directory inputs")
	verbose := flag.Bool("verbose", false, "Print every hash mismatch")
	flag.Parse()

	if *originalPath == "" || *replayPath == "" {
		log.Fatalf("both -original and -replay are required")
	}

	original, err := readTrail(*originalPath, *prefix)
	if err != nil {
		log.Fatalf("read original failed: %v", err)
	}
	replayed, err := readTrail(*replayPath, *prefix)
	if err != nil {
		log.Fatalf("read replay failed: %v", err)
	}

	var verifier audit.Verifier
	report := verifier.Verify(original, replayed)

	fmt.Printf("original=%d replay=%d mismatches=%d\n",
		report.OriginalLen, report.ReplayLen, len(report.Mismatches))
	if report.Deterministic {
		fmt.Println("deterministic: event streams match")
		return
	}

	limit := 10
	if *verbose {
		limit = len(report.Mismatches)
	}
	for i, m := range report.Mismatches {
		if i >= limit {
			fmt.Printf("... %d more\n", len(report.Mismatches)-limit)
			break
		}
		fmt.Printf("mismatch index=%d event=%s original=%s replay=%s\n", m.Index, m.EventType, m.OriginalHash, m.ReplayHash)
	}
	os.Exit(1)
}

func readTrail(path, prefix string) ([]map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return audit.ReadDir(path, prefix)
	}
	return audit.ReadFile(path)
}
