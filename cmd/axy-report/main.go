// axy-report renders an offline summary of agent activity from the
// counters snapshot and the outcome journal. It never talks to the
// network, so it can run while the agent is up or long after it died.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/kozmos-labs/axy/internal/journal"
	"github.com/kozmos-labs/axy/pkg/governor"
	_ "modernc.org/sqlite"
)

func main() {
	statsPath := flag.String("stats", "/data/axy-stats.json", "Path to counters snapshot")
	journalPath := flag.String("journal", "", "Path to outcome journal (optional)")
	window := flag.Duration("window", 24*time.Hour, "Journal reporting window")
	flag.Parse()

	if err := run(*statsPath, *journalPath, *window); err != nil {
		fmt.Fprintf(os.Stderr, "axy-report: %v\n", err)
		os.Exit(1)
	}
}

func run(statsPath, journalPath string, window time.Duration) error {
	data, err := os.ReadFile(statsPath)
	if err != nil {
		return fmt.Errorf("read stats %s: %w", statsPath, err)
	}
	var snap governor.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse stats %s: %w", statsPath, err)
	}

	printSnapshot(snap)

	if journalPath != "" {
		j, err := journal.Open(journalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()

		summary, err := j.Summarize(time.Now().Add(-window))
		if err != nil {
			return fmt.Errorf("summarize journal: %w", err)
		}
		printJournal(summary, window)
	}
	return nil
}

func printSnapshot(snap governor.Snapshot) {
	fmt.Println("== Counters (process lifetime) ==")
	var totalSent int64
	for _, n := range snap.Counters.SentByChannel {
		totalSent += n
	}
	fmt.Printf("sent:    %d\n", totalSent)
	for _, k := range sortedKeys(snap.Counters.SentByChannel) {
		fmt.Printf("  %-18s %d\n", k, snap.Counters.SentByChannel[k])
	}

	var totalSkipped int64
	for _, n := range snap.Counters.SkippedByReason {
		totalSkipped += n
	}
	fmt.Printf("skipped: %d\n", totalSkipped)
	for _, k := range sortedKeys(snap.Counters.SkippedByReason) {
		fmt.Printf("  %-18s %d\n", k, snap.Counters.SkippedByReason[k])
	}

	fmt.Printf("blocked: %d\n", snap.Governor.Blocked)
	for _, k := range sortedKeys(snap.Governor.BlockedByReason) {
		fmt.Printf("  %-18s %d\n", k, snap.Governor.BlockedByReason[k])
	}
}

func printJournal(s *journal.Summary, window time.Duration) {
	fmt.Printf("\n== Journal (last %s) ==\n", window)
	fmt.Printf("sent: %d  blocked: %d  skipped: %d\n", s.Sent, s.Blocked, s.Skipped)
	for _, k := range sortedStringKeys(s.SentByChannel) {
		fmt.Printf("  sent/%-12s %d\n", k, s.SentByChannel[k])
	}
	for _, k := range sortedStringKeys(s.ByReason) {
		fmt.Printf("  reason/%-10s %d\n", k, s.ByReason[k])
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
