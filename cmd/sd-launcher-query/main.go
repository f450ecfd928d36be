package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/gocarina/gocsv"

	"sd-launcher/internal/config"
	"sd-launcher/internal/database"
	"sd-launcher/internal/exitcodes"
)

func main() {
	dbPath := flag.String("db", "", "Path to run database (default: the daemon's default path)")
	recent := flag.Int("recent", 0, "Show N most recent runs")
	prompt := flag.String("prompt", "", "Show runs whose prompt contains this text")
	stats := flag.Bool("stats", false, "Show run statistics")
	ratings := flag.Bool("ratings", false, "Show the number of runs per rating")
	prune := flag.Int("prune", 0, "Delete runs that ended more than N days ago")
	dbInfo := flag.Bool("db-info", false, "Show database size and row counts")
	days := flag.Int("days", 30, "Number of days for statistics, 0 for all")
	jsonOutput := flag.Bool("json", false, "Output in JSON format")
	csvOutput := flag.Bool("csv", false, "Output runs as CSV")
	flag.Parse()

	path := *dbPath
	if path == "" {
		path = config.DefaultDatabasePath()
	}

	db, err := database.NewRunDB(path)
	if err != nil {
		log.Fatalf("ERROR: Failed to open database %s: %v", path, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("ERROR: Failed to close database: %v", err)
		}
	}()

	out := output{json: *jsonOutput, csv: *csvOutput}

	switch {
	case *stats:
		showStats(db, *days, out)
	case *ratings:
		showRatings(db, out)
	case *dbInfo:
		showDBInfo(db, out)
	case *prune > 0:
		n, err := db.DeleteOldRuns(*prune)
		if err != nil {
			log.Fatalf("ERROR: Failed to prune runs: %v", err)
		}
		if err := db.Vacuum(); err != nil {
			log.Printf("WARNING: vacuum failed: %v", err)
		}
		fmt.Printf("Deleted %d runs older than %d days\n", n, *prune)
	case *recent > 0 || *prompt != "":
		runs, err := db.ListRuns(database.RunFilter{Prompt: *prompt, Limit: *recent})
		if err != nil {
			log.Fatalf("ERROR: Failed to query runs: %v", err)
		}
		out.runs(runs)
	default:
		flag.Usage()
		fmt.Println("\nExamples:")
		fmt.Println("  sd-launcher-query --recent 10            # Show 10 most recent runs")
		fmt.Println("  sd-launcher-query --prompt castle        # Runs whose prompt mentions castle")
		fmt.Println("  sd-launcher-query --recent 100 --csv     # Export runs as CSV")
		fmt.Println("  sd-launcher-query --stats --days 7       # Statistics for the last week")
		fmt.Println("  sd-launcher-query --prune 90             # Delete runs older than 90 days")
		os.Exit(exitcodes.InvalidConfig)
	}
}

type output struct {
	json bool
	csv  bool
}

func (o output) runs(runs []database.Run) {
	switch {
	case o.csv:
		if err := gocsv.Marshal(runs, os.Stdout); err != nil {
			log.Fatalf("ERROR: Failed to write CSV: %v", err)
		}
	case o.json:
		printJSON(runs)
	default:
		printRuns(runs)
	}
}

func showStats(db *database.RunDB, days int, out output) {
	stats, err := db.GetRunStats(days)
	if err != nil {
		log.Fatalf("ERROR: Failed to get statistics: %v", err)
	}

	if out.json {
		printJSON(stats)
		return
	}

	if days > 0 {
		fmt.Printf("Run Statistics (Last %d days)\n", days)
		fmt.Printf("Period: %s to %s\n\n", stats.StartDate.Format("2006-01-02"), stats.EndDate.Format("2006-01-02"))
	} else {
		fmt.Printf("Run Statistics (all history)\n\n")
	}
	fmt.Printf("Total Runs:      %d\n", stats.TotalRuns)
	fmt.Printf("Completed:       %d\n", stats.Completed)
	fmt.Printf("Failed:          %d\n", stats.Failed)
	fmt.Printf("Images Created:  %d\n", stats.ImagesCreated)
	fmt.Printf("Rated:           %d (avg %.2f)\n", stats.Rated, stats.AvgRating)
	fmt.Printf("Avg Duration:    %.1fs\n", stats.AvgElapsedMS/1000)
	fmt.Printf("Total Duration:  %s\n", stats.TotalElapsed)
}

func showRatings(db *database.RunDB, out output) {
	counts, err := db.GetRatingCounts()
	if err != nil {
		log.Fatalf("ERROR: Failed to count ratings: %v", err)
	}
	if out.json {
		printJSON(counts)
		return
	}

	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		label := fmt.Sprintf("%d stars", k)
		if k == 0 {
			label = "unrated"
		}
		fmt.Printf("  %-10s %d\n", label, counts[k])
	}
}

func showDBInfo(db *database.RunDB, out output) {
	info, err := db.GetDatabaseStats()
	if err != nil {
		log.Fatalf("ERROR: Failed to read database stats: %v", err)
	}
	if out.json {
		printJSON(info)
		return
	}
	fmt.Printf("Runs:        %d\n", info["total_runs"])
	fmt.Printf("Queue Items: %d\n", info["queue_items"])
	if size, ok := info["database_size_bytes"].(int64); ok {
		fmt.Printf("Size:        %s\n", formatBytes(size))
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func printRuns(runs []database.Run) {
	if len(runs) == 0 {
		fmt.Println("No runs found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tEnded\tStatus\tRating\tDuration\tImage\tPrompt")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t------\t--------\t-----\t------")

	for _, r := range runs {
		rating := "-"
		if r.Rating > 0 {
			rating = fmt.Sprintf("%d", r.Rating)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1fs\t%s\t%s\n",
			r.ID, r.EndedAt.Local().Format("2006-01-02 15:04:05"), r.Status, rating,
			float64(r.ElapsedMS)/1000, r.ImageName, truncate(r.Prompt, 60))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
