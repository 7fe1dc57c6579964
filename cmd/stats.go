package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/iruzo/rimap/naming"
)

const unknownYear = "unknown"

// ArchiveStats counts archived messages by sender and by year.
type ArchiveStats struct {
	Total   int
	Senders map[string]int
	Years   map[string]int
}

// NewStatsCommand analyses an archive directory and shows the top senders and
// message counts per year.
func NewStatsCommand() *cobra.Command {
	var (
		reportDir string
		topN      int
	)

	cmd := &cobra.Command{
		Use:   "stats <archive_dir>",
		Short: "Analyse an archive directory and show statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := CollectArchiveStats(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			pterm.Info.WithWriter(out).Printfln("Messages in %s: %d", args[0], st.Total)

			if err := printTable(out, "Year", sortedPairs(st.Years, false), 0); err != nil {
				return err
			}
			if err := printTable(out, "Sender", sortedPairs(st.Senders, true), topN); err != nil {
				return err
			}

			if reportDir == "" {
				return nil
			}
			if err := saveCSVReports(st, reportDir); err != nil {
				return fmt.Errorf("save CSV reports: %w", err)
			}
			pterm.Success.WithWriter(out).Printfln("Reports saved to directory: %s", reportDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reportDir, "output", "o", "", "Directory for CSV reports (none written when empty)")
	cmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top senders to display")
	return cmd
}

// CollectArchiveStats walks dir, including per-account subdirectories, and
// counts every archive file it finds.
func CollectArchiveStats(dir string) (ArchiveStats, error) {
	st := ArchiveStats{Senders: map[string]int{}, Years: map[string]int{}}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ts, sender, ok := naming.Parse(d.Name())
		if !ok {
			return nil
		}

		st.Total++
		st.Senders[sender]++
		year := unknownYear
		if len(ts) == 14 && ts[:4] != "0000" {
			year = ts[:4]
		}
		st.Years[year]++
		return nil
	})
	if err != nil {
		return ArchiveStats{}, fmt.Errorf("walk archive: %w", err)
	}
	return st, nil
}

type pair struct {
	Key   string
	Count int
}

// sortedPairs orders counts by count descending when byCount is set, by key
// otherwise.
func sortedPairs(counts map[string]int, byCount bool) []pair {
	pairs := make([]pair, 0, len(counts))
	for k, v := range counts {
		pairs = append(pairs, pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if byCount && pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Key < pairs[j].Key
	})
	return pairs
}

func printTable(w io.Writer, title string, pairs []pair, limit int) error {
	if len(pairs) == 0 {
		return nil
	}
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}

	data := pterm.TableData{{title, "Messages"}}
	for _, p := range pairs {
		data = append(data, []string{p.Key, strconv.Itoa(p.Count)})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
}

func saveCSVReports(st ArchiveStats, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	reports := []struct {
		file  string
		title string
		pairs []pair
	}{
		{file: "report_senders.csv", title: "Sender", pairs: sortedPairs(st.Senders, true)},
		{file: "report_years.csv", title: "Year", pairs: sortedPairs(st.Years, false)},
	}

	for _, r := range reports {
		if err := writeCSV(filepath.Join(dir, r.file), r.title, r.pairs); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(path, title string, pairs []pair) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{title, "Count"}); err != nil {
		file.Close()
		return err
	}
	for _, p := range pairs {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Count)}); err != nil {
			file.Close()
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
