// Command slidebank ingests, searches and stitches slide decks.
//
// Usage:
//
//	slidebank [-config slidebank.yaml] ingest deck1.pptx deck2.pptx
//	slidebank search -text budget -from 2024-01-01 [-xlsx results.xlsx] [-json]
//	slidebank stitch -out combined.pptx <slide-id> <slide-id> ...
//	slidebank tui [deck.pptx ...]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/slidebank/slidebank"
	"github.com/slidebank/slidebank/ingest"
	"github.com/slidebank/slidebank/query"
	"github.com/slidebank/slidebank/tui"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := slidebank.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	logger, logFile, err := cfg.NewLogger(logConsole(cmd))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer logFile.Close()

	app, err := slidebank.New(cfg, slidebank.WithLogger(logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		logFile.Close()
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "ingest":
		err = runIngest(ctx, app, args, os.Stdout)
	case "search":
		err = runSearch(ctx, app, args, os.Stdout)
	case "stitch":
		err = runStitch(ctx, app, args, os.Stdout)
	case "tui":
		_, err = tea.NewProgram(tui.New(ctx, app, args), tea.WithAltScreen()).Run()
	default:
		usage()
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		app.Close()
		logFile.Close()
		os.Exit(1)
	}
}

// logConsole is where log records are echoed besides the log file. The TUI
// owns the terminal, so it logs to the file only.
func logConsole(cmd string) io.Writer {
	if cmd == "tui" {
		return nil
	}
	return os.Stderr
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: slidebank [-config file] <command> [flags] [args]

Commands:
  ingest <file.pptx>...    store decks and render slide previews
  search [flags]           find slides (-text, -title, -from, -to, -xlsx, -json)
  stitch -out <file> <id>...  build a deck from slide ids, in the given order
  tui [file.pptx]...       interactive search and stitch
`)
}

func runIngest(ctx context.Context, app slidebank.App, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print the batch as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	batch, err := app.IngestFiles(ctx, fs.Args())
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(w, batch)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, o := range batch.Outcomes {
		detail := fmt.Sprintf("%d slides, %s previews", o.Slides, o.Previews)
		if o.Status != ingest.StatusIngested {
			detail = o.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Status, o.Path, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	ingested, skipped, failed := batch.Counts()
	fmt.Fprintf(w, "batch %s: %d ingested, %d skipped, %d failed\n", batch.ID, ingested, skipped, failed)
	return nil
}

func runSearch(ctx context.Context, app slidebank.App, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	var c query.Criteria
	fs.StringVar(&c.Text, "text", "", "Substring of slide text or notes")
	fs.StringVar(&c.Title, "title", "", "Substring of deck file name")
	fs.StringVar(&c.TimeRange.From, "from", "", "Earliest deck modification date (YYYY-MM-DD)")
	fs.StringVar(&c.TimeRange.To, "to", "", "Latest deck modification date (YYYY-MM-DD)")
	xlsx := fs.String("xlsx", "", "Also write the results to this .xlsx file")
	asJSON := fs.Bool("json", false, "Print results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	results, err := app.SearchSlides(ctx, c)
	if err != nil {
		return err
	}
	if *xlsx != "" {
		if _, err := app.ExportResults(ctx, c, *xlsx); err != nil {
			return fmt.Errorf("exporting results: %w", err)
		}
	}
	if *asJSON {
		return writeJSON(w, results)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDECK\tSLIDE\tMODIFIED\tTEXT")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Hash, r.DeckName, r.SlideNumber, r.DeckModified, r.Snippet)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d slides\n", len(results))
	return nil
}

func runStitch(ctx context.Context, app slidebank.App, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("stitch", flag.ContinueOnError)
	out := fs.String("out", "", "Output .pptx path (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("stitch: -out is required")
	}

	summary, err := app.StitchSlides(ctx, fs.Args(), *out)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "saved %d slides from %d decks to %s\n", summary.Slides, len(summary.Plan.Groups), summary.Path)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
