package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/example/ingrediscan/internal/projector"
	"github.com/example/ingrediscan/internal/usecase"
)

// errScanFailed signals a scan that ended on the failure surface.
var errScanFailed = errors.New("scan failed")

func (a *app) cmdScan(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("scan: expected one image path")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	state, err := a.pipeline.Scan(ctx, usecase.Capture{Name: filepath.Base(args[0]), Data: data})
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidInput) {
			return errors.New(state.InputError)
		}
		return err
	}

	if state.Failed {
		fmt.Fprintf(out, "Error (%s): %s\n", state.Result.ErrorType, state.Result.Error)
		return errScanFailed
	}

	b := projector.Build(state.Result, a.allergens.Selected())
	printBreakdown(out, state.Result.Summary, b)
	fmt.Fprintf(out, "\nSaved as %s (%s)\n", state.RecordID, state.HistoryOutcome)
	return nil
}

func (a *app) cmdHistory(ctx context.Context, args []string, out io.Writer) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		records := a.history.List()
		if len(records) == 0 {
			fmt.Fprintln(out, "No scans yet.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tWHEN\tGRADE\tSCORE\tPRODUCT")
		for _, r := range records {
			when := "unknown"
			if !r.Date.IsZero() {
				when = humanize.Time(r.Date)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\n", r.ID, when, r.Grade, r.Score, r.ProductName)
		}
		return tw.Flush()
	case "show":
		if len(args) != 1 {
			return errors.New("history show: expected an id")
		}
		rec, ok := a.history.Get(args[0])
		if !ok {
			return fmt.Errorf("history show: no scan %s", args[0])
		}
		fmt.Fprintf(out, "%s  %s\n", rec.ID, rec.Date.Format("2006-01-02 15:04"))
		printBreakdown(out, rec.Analysis.Summary, projector.Build(rec.Analysis, a.allergens.Selected()))
		return nil
	case "rm":
		if len(args) != 1 {
			return errors.New("history rm: expected an id")
		}
		if !a.history.Remove(ctx, args[0]) {
			fmt.Fprintf(out, "No scan %s\n", args[0])
			return nil
		}
		fmt.Fprintf(out, "Removed %s\n", args[0])
		return nil
	case "summary":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(usecase.SummarizeHistory(a.history))
	default:
		return fmt.Errorf("history: unknown subcommand %q", sub)
	}
}

func (a *app) cmdAllergens(ctx context.Context, args []string, out io.Writer) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		selected := make(map[string]bool)
		for _, n := range a.allergens.Selected() {
			selected[n] = true
		}
		for _, n := range projector.AllergenNames() {
			mark := " "
			if selected[n] {
				mark = "x"
			}
			fmt.Fprintf(out, "[%s] %s\n", mark, n)
		}
		return nil
	case "set":
		return a.allergens.Set(ctx, args)
	case "toggle":
		if len(args) != 1 {
			return errors.New("allergens toggle: expected one name")
		}
		return a.allergens.Toggle(ctx, args[0])
	default:
		return fmt.Errorf("allergens: unknown subcommand %q", sub)
	}
}

func printBreakdown(out io.Writer, summary string, b projector.Breakdown) {
	fmt.Fprintf(out, "Grade %s (%s, %d%%)\n", b.Badge.Grade, b.Badge.Label, b.Badge.Score)
	if summary != "" {
		fmt.Fprintln(out, summary)
	}
	if b.LowConfidence {
		fmt.Fprintln(out, "Warning: low confidence, the label may be hard to read.")
	}
	if len(b.AllergenHits) > 0 {
		fmt.Fprintf(out, "Allergens: %s\n", strings.Join(b.AllergenHits, ", "))
	}
	section := func(title string, items []projector.Ingredient) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(out, "\n%s\n", title)
		for _, ing := range items {
			name := ing.Name
			if ing.Code != "" {
				name += " (" + ing.Code + ")"
			}
			fmt.Fprintf(out, "  - %s: %s\n", name, ing.Description)
		}
	}
	section("High risk", b.HighRisk)
	section("Moderate risk", b.ModerateRisk)
	if len(b.Alternatives) > 0 {
		fmt.Fprintf(out, "\nAlternatives: %s\n", strings.Join(b.Alternatives, ", "))
	}
}
