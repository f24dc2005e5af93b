package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	dsync "github.com/docsync/docsync/internal/sync"
	"github.com/docsync/docsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <owner>",
	GroupID: "sync",
	Short:   "Pull newer remote records for an owner into the data directory",
	Long: `Import copies an owner's records from the remote store into the local
document store, table by table in plan order.

A remote record is written when it is missing locally or its updatedAt is
strictly newer. Soft-deleted records are included so deletes propagate.
The first failing table aborts the run; earlier tables stay written.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSync(cmd.Context(), dsync.DirectionImport, args[0])
	},
}

var exportCmd = &cobra.Command{
	Use:     "export <owner>",
	GroupID: "sync",
	Short:   "Push newer local records for an owner to the remote store",
	Long: `Export copies an owner's records from the local document store into the
remote store. Conflicts resolve the same way as import: the newer updatedAt
wins and equal timestamps are left alone.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSync(cmd.Context(), dsync.DirectionExport, args[0])
	},
}

func runSync(ctx context.Context, dir dsync.Direction, owner string) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	defer b.Close()

	progress := dsync.ObserverFunc(func(e dsync.Event) {
		if e.Type == dsync.EventTable && e.Table != nil {
			fmt.Printf("   %s %-16s %d fetched, %d written\n",
				ui.RenderPass("✓"), e.Table.Table, e.Table.Fetched, e.Table.Written)
		}
	})
	syncer, err := b.syncer(progress)
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("%s %s for owner %s (%s <-> %s)\n",
		ui.RenderAccent("🔄"), dir, owner, b.local.Dir(), b.remote.Dialect())

	var report *dsync.Report
	if dir == dsync.DirectionImport {
		report, err = syncer.Import(ctx, owner)
	} else {
		report, err = syncer.Export(ctx, owner)
	}
	if err != nil {
		if report != nil && report.FailedAt != "" {
			fmt.Fprintf(os.Stderr, "%s stopped at table %s after %d completed table(s)\n",
				ui.RenderFail("✗"), report.FailedAt, len(report.Tables))
		}
		fatalf("%v", err)
	}

	printReport(report)
}

func printReport(report *dsync.Report) {
	rows := make([][]string, 0, len(report.Tables))
	for _, t := range report.Tables {
		rows = append(rows, []string{
			t.Table,
			strconv.Itoa(t.Fetched),
			strconv.Itoa(t.Written),
			strconv.Itoa(t.Attempts),
			t.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Println()
	fmt.Println(ui.Table([]string{"TABLE", "FETCHED", "WRITTEN", "ATTEMPTS", "TIME"}, rows))
	fmt.Printf("\n%s %s complete: %d record(s) written in %v\n",
		ui.RenderPass("✓"), report.Direction, report.Written(),
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Println(ui.RenderMuted("   run " + report.RunID))
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
