package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/docsync/docsync/internal/record"
	"github.com/docsync/docsync/internal/relation"
	"github.com/docsync/docsync/internal/ui"
)

var getCmd = &cobra.Command{
	Use:     "get <table> [id]",
	GroupID: "data",
	Short:   "Print records from the local or remote store",
	Long: `Print one record by id, or every record matching --where conditions,
as JSON.

Conditions are field=value; values are parsed as JSON when possible, so
--where done=true matches a boolean and --where 'tags={"$in":["a"]}' matches
array membership. Soft-deleted records are hidden unless --deleted is set.

Examples:
  docsync get todos --where userId=u1
  docsync get todos t1 --with todoTree
  docsync get tasks --backend remote --deleted`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		backend, _ := cmd.Flags().GetString("backend")
		where, _ := cmd.Flags().GetStringArray("where")
		with, _ := cmd.Flags().GetString("with")
		deleted, _ := cmd.Flags().GetBool("deleted")
		ctx := cmd.Context()

		b, err := openBackends(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer b.Close()

		reader, err := b.store(backend)
		if err != nil {
			fatalf("%v", err)
		}

		var specs []relation.Spec
		if with != "" {
			presets, err := loadPresets()
			if err != nil {
				fatalf("%v", err)
			}
			if specs, err = presets.Lookup(with); err != nil {
				fatalf("%v", err)
			}
		}
		resolver := relation.New(reader, logger)
		table := args[0]

		var out any
		if len(args) == 2 {
			out, err = resolver.Get(ctx, table, args[1], specs)
		} else {
			filter, ferr := record.ParseFilter(where)
			if ferr != nil {
				fatalf("%v", ferr)
			}
			if deleted {
				filter = filter.IncludingDeleted()
			}
			rows, lerr := reader.GetAllByField(ctx, table, filter)
			if lerr == nil && len(specs) > 0 {
				rows, lerr = resolver.ResolveAll(ctx, rows, specs)
			}
			out, err = rows, lerr
		}
		if err != nil {
			fatalf("%v", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fatalf("writing output: %v", err)
		}
	},
}

var purgeCmd = &cobra.Command{
	Use:     "purge <table> <id>",
	GroupID: "data",
	Short:   "Permanently remove a record",
	Long: `Purge physically removes a record instead of marking it deleted.

Purged records do not propagate through sync: the other side keeps its copy
and a later import or export may bring it back. Prefer soft deletes for
anything that is synced.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		backend, _ := cmd.Flags().GetString("backend")
		yes, _ := cmd.Flags().GetBool("yes")
		table, id := args[0], args[1]
		ctx := cmd.Context()

		if !yes {
			if !ui.IsInteractive() {
				fatalf("refusing to purge without --yes when not attached to a terminal")
			}
			confirmed := false
			prompt := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Permanently remove %s/%s from the %s store?", table, id, backend)).
					Description("This cannot be undone and is not synced.").
					Affirmative("Purge").
					Negative("Cancel").
					Value(&confirmed),
			))
			if err := prompt.Run(); err != nil {
				fatalf("%v", err)
			}
			if !confirmed {
				fmt.Printf("%s Purge cancelled\n", ui.RenderWarn("⚠"))
				return
			}
		}

		b, err := openBackends(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer b.Close()

		s, err := b.store(backend)
		if err != nil {
			fatalf("%v", err)
		}
		if err := s.HardDelete(ctx, table, id); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Purged %s/%s from %s\n", ui.RenderPass("✓"), table, id, backend)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and per-table record counts",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		b, err := openBackends(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer b.Close()

		fmt.Printf("\n%s docsync status\n\n", ui.RenderAccent("📊"))
		configFile := cfg.File
		if configFile == "" {
			configFile = "(defaults)"
		}
		fmt.Println(ui.Field("config", configFile))
		fmt.Println(ui.Field("data dir", b.local.Dir()))
		fmt.Println(ui.Field("remote", b.remote.Dialect()))

		rows, err := tableCounts(ctx, b)
		if err != nil {
			fatalf("%v", err)
		}
		if len(rows) == 0 {
			fmt.Printf("\n%s No tables yet\n\n", ui.RenderWarn("⚠"))
			return
		}

		fmt.Println()
		fmt.Println(ui.Table([]string{"TABLE", "LOCAL", "REMOTE"}, rows))
		fmt.Println()
	},
}

// tableCounts returns one {table, local, remote} row per table known to
// either backend. A table missing from a backend counts as 0 and is not
// created.
func tableCounts(ctx context.Context, b *backends) ([][]string, error) {
	localTables, err := b.local.Tables(ctx)
	if err != nil {
		return nil, err
	}
	remoteTables, err := b.remote.Tables(ctx)
	if err != nil {
		return nil, err
	}

	present := map[string]map[string]bool{"local": {}, "remote": {}}
	for _, t := range localTables {
		present["local"][t] = true
	}
	for _, t := range remoteTables {
		present["remote"][t] = true
	}

	names := map[string]bool{}
	for _, t := range append(localTables, remoteTables...) {
		names[t] = true
	}
	tables := make([]string, 0, len(names))
	for t := range names {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	rows := make([][]string, 0, len(tables))
	for _, t := range tables {
		row := []string{t}
		for _, backend := range []string{"local", "remote"} {
			count := "0"
			if present[backend][t] {
				count = countLive(ctx, b, backend, t)
			}
			row = append(row, count)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// countLive counts the non-deleted records of a table, or "-" on error.
func countLive(ctx context.Context, b *backends, backend, table string) string {
	s, err := b.store(backend)
	if err != nil {
		return "-"
	}
	rows, err := s.GetAllByField(ctx, table, record.Filter{})
	if err != nil {
		return "-"
	}
	return fmt.Sprint(len(rows))
}

func init() {
	getCmd.Flags().String("backend", "local", "store to read: local or remote")
	getCmd.Flags().StringArray("where", nil, "field=value condition (repeatable)")
	getCmd.Flags().String("with", "", "relation preset to resolve")
	getCmd.Flags().Bool("deleted", false, "include soft-deleted records")

	purgeCmd.Flags().String("backend", "local", "store to purge from: local or remote")
	purgeCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(statusCmd)
}
