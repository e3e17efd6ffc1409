package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"imgharvest/pkg/category"
	"imgharvest/pkg/query"
	"imgharvest/pkg/ui"
)

var showQueries bool

// categoriesCmd prints what a source file parses to without downloading
var categoriesCmd = &cobra.Command{
	Use:   "categories <source-file>",
	Short: "List the categories parsed from a source file",
	Long: `List the categories parsed from a source file with their hints and
output directory names. Categories that share a directory are reported.`,
	Args: cobra.ExactArgs(1),
	RunE: runCategories,
}

func init() {
	rootCmd.AddCommand(categoriesCmd)
	categoriesCmd.Flags().BoolVar(&showQueries, "queries", false, "also show the search query of each category")
}

func runCategories(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	cats, err := category.NewParser(cfg.Source.HeaderMarkers).Load(args[0])
	if err != nil {
		ui.PrintError("Failed to load categories", err.Error())
		return exitWith(1, err)
	}

	var builder *query.Builder
	if showQueries {
		builder = query.NewBuilder(cfg.Search.QueryTemplate)
	}
	renderCategories(os.Stdout, cats, len(cats), builder)

	collisions := category.Collisions(cats)
	if len(collisions) == 0 {
		return nil
	}

	dirs := make([]string, 0, len(collisions))
	for dir := range collisions {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	fmt.Println()
	ui.PrintWarning("Categories sharing a directory", "")
	for _, dir := range dirs {
		names := make([]string, 0, len(collisions[dir]))
		for _, c := range collisions[dir] {
			names = append(names, c.Name)
		}
		fmt.Printf("  %s: %s\n", dir, strings.Join(names, ", "))
	}
	return nil
}

// renderCategories writes cats as a table whose footer counts total
// categories. A non-nil builder adds the search query column.
func renderCategories(w io.Writer, cats []category.Category, total int, builder *query.Builder) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	header := table.Row{"#", "Category", "Hint", "Directory"}
	if builder != nil {
		header = append(header, "Query")
	}
	t.AppendHeader(header)
	for _, c := range cats {
		hint := ""
		if c.HasHint() {
			hint = strconv.Itoa(c.Hint)
		}
		row := table.Row{c.Index, c.Name, hint, c.DirName()}
		if builder != nil {
			row = append(row, builder.Build(c.Name))
		}
		t.AppendRow(row)
	}
	footer := fmt.Sprintf("%d categories", total)
	if hidden := total - len(cats); hidden > 0 {
		footer = fmt.Sprintf("%d of %d categories, %d more not shown", len(cats), total, hidden)
	}
	t.AppendFooter(table.Row{"", footer})
	t.Render()
}
