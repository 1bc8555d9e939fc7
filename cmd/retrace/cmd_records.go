package main

import (
	"fmt"

	"retrace/internal/records"
	"retrace/internal/source"

	"github.com/spf13/cobra"
)

// recordsCmd inspects the record definition cache
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect record definitions",
}

var recordsListCmd = &cobra.Command{
	Use:   "list module",
	Short: "List record definitions visible from a module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index := source.NewIndex(cfg.Source.Dirs, source.NewParser())
		recs := records.NewStore(index)
		names, err := recs.Load(args[0])
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Printf("no records in %s\n", args[0])
			return nil
		}
		for _, name := range recs.List() {
			def, _ := recs.Lookup(name)
			fmt.Printf("-record(%s, {", name)
			for i, f := range def.Fields {
				if i > 0 {
					fmt.Print(", ")
				}
				fmt.Print(f.Name)
			}
			fmt.Println("}).")
		}
		return nil
	},
}

var recordsShowCmd = &cobra.Command{
	Use:   "show module record",
	Short: "Show one record's positional layout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index := source.NewIndex(cfg.Source.Dirs, source.NewParser())
		recs := records.NewStore(index)
		if _, err := recs.Load(args[0]); err != nil {
			return err
		}
		def, ok := recs.Lookup(args[1])
		if !ok {
			return fmt.Errorf("record %s not defined in or reachable from %s", args[1], args[0])
		}
		fmt.Printf("#%s{} is a tuple of size %d\n", def.Name, len(def.Fields)+1)
		fmt.Printf("  element 1: %s (tag)\n", def.Name)
		for i, f := range def.Fields {
			fmt.Printf("  element %d: %s\n", i+2, f.Name)
		}
		return nil
	},
}

func init() {
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
}
