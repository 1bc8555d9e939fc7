package main

import (
	"fmt"

	"retrace/internal/store"

	"github.com/spf13/cobra"
)

var archiveLimit int

// archiveCmd browses past reconstructions
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Browse archived reconstructions",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived reconstructions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := store.NewArchive(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer a.Close()
		recs, err := a.List(archiveLimit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("archive is empty")
			return nil
		}
		for _, r := range recs {
			fmt.Printf("%s  %s  %-8s  %s:%s/%d\n",
				r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status,
				r.Module, r.Function, r.Arity)
		}
		return nil
	},
}

var archiveShowCmd = &cobra.Command{
	Use:   "show id",
	Short: "Print one archived reconstruction document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := store.NewArchive(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer a.Close()
		rec, err := a.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Print(rec.Document)
		return nil
	},
}

func init() {
	archiveListCmd.Flags().IntVar(&archiveLimit, "limit", 20, "maximum entries to list")
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveShowCmd)
}
