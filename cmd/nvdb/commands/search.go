package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nounverb/nvdb/pkg/query"
)

var (
	searchK        int
	searchNounType string
)

var searchCmd = &cobra.Command{
	Use:   "search <vector-json>",
	Short: "Run a k-nearest-neighbor query against a vector, e.g. '[0.1, 0.2, 0.3]'",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var vector []float32
		if err := json.Unmarshal([]byte(args[0]), &vector); err != nil {
			return fmt.Errorf("parse vector: %w", err)
		}

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Shutdown(cmd.Context())

		var filter *query.Filter
		if searchNounType != "" {
			filter = &query.Filter{NounType: searchNounType}
		}

		results, err := db.Search(cmd.Context(), vector, searchK, filter)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchK, "k", 10, "number of nearest neighbors to return")
	searchCmd.Flags().StringVar(&searchNounType, "noun-type", "", "restrict results to this noun type")
	rootCmd.AddCommand(searchCmd)
}
