package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var insertMetadata []string

var insertCmd = &cobra.Command{
	Use:   "insert <vector-json>",
	Short: "Insert a single vector, e.g. '[0.1, 0.2, 0.3]'",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var vector []float32
		if err := json.Unmarshal([]byte(args[0]), &vector); err != nil {
			return fmt.Errorf("parse vector: %w", err)
		}

		metadata, err := parseMetadataFlags(insertMetadata)
		if err != nil {
			return err
		}

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Shutdown(cmd.Context())

		id, err := db.Insert(cmd.Context(), vector, metadata)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

func init() {
	insertCmd.Flags().StringArrayVar(&insertMetadata, "metadata", nil, "metadata field as key=value, repeatable")
	rootCmd.AddCommand(insertCmd)
}

// parseMetadataFlags turns repeated "key=value" flags into a metadata
// map. Every value is stored as a string; numeric or boolean metadata
// must be set through the programmatic API.
func parseMetadataFlags(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --metadata %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
