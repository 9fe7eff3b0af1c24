package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camden-git/faceingest/models"
	"github.com/camden-git/faceingest/repository"
)

var (
	showProcessedPath string
	showOriginalPath  string
	showLimit         int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print stored metadata as JSON",
	Long: `Print the metadata record for one photo, looked up by processed or original path.
Without a path, print up to --limit records.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showProcessedPath != "" && showOriginalPath != "" {
			return errors.New("use only one of --processed-path and --original-path")
		}

		db, err := openStore(false)
		if err != nil {
			return err
		}
		defer closeStore(db)
		repo := repository.NewImageMetadataRepository(db)
		ctx := cmd.Context()

		var out interface{}
		var record *models.ImageMetadata
		switch {
		case showProcessedPath != "":
			record, err = repo.GetByProcessedPath(ctx, showProcessedPath)
			out = record
		case showOriginalPath != "":
			record, err = repo.GetByOriginalPath(ctx, showOriginalPath)
			out = record
		default:
			out, err = repo.List(ctx, showLimit, 0)
		}
		if err != nil {
			if errors.Is(err, repository.ErrRecordNotFound) {
				return fmt.Errorf("no metadata found: %w", err)
			}
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	showCmd.Flags().StringVar(&showProcessedPath, "processed-path", "", "look up by processed image path")
	showCmd.Flags().StringVar(&showOriginalPath, "original-path", "", "look up by original image path")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "number of records to list when no path is given")
	rootCmd.AddCommand(showCmd)
}
