package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camden-git/faceingest/database"
	"github.com/camden-git/faceingest/services"
)

var (
	tagProcessedPath string
	tagFaceIndex     int
	tagLabel         string
	tagType          string
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Attach a label to one face of a processed photo",
	Example: `  faceingest tag --processed-path /photos/processed/IMG_0001.jpg --face 0 --tag alice
  faceingest tag --processed-path /photos/processed/IMG_0001.jpg --face 1 --tag rex --type pet`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(false)
		if err != nil {
			return err
		}
		defer closeStore(db)

		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
		}
		svc := services.NewTaggingService(database.NewTagStore(sqlDB, cfg.DatabaseDriver))

		view, err := svc.TagFace(cmd.Context(), tagProcessedPath, tagFaceIndex, tagLabel, tagType)
		if err != nil {
			return err
		}
		t := view.Tags[fmt.Sprint(tagFaceIndex)]
		fmt.Fprintf(cmd.OutOrStdout(), "face %d of %s tagged as %q (%s)\n", tagFaceIndex, view.ProcessedPath, t.Tag, t.Type)
		return nil
	},
}

func init() {
	tagCmd.Flags().StringVar(&tagProcessedPath, "processed-path", "", "processed image path as stored in the metadata")
	tagCmd.Flags().IntVar(&tagFaceIndex, "face", 0, "zero-based face index")
	tagCmd.Flags().StringVar(&tagLabel, "tag", "", "label to attach")
	tagCmd.Flags().StringVar(&tagType, "type", services.DefaultTagType, "tag type")
	_ = tagCmd.MarkFlagRequired("processed-path")
	_ = tagCmd.MarkFlagRequired("face")
	_ = tagCmd.MarkFlagRequired("tag")
	rootCmd.AddCommand(tagCmd)
}
