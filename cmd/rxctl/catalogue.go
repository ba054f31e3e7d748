package main

import (
	"fmt"
	"path/filepath"

	"github.com/bosocmputer/prescription_ocr_gemini/configs"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/bootstrap"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/handwriting"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/storage"
	"github.com/spf13/cobra"
)

func newSeedCatalogueCmd(opts *rootOptions) *cobra.Command {
	var (
		csvPath   string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "seed-catalogue",
		Short: "Upsert the medicine dataset CSV into MongoDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bootstrap.InitLogger(); err != nil {
				return err
			}
			if csvPath == "" {
				csvPath = configs.CATALOGUE_PATH
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			medicines, err := storage.NewCSVSource(csvPath).Load(ctx)
			if err != nil {
				return err
			}

			if err := storage.InitMongoDB(); err != nil {
				return err
			}
			defer storage.CloseMongoDB()
			collection := storage.GetMongoDB().Collection(configs.MONGO_MEDICINE_COLLECTION)

			if err := storage.EnsureMedicineIndexes(ctx, collection); err != nil {
				return err
			}
			written, err := storage.SeedMedicines(ctx, collection, medicines, batchSize)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.Output == "json" {
				return printJSON(out, map[string]any{
					"source":     csvPath,
					"collection": configs.MONGO_MEDICINE_COLLECTION,
					"read":       len(medicines),
					"written":    written,
				})
			}
			fmt.Fprintf(out, "Seeded %s.%s: %d records read, %d inserted or updated\n",
				configs.MONGO_DB_NAME, configs.MONGO_MEDICINE_COLLECTION, len(medicines), written)
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "dataset CSV (default: CATALOGUE_PATH)")
	cmd.Flags().IntVar(&batchSize, "batch", 500, "documents per bulk write")
	return cmd
}

func newInspectModelCmd(opts *rootOptions) *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:   "inspect-model",
		Short: "Load a handwriting model topology and show how it is pruned for inference",
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelPath == "" {
				modelPath = configs.HANDWRITING_MODEL_PATH
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			src := handwriting.DirSource{Root: filepath.Dir(modelPath)}
			artifact, report, err := handwriting.InspectModel(ctx, src, filepath.Base(modelPath))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.Output == "json" {
				return printJSON(out, report)
			}

			fmt.Fprintf(out, "Model:            %s\n", modelPath)
			fmt.Fprintf(out, "Prune version:    %s\n", report.Version)
			kept := 0
			if artifact.Topology != nil {
				kept = len(artifact.Topology.Layers)
			}
			fmt.Fprintf(out, "Layers kept:      %d\n", kept)
			fmt.Fprintf(out, "Removed layers:   %v\n", report.RemovedLayers)
			fmt.Fprintf(out, "Removed keys:     %v\n", report.RemovedKeys)
			fmt.Fprintf(out, "Inputs:           %v\n", report.Inputs)
			fmt.Fprintf(out, "Outputs:          %v\n", report.Outputs)
			fmt.Fprintf(out, "Renamed weights:  %d\n", len(report.RenamedWeights))
			for from, to := range report.RenamedWeights {
				fmt.Fprintf(out, "  %s -> %s\n", from, to)
			}
			if report.Supported() {
				fmt.Fprintln(out, "Executor support: all layers supported")
				return nil
			}
			fmt.Fprintln(out, "Executor support: unsupported layers found")
			for _, u := range report.Unsupported {
				fmt.Fprintf(out, "  %s (%s)\n", u.Name, u.ClassName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "model.json path (default: HANDWRITING_MODEL_PATH)")
	return cmd
}
