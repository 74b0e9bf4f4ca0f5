package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/veridia-health/psur-cli/internal/ingest"
	"github.com/veridia-health/psur-cli/internal/model"
	"github.com/veridia-health/psur-cli/internal/trace"
)

var (
	importFilePath    string
	importMappingPath string
	importCaseID      string
	importSheet       string
	importCharset     string
	importDelimiter   string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an evidence export into the case's evidence store",
	Long:  "Reads a complaint/sales/incident export (XLSX or CSV), normalizes rows into evidence atoms per the mapping file and writes them idempotently. Re-importing the same export is a no-op.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		mapping, err := loadMapping(importMappingPath)
		if err != nil {
			return err
		}

		header, rows, err := readExport(cmd, importFilePath)
		if err != nil {
			return err
		}

		result, err := ingest.Normalize(importCaseID, header, rows, *mapping)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		inserted, err := st.PutAtoms(ctx, result.Atoms)
		if err != nil {
			return eris.Wrap(err, "store evidence atoms")
		}

		rec := trace.NewRecorder(st)
		_, err = rec.Append(ctx, importCaseID, trace.Event{
			Type:      model.EventEvidenceIngested,
			EntityRef: filepath.Base(importFilePath),
			Summary:   "evidence export ingested",
			Payload: map[string]any{
				"evidence_type": string(mapping.Type),
				"atoms":         len(result.Atoms),
				"inserted":      inserted,
				"skipped_rows":  result.Skipped,
			},
		})
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.String("case", importCaseID),
			zap.String("file", importFilePath),
			zap.Int("atoms", len(result.Atoms)),
			zap.Int("inserted", inserted),
			zap.Int("deduplicated", len(result.Atoms)-inserted),
		)
		return nil
	},
}

// loadMapping reads the column mapping definition for one export format.
func loadMapping(path string) (*ingest.Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read mapping %s", path)
	}
	var m ingest.Mapping
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, eris.Wrapf(err, "decode mapping %s", path)
	}
	return &m, nil
}

// readExport dispatches on the file extension. CSV options come from flags
// with config defaults.
func readExport(cmd *cobra.Command, path string) (header []string, rows [][]string, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		sheetOpts := ingest.XLSXOptions{SheetName: importSheet}
		return ingest.ReadXLSX(path, sheetOpts)
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "open export %s", path)
		}
		defer f.Close()

		charset := importCharset
		if charset == "" {
			charset = cfg.Ingest.Charset
		}
		delimiter := importDelimiter
		if delimiter == "" {
			delimiter = cfg.Ingest.Delimiter
		}
		opts := ingest.CSVOptions{
			Charset:   charset,
			HasHeader: true,
			TrimSpace: true,
		}
		if len(delimiter) > 0 {
			opts.Delimiter = rune(delimiter[0])
		}
		return ingest.ReadCSV(cmd.Context(), f, opts)
	}
	return nil, nil, eris.Errorf("unsupported export format %q (xlsx|csv)", filepath.Ext(path))
}

func init() {
	importCmd.Flags().StringVar(&importFilePath, "file", "", "path to XLSX or CSV export (required)")
	importCmd.Flags().StringVar(&importMappingPath, "mapping", "", "path to column mapping YAML (required)")
	importCmd.Flags().StringVar(&importCaseID, "case", "", "case identifier (required)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	importCmd.Flags().StringVar(&importCharset, "charset", "", "CSV character set (default from config)")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", "CSV field delimiter (default from config)")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("mapping")
	_ = importCmd.MarkFlagRequired("case")
	rootCmd.AddCommand(importCmd)
}
