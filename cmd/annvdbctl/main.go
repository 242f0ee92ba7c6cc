// Command annvdbctl is a thin informational CLI over a storage
// directory's database: open it (read-write, through annvdb.Open), report
// Stats/Health, and trigger a snapshot or compaction. It does not
// implement insert/query — those are
// the annvdb package's API, consumed by an embedding host process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xDarkicex/annvdb"
)

var (
	flagStoragePath string
	flagPrefix      string
	flagMode        string
	flagDim         int32
	flagCapacity    int32
	flagSeed        uint32
	flagThreshold   float64
	flagAutoRebuild bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "annvdbctl",
		Short: "Inspect and maintain an annvdb storage directory",
	}
	root.PersistentFlags().StringVar(&flagStoragePath, "storage-path", "", "storage directory (required)")
	root.PersistentFlags().StringVar(&flagPrefix, "prefix", "", "collection file prefix within storage-path")
	root.PersistentFlags().StringVar(&flagMode, "mode", "balanced", "tuning preset: fast, balanced, or accurate")
	root.PersistentFlags().Int32Var(&flagDim, "dim", 128, "vector dimension")
	root.PersistentFlags().Int32Var(&flagCapacity, "capacity", 100_000, "maximum number of vectors")
	root.PersistentFlags().Uint32Var(&flagSeed, "seed", 0, "HNSW level-generator seed (0 means a fixed default)")
	root.PersistentFlags().Float64Var(&flagThreshold, "deleted-rebuild-threshold", 0.2, "deleted/total ratio that triggers a non-compact rebuild")
	root.PersistentFlags().BoolVar(&flagAutoRebuild, "auto-rebuild-on-load", true, "rebuild from the f32 store if the dump is absent or corrupt")
	root.MarkPersistentFlagRequired("storage-path")

	root.AddCommand(statsCmd(), healthCmd(), snapshotCmd(), compactCmd())
	return root
}

func openFromFlags() (*annvdb.DB, error) {
	return annvdb.Open(
		annvdb.WithStoragePath(flagStoragePath),
		annvdb.WithPrefix(flagPrefix),
		annvdb.WithMode(annvdb.Mode(flagMode)),
		annvdb.WithDimension(flagDim),
		annvdb.WithCapacity(flagCapacity),
		annvdb.WithSeed(flagSeed),
		annvdb.WithDeletedRebuildThreshold(flagThreshold),
		annvdb.WithAutoRebuildOnLoad(flagAutoRebuild),
	)
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print active/total counts and index size",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openFromFlags()
			if err != nil {
				return err
			}
			defer db.Close()

			s := db.Stats()
			fmt.Printf("active:                %d\n", s.ActiveCount)
			fmt.Printf("total:                 %d\n", s.TotalCount)
			fmt.Printf("dimension:             %d\n", s.Dimension)
			fmt.Printf("deleted_since_rebuild: %d\n", s.DeletedSinceRebuild)
			fmt.Printf("deleted_ratio:         %.4f\n", s.DeletedRatio)
			fmt.Printf("max_elements:          %d\n", s.MaxElements)
			fmt.Printf("ef_clamped:            %t\n", s.EfClamped)
			if s.LastCompactionAt.IsZero() {
				fmt.Printf("last_compaction:       never\n")
			} else {
				fmt.Printf("last_compaction:       %s\n", s.LastCompactionAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run registered health checks and print their results",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openFromFlags()
			if err != nil {
				return err
			}
			defer db.Close()

			status := db.Health(cmd.Context())
			fmt.Println("status:", status.Status)
			for name, check := range status.Checks {
				fmt.Printf("  %-20s healthy=%-5t %s\n", name, check.Healthy, check.Message)
			}
			return nil
		},
	}
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Force a dump snapshot and truncate the oplog",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openFromFlags()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Snapshot(); err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}
			fmt.Println("snapshot complete")
			return nil
		},
	}
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Densely renumber active records and reclaim deleted capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openFromFlags()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Compact(); err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			fmt.Println("compaction complete")
			return nil
		},
	}
}
