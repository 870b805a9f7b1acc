package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rua-project/rua/pkg/areacsv"
	"github.com/rua-project/rua/pkg/history"
)

// drawCmd prints a previously exported CSV. It is a diagnostic helper and
// never touches the network.
var drawCmd = &cobra.Command{
	Use:   "draw",
	Short: "Print the rows of an exported area history CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		input, _ := cmd.Flags().GetString("input")
		if input == "" {
			input = cfg.Output.Path
		}
		areaType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		records, err := areacsv.ReadFile(input)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("CSV file not found: %s (run 'rua fetch' first)", input)
			}
			return err
		}

		if printAreas(os.Stdout, records, areaType, limit) == 0 {
			fmt.Println("No matching rows.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(drawCmd)
	drawCmd.Flags().StringP("input", "i", "", "CSV file to read (default: output.path from config)")
	drawCmd.Flags().StringP("type", "t", "", "Only print rows of this area type")
	drawCmd.Flags().IntP("limit", "n", 0, "Print at most this many rows (0 = all)")
}

// printAreas renders records as a table and returns how many rows it printed.
func printAreas(out io.Writer, records []history.AreaRecord, areaType string, limit int) int {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	printed := 0
	for _, r := range records {
		if areaType != "" && r.AreaType != areaType {
			continue
		}
		if limit > 0 && printed == limit {
			break
		}
		if printed == 0 {
			fmt.Fprintln(w, "TIME\tHASH\tAREA\tPERCENT\tTYPE\t")
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%s\t\n", r.TimeIndex.UTC().Format(time.RFC3339), r.Hash, r.Area, r.Percent, r.AreaType)
		printed++
	}
	w.Flush()
	return printed
}
