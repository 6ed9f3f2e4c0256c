package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate sandbox statistics",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := doRequest(http.MethodGet, "/stats", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching stats: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fail(resp)
		}

		var stats struct {
			Total     int     `json:"total"`
			Active    int     `json:"active"`
			Suspended int     `json:"suspended"`
			Throttled int     `json:"throttled"`
			AvgCPU    float64 `json:"avg_cpu"`
			AvgMemory float64 `json:"avg_memory"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Total: %d\n", stats.Total)
		fmt.Printf("Active: %d\n", stats.Active)
		fmt.Printf("Throttled: %d\n", stats.Throttled)
		fmt.Printf("Suspended: %d\n", stats.Suspended)
		fmt.Printf("Avg CPU: %.1f%%\n", stats.AvgCPU)
		fmt.Printf("Avg Memory: %.1f MB\n", stats.AvgMemory)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
