package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics [module] [tenant] [version]",
	Short: "Show a sandbox's latest performance report",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := doRequest(http.MethodGet, sandboxPath(args[0], args[1], args[2])+"/metrics", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching metrics: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fail(resp)
		}

		var report struct {
			Status string `json:"status"`
			Sample struct {
				CPUUsage    float64 `json:"cpu_usage"`
				MemoryMB    float64 `json:"memory_mb"`
				APIRequests float64 `json:"api_requests_per_minute"`
				DBConns     int     `json:"db_connections"`
				StorageMB   float64 `json:"storage_mb"`
				CollectedAt string  `json:"collected_at"`
			} `json:"sample"`
			Violations []struct {
				Resource string  `json:"resource"`
				Severity string  `json:"severity"`
				Message  string  `json:"message"`
				Observed float64 `json:"observed"`
				Limit    float64 `json:"limit"`
			} `json:"violations"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Status: %s\n", report.Status)
		fmt.Printf("CPU: %.1f%%\n", report.Sample.CPUUsage)
		fmt.Printf("Memory: %.1f MB\n", report.Sample.MemoryMB)
		fmt.Printf("API: %.0f req/min\n", report.Sample.APIRequests)
		fmt.Printf("Database: %d connections\n", report.Sample.DBConns)
		fmt.Printf("Storage: %.1f MB\n", report.Sample.StorageMB)
		fmt.Printf("Collected: %s\n", report.Sample.CollectedAt)
		if len(report.Violations) > 0 {
			fmt.Println("Violations:")
			for _, v := range report.Violations {
				fmt.Printf("  [%s] %s: %s (observed %.1f, limit %.1f)\n",
					v.Severity, v.Resource, v.Message, v.Observed, v.Limit)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}
