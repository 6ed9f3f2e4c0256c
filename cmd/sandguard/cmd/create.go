package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	createIsolation      string
	createInterval       int
	createAlertThreshold int
)

var createCmd = &cobra.Command{
	Use:   "create [module] [tenant] [version]",
	Short: "Create a monitored sandbox",
	Long: `Create a sandbox for one tenant's installed module version.

Examples:
  # Medium isolation, default limits
  sandguard create billing acme 1.4.0

  # Strict isolation with a faster monitoring tick
  sandguard create billing acme 1.4.0 --isolation strict --interval 10`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		body := map[string]interface{}{
			"module_id": args[0],
			"tenant_id": args[1],
			"version":   args[2],
			"isolation": createIsolation,
		}
		if createInterval > 0 {
			body["interval_seconds"] = createInterval
		}
		if createAlertThreshold > 0 {
			body["alert_threshold"] = createAlertThreshold
		}

		jsonBody, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding request: %v\n", err)
			os.Exit(1)
		}

		resp, err := doRequest(http.MethodPost, "/sandboxes", bytes.NewReader(jsonBody))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating sandbox: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			fail(resp)
		}

		var result map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			fmt.Println("Sandbox created")
			return
		}
		id, _ := result["id"].(string)
		status, _ := result["status"].(string)
		fmt.Printf("Sandbox ID: %s\n", id)
		fmt.Printf("Status: %s\n", status)
	},
}

func init() {
	createCmd.Flags().StringVar(&createIsolation, "isolation", "medium", "Isolation level (light, medium, strict, custom)")
	createCmd.Flags().IntVar(&createInterval, "interval", 0, "Monitoring interval in seconds")
	createCmd.Flags().IntVar(&createAlertThreshold, "alert-threshold", 0, "Violations per tick before a warning alert")

	rootCmd.AddCommand(createCmd)
}
