package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var (
	alertsModule string
	alertsTenant string
	alertsAcked  bool
	ackBy        string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and acknowledge alerts",
	Run: func(cmd *cobra.Command, args []string) {
		q := url.Values{}
		if alertsModule != "" {
			q.Set("module", alertsModule)
		}
		if alertsTenant != "" {
			q.Set("tenant", alertsTenant)
		}
		if cmd.Flags().Changed("acked") {
			q.Set("acknowledged", fmt.Sprintf("%t", alertsAcked))
		}
		path := "/alerts"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		resp, err := doRequest(http.MethodGet, path, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing alerts: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fail(resp)
		}

		var alerts []struct {
			ID           string `json:"id"`
			ModuleID     string `json:"module_id"`
			TenantID     string `json:"tenant_id"`
			Type         string `json:"type"`
			Message      string `json:"message"`
			Acknowledged bool   `json:"acknowledged"`
			CreatedAt    string `json:"created_at"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&alerts); err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
			os.Exit(1)
		}

		if len(alerts) == 0 {
			fmt.Println("No alerts")
			return
		}
		for _, a := range alerts {
			ack := " "
			if a.Acknowledged {
				ack = "*"
			}
			fmt.Printf("%s [%s]%s %s/%s: %s (%s)\n",
				a.ID, a.Type, ack, a.ModuleID, a.TenantID, a.Message, a.CreatedAt)
		}
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack [alert-id]",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jsonBody, _ := json.Marshal(map[string]string{"by": ackBy})
		resp, err := doRequest(http.MethodPost, "/alerts/"+url.PathEscape(args[0])+"/ack", bytes.NewReader(jsonBody))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error acknowledging alert: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			fail(resp)
		}
		fmt.Println("Alert acknowledged")
	},
}

func init() {
	alertsCmd.Flags().StringVar(&alertsModule, "module", "", "Filter by module id")
	alertsCmd.Flags().StringVar(&alertsTenant, "tenant", "", "Filter by tenant id")
	alertsCmd.Flags().BoolVar(&alertsAcked, "acked", false, "Filter by acknowledged state")
	alertsAckCmd.Flags().StringVar(&ackBy, "by", "", "Operator acknowledging the alert")

	alertsCmd.AddCommand(alertsAckCmd)
	rootCmd.AddCommand(alertsCmd)
}
