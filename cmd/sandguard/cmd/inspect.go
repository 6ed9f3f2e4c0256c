package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [module] [tenant] [version]",
	Short: "Show a sandbox's full record",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := doRequest(http.MethodGet, sandboxPath(args[0], args[1], args[2]), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching sandbox: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fail(resp)
		}

		body, _ := io.ReadAll(resp.Body)
		var pretty map[string]interface{}
		if err := json.Unmarshal(body, &pretty); err != nil {
			fmt.Println(string(body))
			return
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
