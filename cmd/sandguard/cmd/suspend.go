package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var suspendReason string

var suspendCmd = &cobra.Command{
	Use:   "suspend [module] [tenant] [version]",
	Short: "Suspend a sandbox and stop its worker",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		jsonBody, _ := json.Marshal(map[string]string{"reason": suspendReason})
		resp, err := doRequest(http.MethodPost, sandboxPath(args[0], args[1], args[2])+"/suspend", bytes.NewReader(jsonBody))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error suspending sandbox: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			fail(resp)
		}
		fmt.Println("Sandbox suspended")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [module] [tenant] [version]",
	Short: "Resume a suspended sandbox with a fresh worker",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := doRequest(http.MethodPost, sandboxPath(args[0], args[1], args[2])+"/resume", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resuming sandbox: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			fail(resp)
		}
		fmt.Println("Sandbox resumed")
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy [module] [tenant] [version]",
	Short: "Permanently remove a sandbox",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := doRequest(http.MethodDelete, sandboxPath(args[0], args[1], args[2]), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error destroying sandbox: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			fail(resp)
		}
		fmt.Println("Sandbox destroyed")
	},
}

func init() {
	suspendCmd.Flags().StringVar(&suspendReason, "reason", "operator request", "Reason recorded on the suspension")

	rootCmd.AddCommand(suspendCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(destroyCmd)
}
