package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var debugAddr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch the current controller status from a running serve instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(debugAddr)
		},
	}
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "localhost:9100", "address of a running serve instance's debug surface")
	return cmd
}

func runStatus(debugAddr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/status", debugAddr))
	if err != nil {
		return fmt.Errorf("genisysctl: fetching status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("genisysctl: status request returned %s", resp.Status)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("genisysctl: decoding status: %w", err)
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
