package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newControlCmd() *cobra.Command {
	var (
		debugAddr string
		index     int
		value     string
		size      int
	)
	cmd := &cobra.Command{
		Use:   "control",
		Short: "Inject a single control delta into a running serve instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(debugAddr, index, value, size)
		},
	}
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "localhost:9100", "address of a running serve instance's debug surface")
	cmd.Flags().IntVar(&index, "index", 0, "signal index to set")
	cmd.Flags().StringVar(&value, "value", "TRUE", "tri-state value: TRUE, FALSE, or DONT_CARE")
	cmd.Flags().IntVar(&size, "size", 0, "control set capacity; 0 uses the server's current materialized size")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}

func runControl(debugAddr string, index int, value string, size int) error {
	body := struct {
		Deltas []struct {
			Index int    `json:"index"`
			Value string `json:"value"`
		} `json:"deltas"`
		Size int `json:"size"`
	}{
		Size: size,
	}
	body.Deltas = append(body.Deltas, struct {
		Index int    `json:"index"`
		Value string `json:"value"`
	}{Index: index, Value: value})

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://%s/control", debugAddr), "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("genisysctl: submitting control delta: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("genisysctl: control request returned %s", resp.Status)
	}
	fmt.Println("control delta accepted")
	return nil
}
