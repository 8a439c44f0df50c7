package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusFlags struct {
	clientConfig
}

var statusCmd = &cobra.Command{
	Use:   "status <protocolId>",
	Short: "Show processing status for a protocol",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	addClientFlags(statusCmd, &statusFlags.clientConfig)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := statusFlags.newClient()
	if err != nil {
		return err
	}

	raw, err := c.GetStatus(args[0])
	if err != nil {
		return err
	}

	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	return nil
}
