package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var documentsFlags struct {
	clientConfig
	clientID string
	status   string
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List recorded document submissions",
	RunE:  runDocuments,
}

func init() {
	rootCmd.AddCommand(documentsCmd)

	addClientFlags(documentsCmd, &documentsFlags.clientConfig)
	documentsCmd.Flags().StringVar(&documentsFlags.clientID, "client-id", "", "filter by accounting client")
	documentsCmd.Flags().StringVar(&documentsFlags.status, "status", "", "filter by processing status")
}

func runDocuments(cmd *cobra.Command, args []string) error {
	c, err := documentsFlags.newClient()
	if err != nil {
		return err
	}

	resp, err := c.ListDocuments(documentsFlags.clientID, documentsFlags.status)
	if err != nil {
		return err
	}

	if len(resp.Data) == 0 {
		fmt.Println("No documents found.")
		return nil
	}

	fmt.Printf("%-14s  %-12s  %-6s  %-10s  %-19s  %s\n", "PROTOCOL", "CLIENT", "TYPE", "STATUS", "CREATED", "FILE")
	for _, d := range resp.Data {
		protocol := d.ProtocolID
		if protocol == "" {
			protocol = "-"
		}
		createdAt, _ := time.Parse(time.RFC3339, d.CreatedAt)
		createdStr := createdAt.Format("2006-01-02 15:04:05")
		fmt.Printf("%-14s  %-12s  %-6s  %-10s  %-19s  %s\n",
			protocol, d.ClientID, d.DocumentType, d.Status, createdStr, d.FileName)
	}

	return nil
}
