package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clientsFlags struct {
	clientConfig
}

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List accounting clients available for integration",
	RunE:  runClients,
}

func init() {
	rootCmd.AddCommand(clientsCmd)

	addClientFlags(clientsCmd, &clientsFlags.clientConfig)
}

func runClients(cmd *cobra.Command, args []string) error {
	c, err := clientsFlags.newClient()
	if err != nil {
		return err
	}

	resp, err := c.ListClients()
	if err != nil {
		return err
	}

	if len(resp.Data) == 0 {
		fmt.Println("No clients found.")
		return nil
	}

	fmt.Printf("%-12s  %-30s  %-18s  %-8s  %s\n", "ID", "NAME", "CNPJ", "STATUS", "INTEGRATION")
	for _, client := range resp.Data {
		integration := "disabled"
		if client.IntegrationEnabled {
			integration = "enabled"
		}
		fmt.Printf("%-12s  %-30s  %-18s  %-8s  %s\n",
			client.ID, client.Name, client.CNPJ, client.Status, integration)
	}

	return nil
}
