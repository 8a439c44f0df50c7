package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var uploadFlags struct {
	clientConfig
	clientID string
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file.xml>",
	Short: "Upload a fiscal document",
	Long:  `Upload a fiscal XML document through the gateway for processing.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	addClientFlags(uploadCmd, &uploadFlags.clientConfig)
	uploadCmd.Flags().StringVar(&uploadFlags.clientID, "client-id", "", "accounting client the document belongs to")
	uploadCmd.MarkFlagRequired("client-id")
}

func runUpload(cmd *cobra.Command, args []string) error {
	c, err := uploadFlags.newClient()
	if err != nil {
		return err
	}

	resp, err := c.UploadDocument(args[0], uploadFlags.clientID)
	if err != nil {
		return err
	}

	fmt.Printf("Protocol: %s\n", resp.ProtocolID)
	fmt.Printf("Type:     %s\n", resp.DocumentType)
	fmt.Printf("File:     %s\n", resp.FileName)
	fmt.Printf("Status:   %s\n", resp.Status)

	return nil
}
