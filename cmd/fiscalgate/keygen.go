package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/osouza/fiscalgate/internal/auth"
	"github.com/osouza/fiscalgate/internal/cache"
	"github.com/osouza/fiscalgate/internal/token"
	"github.com/osouza/fiscalgate/internal/upstream"
	"github.com/spf13/cobra"
)

var keygenFlags struct {
	redisAddr     string
	redisPassword string
	redisDB       int
	subject       string
	permissions   string
	ttlHours      int
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate and provision a gateway API key",
	Long: `Generate a new API key and store its hash in the shared cache so a
running gateway accepts it immediately. The raw key is printed once and
never stored.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVar(&keygenFlags.redisAddr, "redis-addr", getEnv("FISCALGATE_REDIS_ADDR", ""), "redis address of the shared cache")
	keygenCmd.Flags().StringVar(&keygenFlags.redisPassword, "redis-password", getEnv("FISCALGATE_REDIS_PASSWORD", ""), "redis password")
	keygenCmd.Flags().IntVar(&keygenFlags.redisDB, "redis-db", getEnvInt("FISCALGATE_REDIS_DB", 0), "redis database number")
	keygenCmd.Flags().StringVar(&keygenFlags.subject, "subject", "default", "subject recorded on the key")
	keygenCmd.Flags().StringVar(&keygenFlags.permissions, "permissions", "read,write", "comma-separated permissions")
	keygenCmd.Flags().IntVar(&keygenFlags.ttlHours, "ttl-hours", 0, "key lifetime in hours, 0 means no expiry")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if keygenFlags.redisAddr == "" {
		return fmt.Errorf("--redis-addr is required (keys provisioned in an in-process cache would be lost)")
	}

	ctx := context.Background()
	store, err := cache.Dial(ctx, keygenFlags.redisAddr, keygenFlags.redisPassword, keygenFlags.redisDB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer store.Close()

	var permissions []string
	for _, p := range strings.Split(keygenFlags.permissions, ",") {
		if p = strings.TrimSpace(p); p != "" {
			permissions = append(permissions, p)
		}
	}

	mgr := auth.NewManager(store, upstream.New("http://localhost", nil))
	mgr.Logger = logger

	rawKey, err := token.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate API key: %w", err)
	}
	ttl := time.Duration(keygenFlags.ttlHours) * time.Hour
	if err := mgr.ProvisionAPIKey(ctx, rawKey, keygenFlags.subject, permissions, ttl); err != nil {
		return fmt.Errorf("provision API key: %w", err)
	}

	fmt.Println("=============================================================")
	fmt.Println("API KEY CREATED (save this, it will not be shown again):")
	fmt.Println(rawKey)
	fmt.Println("=============================================================")
	fmt.Printf("subject: %s\npermissions: %s\n", keygenFlags.subject, strings.Join(permissions, ", "))
	if ttl > 0 {
		fmt.Printf("expires: %s\n", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	}

	return nil
}
