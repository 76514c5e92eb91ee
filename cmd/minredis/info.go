package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var infoCmd = &cobra.Command{
	Use:   "info ADDR [ADDR...]",
	Short: "Print the replication section of one or more nodes",
	Long: `Print the replication section of one or more nodes.

With --expect-role the command fails if any node reports another role,
which makes it usable as a health check for a primary and its replicas.`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: bindFlags,
	RunE:    runInfo,
}

func init() {
	infoCmd.Flags().String("expect-role", "", "fail unless every node reports this role (master or slave)")
	infoCmd.Flags().Duration("timeout", 5*time.Second, "per-node timeout")
}

func runInfo(cmd *cobra.Command, addrs []string) error {
	expectRole := viper.GetString("expect-role")
	timeout := viper.GetDuration("timeout")

	mismatches := 0
	for _, addr := range addrs {
		fields, err := fetchReplicationInfo(cmd.Context(), addr, timeout)
		if err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", addr)
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", k, fields[k])
		}

		if expectRole != "" && fields["role"] != expectRole {
			fmt.Fprintf(cmd.OutOrStdout(), "  role mismatch: want %s, got %s\n", expectRole, fields["role"])
			mismatches++
		}
	}

	if mismatches > 0 {
		return fmt.Errorf("%d node(s) do not report role %s", mismatches, expectRole)
	}
	return nil
}

// fetchReplicationInfo sends INFO replication and parses the reply
func fetchReplicationInfo(ctx context.Context, addr string, timeout time.Duration) (map[string]string, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Protocol:        2,
		DisableIdentity: true,
		DialTimeout:     timeout,
		ReadTimeout:     timeout,
		MaxRetries:      -1,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info, err := client.Info(ctx, "replication").Result()
	if err != nil {
		return nil, err
	}
	return parseInfo(info), nil
}

// parseInfo turns "key:value" lines into a map, skipping "# Section" headers
func parseInfo(info string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[key] = value
	}
	return fields
}
