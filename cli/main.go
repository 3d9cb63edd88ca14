package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminToken string
	Version    = "dev"
)

type blockRecord struct {
	ID             uint      `json:"id"`
	Identifier     string    `json:"identifier"`
	IdentifierType string    `json:"identifier_type"`
	RouteCategory  string    `json:"route_category"`
	RoutePath      string    `json:"route_path"`
	RequestCount   int       `json:"request_count"`
	LimitThreshold int       `json:"limit_threshold"`
	BlockedAt      time.Time `json:"blocked_at"`
	BlockedUntil   time.Time `json:"blocked_until"`
}

type blockStats struct {
	ActiveBlocks int64            `json:"active_blocks"`
	BlocksToday  int64            `json:"blocks_today"`
	ByCategory   map[string]int64 `json:"by_category"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "gatekeepctl",
		Short: "Gatekeep - API admission control",
		Long:  "Inspect and manage rate-limit blocks on a gatekeep gateway",
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Gatekeep server URL")
	rootCmd.PersistentFlags().StringVarP(&adminToken, "token", "t", os.Getenv("GATEKEEP_ADMIN_TOKEN"), "Admin bearer token")

	rootCmd.AddCommand(
		statsCmd(),
		blocksCmd(),
		unblockCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show block statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats blockStats
			if err := getJSON("/v1/admin/stats", &stats); err != nil {
				return err
			}

			active := color.GreenString("%d", stats.ActiveBlocks)
			if stats.ActiveBlocks > 0 {
				active = color.RedString("%d", stats.ActiveBlocks)
			}

			fmt.Printf("Gatekeep Stats\n")
			fmt.Printf("==============\n\n")
			fmt.Printf("Active blocks:  %s\n", active)
			fmt.Printf("Blocks today:   %d\n", stats.BlocksToday)
			if len(stats.ByCategory) > 0 {
				fmt.Printf("\nToday by category:\n")
				for category, count := range stats.ByCategory {
					fmt.Printf("  %-10s %d\n", category, count)
				}
			}
			return nil
		},
	}
}

func blocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "blocks",
		Aliases: []string{"ls", "list"},
		Short:   "List active blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []blockRecord
			if err := getJSON("/v1/admin/blocks", &records); err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Println(color.GreenString("No active blocks"))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "IDENTIFIER\tTYPE\tCATEGORY\tCOUNT/LIMIT\tEXPIRES")
			fmt.Fprintln(w, "----------\t----\t--------\t-----------\t-------")
			for _, r := range records {
				expires := time.Until(r.BlockedUntil).Round(time.Second)
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\tin %s\n",
					r.Identifier, r.IdentifierType, r.RouteCategory, r.RequestCount, r.LimitThreshold, expires)
			}
			w.Flush()
			return nil
		},
	}
}

func unblockCmd() *cobra.Command {
	var adminID, reason string
	cmd := &cobra.Command{
		Use:   "unblock [identifier]",
		Short: "Lift every active block for an identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{
				"identifier": args[0],
				"admin_id":   adminID,
				"reason":     reason,
			})
			if err != nil {
				return err
			}

			var result struct {
				Count int64 `json:"count"`
			}
			if err := postJSON("/v1/admin/unblock", payload, &result); err != nil {
				return err
			}

			if result.Count == 0 {
				fmt.Printf("%s had no active blocks\n", args[0])
			} else {
				fmt.Printf("%s %s (%d record(s) updated)\n", color.GreenString("Unblocked"), args[0], result.Count)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&adminID, "admin", "", "Acting admin identity")
	cmd.Flags().StringVar(&reason, "reason", "", "Human-readable reason")
	cmd.MarkFlagRequired("admin")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatekeepctl version %s\n", Version)
		},
	}
}

func getJSON(path string, out interface{}) error {
	return requestJSON(http.MethodGet, path, nil, out)
}

func postJSON(path string, body []byte, out interface{}) error {
	return requestJSON(http.MethodPost, path, body, out)
}

func requestJSON(method, path string, body []byte, out interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}
	r := newRetrier(500*time.Millisecond, 5*time.Second, 3)

	return r.do(func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, serverURL+path, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if adminToken != "" {
			req.Header.Set("Authorization", "Bearer "+adminToken)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to connect to server: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return statusError{status: resp.StatusCode, body: fmt.Sprintf("server returned status %d: %s", resp.StatusCode, string(data))}
		}
		return json.Unmarshal(data, out)
	}, isRetryable)
}
