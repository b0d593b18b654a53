package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridxfer/internal/client"
	"gridxfer/internal/core"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var (
	serverURL string
	user      string
	password  string
	timeout   time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "gridxfer",
		Short:         "Submit GridFTP transfer logs and query transfer statistics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("GRIDXFER_URL", "http://localhost:8080"), "service base URL (env GRIDXFER_URL)")
	root.PersistentFlags().StringVar(&user, "user", os.Getenv("GRIDXFER_USER"), "upload user name (env GRIDXFER_USER)")
	root.PersistentFlags().StringVar(&password, "password", os.Getenv("GRIDXFER_PASSWORD"), "upload password (env GRIDXFER_PASSWORD)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "per request timeout")

	root.AddCommand(submitCmd(), parseCmd(), statsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(client.Options{
		BaseURL:  serverURL,
		User:     user,
		Password: password,
		Timeout:  timeout,
	})
}

func submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <logfile|dir>...",
		Short: "Upload transfer logs the service has not seen yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := core.ParseArgs(args)
			if err != nil {
				return err
			}
			files, err := core.CollectLogFiles(parsed)
			if err != nil {
				return err
			}

			c := newClient()
			failed := 0
			for _, path := range files {
				res, err := c.Submit(cmd.Context(), path)
				if err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "✗ %s: %v\n", path, err)
					continue
				}
				fmt.Printf("✓ %s (%s, %s) %s\n", res.Path, res.Digest[:12], humanize.Bytes(uint64(res.Size)), res.Status)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d logs failed", failed, len(files))
			}
			return nil
		},
	}
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <logfile>",
		Short: "Print the transfer records parsed from a log as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			enc := json.NewEncoder(os.Stdout)
			scanner := core.NewLineScanner(f)
			records := 0
			for scanner.Next() {
				if err := enc.Encode(scanner.Record()); err != nil {
					return err
				}
				records++
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "%s lines, %s records, %s skipped\n",
				humanize.Comma(int64(scanner.Lines())),
				humanize.Comma(int64(records)),
				humanize.Comma(int64(scanner.Skipped())),
			)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <year> <quarter>",
		Short: "Show the per-site quarterly transfer report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := core.ParseQuarter(args[0], args[1]); err != nil {
				return err
			}

			body, err := newClient().Stats(cmd.Context(), "xsede-quarterly", args[0], args[1])
			if err != nil {
				return err
			}

			var out bytes.Buffer
			if err := json.Indent(&out, body, "", "  "); err != nil {
				return fmt.Errorf("malformed report: %w", err)
			}
			out.WriteByte('\n')
			_, err = out.WriteTo(os.Stdout)
			return err
		},
	}
}
