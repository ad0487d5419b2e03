// Package main is the moltgrid command line client. It talks to a MoltGrid
// server over HTTP using the credentials stored in ~/.moltgrid/config.json
// (or the MOLTGRID_API_KEY environment variable).
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/D0NMEGA/MoltGrid/internal/client"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cellWidth caps payload-ish table cells so one long value does not blow the
// layout apart.
const cellWidth = 50

type globalOptions struct {
	jsonOut bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "moltgrid",
		Short: "Command line client for the MoltGrid coordination server",
		Long: `moltgrid is the command line client for a MoltGrid server.
Register an agent once, then use the stored API key to work with
memory, the job queue and the message relay from the shell.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Print raw JSON responses")

	root.AddCommand(
		newVersionCmd(),
		newRegisterCmd(opts),
		newConfigCmd(),
		newStatusCmd(opts),
		newHeartbeatCmd(opts),
		newHealthCmd(opts),
		newMemoryCmd(opts),
		newQueueCmd(opts),
		newSendCmd(opts),
		newInboxCmd(opts),
	)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("moltgrid %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// -----------------------------------------------------------------------------
// Identity commands
// -----------------------------------------------------------------------------

func newRegisterCmd(opts *globalOptions) *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new agent and save its API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(false)
			if err != nil {
				return err
			}
			res, err := c.Register(cmd.Context(), name, description)
			if err != nil {
				return err
			}

			// Persist the key immediately: the server never shows it again.
			path, err := client.DefaultConfigPath()
			if err != nil {
				return err
			}
			cfg, err := client.LoadConfig(path)
			if err != nil {
				return err
			}
			cfg.APIKey = res.APIKey
			if err := client.SaveConfig(path, cfg); err != nil {
				return err
			}

			if opts.jsonOut {
				return printJSON(res)
			}
			fmt.Printf("Registered agent: %s\n", res.AgentID)
			fmt.Printf("API Key: %s\n", res.APIKey)
			fmt.Printf("Saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "cli-agent", "Agent name")
	cmd.Flags().StringVar(&description, "description", "Agent registered via CLI", "Agent description")
	return cmd
}

func newConfigCmd() *cobra.Command {
	var apiKey, baseURL string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Store the API key and server URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" && baseURL == "" {
				return errors.New("nothing to save; pass --api-key and/or --base-url")
			}
			path, err := client.DefaultConfigPath()
			if err != nil {
				return err
			}
			cfg, err := client.LoadConfig(path)
			if err != nil {
				return err
			}
			if apiKey != "" {
				cfg.APIKey = apiKey
			}
			if baseURL != "" {
				cfg.BaseURL = baseURL
			}
			if err := client.SaveConfig(path, cfg); err != nil {
				return err
			}
			fmt.Printf("Configuration saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key to store")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server base URL to store")
	return cmd
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the agent's resource usage and counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			stats, err := c.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(stats)
			}
			fmt.Printf("Agent ID: %s\n", stats.AgentID)
			fmt.Printf("Uptime: %ds\n", stats.UptimeSeconds)
			fmt.Printf("Jobs Completed: %d\n", stats.JobsCompleted)
			fmt.Printf("Messages Received: %d\n", stats.MessagesReceived)
			return nil
		},
	}
}

func newHeartbeatCmd(opts *globalOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Send a heartbeat",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			hb, err := c.SendHeartbeat(cmd.Context(), status)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(hb)
			}
			fmt.Println("Heartbeat sent")
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Agent status (online, idle, busy, offline)")
	return cmd
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(false)
			if err != nil {
				return err
			}
			health, err := c.GetHealth(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(health)
			}
			fmt.Printf("Status: %s\n", health.Status)
			fmt.Printf("Version: %s\n", health.Version)
			return nil
		},
	}
}

// -----------------------------------------------------------------------------
// Memory commands
// -----------------------------------------------------------------------------

func newMemoryCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Private key-value storage",
	}
	cmd.AddCommand(
		newMemorySetCmd(opts),
		newMemoryGetCmd(opts),
		newMemoryListCmd(opts),
		newMemoryDeleteCmd(opts),
	)
	return cmd
}

func newMemorySetCmd(opts *globalOptions) *cobra.Command {
	var namespace string
	var ttl int

	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			entry, err := c.MemorySet(cmd.Context(), args[0], args[1], namespace, ttl)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(entry)
			}
			fmt.Printf("Stored %s\n", entry.Key)
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace (server default: default)")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "Expiry in seconds (0 = never, minimum 60)")
	return cmd
}

func newMemoryGetCmd(opts *globalOptions) *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Read a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			entry, err := c.MemoryGet(cmd.Context(), args[0], namespace)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(entry)
			}
			fmt.Println(entry.Value)
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace (server default: default)")
	return cmd
}

func newMemoryListCmd(opts *globalOptions) *cobra.Command {
	var namespace, prefix string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			entries, err := c.MemoryList(cmd.Context(), namespace, prefix)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Key, clip(e.Value)})
			}
			printTable([]string{"Key", "Value"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace (server default: default)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only keys starting with this prefix")
	return cmd
}

func newMemoryDeleteCmd(opts *globalOptions) *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			if err := c.MemoryDelete(cmd.Context(), args[0], namespace); err != nil {
				return err
			}
			if !opts.jsonOut {
				fmt.Printf("Deleted %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace (server default: default)")
	return cmd
}

// -----------------------------------------------------------------------------
// Queue commands
// -----------------------------------------------------------------------------

func newQueueCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Job queue operations",
	}
	cmd.AddCommand(
		newQueueSubmitCmd(opts),
		newQueueClaimCmd(opts),
		newQueueCompleteCmd(opts),
		newQueueFailCmd(opts),
		newQueueListCmd(opts),
		newQueueDeadLetterCmd(opts),
		newQueueReplayCmd(opts),
	)
	return cmd
}

func newQueueSubmitCmd(opts *globalOptions) *cobra.Command {
	var queue string
	var priority, maxAttempts int

	cmd := &cobra.Command{
		Use:   "submit PAYLOAD",
		Short: "Submit a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			job, err := c.QueueSubmit(cmd.Context(), args[0], queue, priority, maxAttempts)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(job)
			}
			fmt.Printf("Submitted job: %s\n", job.JobID)
			return nil
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "Queue name (server default: default)")
	cmd.Flags().IntVar(&priority, "priority", 5, "Priority (higher runs first)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 3, "Attempts before the job is dead-lettered")
	return cmd
}

func newQueueClaimCmd(opts *globalOptions) *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the next pending job",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			job, err := c.QueueClaim(cmd.Context(), queue)
			if err != nil {
				return err
			}
			if job == nil {
				if opts.jsonOut {
					return printJSON(map[string]string{"status": "empty"})
				}
				fmt.Println("No jobs available")
				return nil
			}
			if opts.jsonOut {
				return printJSON(job)
			}
			fmt.Printf("Claimed job: %s\n", job.JobID)
			fmt.Printf("Payload: %s\n", job.Payload)
			return nil
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "Queue name (server default: default)")
	return cmd
}

func newQueueCompleteCmd(opts *globalOptions) *cobra.Command {
	var result string

	cmd := &cobra.Command{
		Use:   "complete JOB_ID",
		Short: "Mark a claimed job done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			job, err := c.QueueComplete(cmd.Context(), args[0], result)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(job)
			}
			fmt.Printf("Completed job: %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&result, "result", "", "Result payload to store")
	return cmd
}

func newQueueFailCmd(opts *globalOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail JOB_ID",
		Short: "Report a claimed job as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			job, err := c.QueueFail(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(job)
			}
			fmt.Printf("Failed job: %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason to record")
	return cmd
}

func newQueueListCmd(opts *globalOptions) *cobra.Command {
	var queue, status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the agent's jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			jobs, err := c.QueueList(cmd.Context(), queue, status)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(jobs)
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{j.JobID, j.Status, fmt.Sprintf("%d", j.Priority)})
			}
			printTable([]string{"Job ID", "Status", "Priority"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "Only jobs in this queue")
	cmd.Flags().StringVar(&status, "status", "", "Only jobs with this status (pending, claimed, completed, failed, dead)")
	return cmd
}

func newQueueDeadLetterCmd(opts *globalOptions) *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "dead-letter",
		Short: "List dead-lettered jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			jobs, err := c.QueueDeadLetter(cmd.Context(), queue)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(jobs)
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{j.JobID, clip(j.Error)})
			}
			printTable([]string{"Job ID", "Error"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "Only jobs in this queue")
	return cmd
}

func newQueueReplayCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay JOB_ID",
		Short: "Requeue a dead-lettered job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			job, err := c.QueueReplay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(job)
			}
			fmt.Printf("Replayed job: %s\n", args[0])
			return nil
		},
	}
}

// -----------------------------------------------------------------------------
// Relay commands
// -----------------------------------------------------------------------------

func newSendCmd(opts *globalOptions) *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "send AGENT_ID PAYLOAD",
		Short: "Send a message to another agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			res, err := c.SendMessage(cmd.Context(), args[0], args[1], channel)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(res)
			}
			fmt.Printf("Sent message to %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Channel (server default: default)")
	return cmd
}

func newInboxCmd(opts *globalOptions) *cobra.Command {
	var channel string
	var all bool

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List received messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(true)
			if err != nil {
				return err
			}
			messages, err := c.GetInbox(cmd.Context(), channel, !all)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(messages)
			}
			rows := make([][]string, 0, len(messages))
			for _, m := range messages {
				rows = append(rows, []string{m.FromAgent, clip(m.Payload)})
			}
			printTable([]string{"From", "Payload"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Only messages on this channel")
	cmd.Flags().BoolVar(&all, "all", false, "Include messages already marked read")
	return cmd
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

// loadClient builds a Client from the config file plus environment overrides.
// requireKey rejects calls that would hit an authenticated endpoint without
// credentials.
func loadClient(requireKey bool) (*client.Client, error) {
	path, err := client.DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := client.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	key := client.ResolveAPIKey(cfg)
	if requireKey && key == "" {
		return nil, errors.New("no API key found; run 'moltgrid config --api-key KEY' or set MOLTGRID_API_KEY")
	}
	return client.New(cfg.BaseURL, key), nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// printTable renders rows with left-justified columns under a dashed rule.
func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("(empty)")
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	format := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	header := format(headers)
	fmt.Println(header)
	fmt.Println(strings.Repeat("-", len(header)))
	for _, row := range rows {
		fmt.Println(format(row))
	}
}

func clip(s string) string {
	if len(s) <= cellWidth {
		return s
	}
	return s[:cellWidth]
}
