// cmd/listen.go
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	realtime "github.com/markb/realtime-go"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen <topic>",
	Short: "Subscribe to a channel and print everything that arrives",
	Long: `Connects to a Realtime server, joins one channel, and prints broadcast,
presence, and postgres_changes events as they arrive until interrupted.

Examples:
  realtimectl listen room:lobby --url wss://example.supabase.co/realtime/v1/websocket --api-key $ANON_KEY
  realtimectl listen room:lobby --broadcast --presence --presence-key user-42
  realtimectl listen room:lobby --postgres-changes public.messages:INSERT`,
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().String("url", os.Getenv("REALTIME_URL"), "Realtime websocket endpoint")
	listenCmd.Flags().String("api-key", os.Getenv("REALTIME_API_KEY"), "API key sent as the apikey param")
	listenCmd.Flags().String("token", "", "access token for a private channel")
	listenCmd.Flags().Bool("broadcast", true, "have the server echo this client's own broadcasts back (broadcast events are printed either way)")
	listenCmd.Flags().Bool("presence", false, "subscribe to presence and track this client")
	listenCmd.Flags().String("presence-key", "", "presence key to track under, if --presence is set")
	listenCmd.Flags().Bool("private", false, "mark the channel private (requires RLS authorization)")
	listenCmd.Flags().StringSlice("postgres-changes", nil, "schema.table:EVENT filters to subscribe to, repeatable")
}

func runListen(cmd *cobra.Command, args []string) error {
	topic := args[0]

	url, _ := cmd.Flags().GetString("url")
	if url == "" {
		return fmt.Errorf("--url (or REALTIME_URL) is required")
	}
	apiKey, _ := cmd.Flags().GetString("api-key")
	token, _ := cmd.Flags().GetString("token")
	wantBroadcast, _ := cmd.Flags().GetBool("broadcast")
	wantPresence, _ := cmd.Flags().GetBool("presence")
	presenceKey, _ := cmd.Flags().GetString("presence-key")
	private, _ := cmd.Flags().GetBool("private")
	pgSpecs, _ := cmd.Flags().GetStringSlice("postgres-changes")

	filters, err := parsePostgresChangeSpecs(pgSpecs)
	if err != nil {
		return err
	}

	var opts []realtime.Option
	if apiKey != "" {
		opts = append(opts, realtime.WithAPIKey(apiKey))
	}
	if token != "" {
		opts = append(opts, realtime.WithAccessToken(token))
	}
	client := realtime.NewClient(url, opts...)

	var chanOpts []realtime.ChannelOption
	if wantBroadcast {
		chanOpts = append(chanOpts, realtime.WithBroadcastSelf())
	}
	if wantPresence {
		chanOpts = append(chanOpts, realtime.WithPresence(presenceKey))
	}
	if private {
		chanOpts = append(chanOpts, realtime.WithPrivate())
	}
	if len(filters) > 0 {
		chanOpts = append(chanOpts, realtime.WithPostgresChanges(filters...))
	}

	ch := client.Channel(topic, chanOpts...)

	ch.OnBroadcast("*", func(p realtime.Payload) {
		fmt.Printf("[broadcast] %s %v\n", p.Broadcast.Event, p.Broadcast.Payload)
	})
	ch.OnSystem(func(p realtime.Payload) {
		fmt.Printf("[system] %s: %s\n", p.System.Status, p.System.Message)
	})
	for _, f := range filters {
		f := f
		ch.OnPostgresChanges(f, func(p realtime.Payload) {
			fmt.Printf("[postgres_changes] %s %s.%s new=%v old=%v\n",
				p.PostgresChange.EventType, p.PostgresChange.Schema, p.PostgresChange.Table,
				p.PostgresChange.New, p.PostgresChange.Old)
		})
	}
	if wantPresence {
		ch.Presence().OnJoin(func(key string, current, added []realtime.Meta) {
			fmt.Printf("[presence] join %s (%d metas)\n", key, len(added))
		})
		ch.Presence().OnLeave(func(key string, remaining, left []realtime.Meta) {
			fmt.Printf("[presence] leave %s (%d metas)\n", key, len(left))
		})
		ch.Presence().OnSync(func() {
			fmt.Printf("[presence] sync: %d keys online\n", len(ch.Presence().State()))
		})
	}

	client.OnError(func(err error) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	})

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := ch.Subscribe(func(status string, err error) {
		fmt.Printf("[status] %s %v\n", status, err)
		if wantPresence && status == "SUBSCRIBED" {
			ch.Track(map[string]any{"online_at": "now"})
		}
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nshutting down...")
	ch.Unsubscribe()
	return client.Disconnect()
}

// parsePostgresChangeSpecs parses "schema.table:EVENT" strings ("*" allowed
// for EVENT) into PostgresFilter values.
func parsePostgresChangeSpecs(specs []string) ([]realtime.PostgresFilter, error) {
	filters := make([]realtime.PostgresFilter, 0, len(specs))
	for _, spec := range specs {
		schemaTable, event, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --postgres-changes %q, expected schema.table:EVENT", spec)
		}
		schema, table, ok := strings.Cut(schemaTable, ".")
		if !ok {
			return nil, fmt.Errorf("invalid --postgres-changes %q, expected schema.table:EVENT", spec)
		}
		filters = append(filters, realtime.PostgresFilter{Schema: schema, Table: table, Event: event})
	}
	return filters, nil
}
