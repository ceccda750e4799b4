package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sneldb/internal/auth"
	"sneldb/internal/config"
	"sneldb/internal/dispatch"
	"sneldb/internal/schema"
	"sneldb/internal/shard"
	"sneldb/internal/storage/block"
)

// sneldb-cli is an administrative client that opens the same data
// directory a running sneldb-server would, in-process, and drives the
// dispatcher directly — the same shape as the teacher's cmd/admin-cli,
// generalized from its status/compact/wal/schema stub subcommands to
// DEFINE/STORE/QUERY/FLUSH/PING against the real engine.
var rootCmd = &cobra.Command{
	Use:   "sneldb-cli",
	Short: "sneldb administrative CLI",
}

var defineCmd = &cobra.Command{
	Use:   "define <event_type> <fields-json>",
	Short: "Register or evolve a schema",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw map[string]string
		if err := json.Unmarshal([]byte(args[1]), &raw); err != nil {
			return fmt.Errorf("fields: %w", err)
		}
		fields := make(map[string]schema.LogicalType, len(raw))
		for k, v := range raw {
			fields[k] = schema.LogicalType(v)
		}
		return withDispatcher(func(d *dispatch.Dispatcher) error {
			resp, err := d.Dispatch(context.Background(), &dispatch.Command{
				Kind: dispatch.KindDefine, EventType: args[0], Fields: fields,
			})
			return printResponse(resp, err)
		})
	},
}

var storeCmd = &cobra.Command{
	Use:   "store <event_type> <context_id> <payload-json>",
	Short: "Append one event",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(args[2]), &payload); err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		return withDispatcher(func(d *dispatch.Dispatcher) error {
			resp, err := d.Dispatch(context.Background(), &dispatch.Command{
				Kind: dispatch.KindStore, EventType: args[0], ContextID: args[1], Payload: payload,
			})
			return printResponse(resp, err)
		})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <event_type>",
	Short: "Scan every shard for an event_type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDispatcher(func(d *dispatch.Dispatcher) error {
			resp, err := d.Dispatch(context.Background(), &dispatch.Command{
				Kind: dispatch.KindQuery, EventType: args[0],
			})
			return printResponse(resp, err)
		})
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush every shard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDispatcher(func(d *dispatch.Dispatcher) error {
			resp, err := d.Dispatch(context.Background(), &dispatch.Command{Kind: dispatch.KindFlush})
			return printResponse(resp, err)
		})
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the engine can be reached",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDispatcher(func(d *dispatch.Dispatcher) error {
			resp, err := d.Dispatch(context.Background(), &dispatch.Command{Kind: dispatch.KindPing})
			return printResponse(resp, err)
		})
	},
}

func init() {
	rootCmd.AddCommand(defineCmd, storeCmd, queryCmd, flushCmd, pingCmd)
}

// withDispatcher opens the configured data directory, builds a one-shot
// Dispatcher over it, and runs fn. The CLI owns its own process lifetime,
// so there is no background flush/compaction loop to start or stop here.
func withDispatcher(fn func(d *dispatch.Dispatcher) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	storage, err := block.NewFactory().Create(block.Config{Type: "local", BaseDir: cfg.Engine.DataDir})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	ctx := context.Background()
	registry := schema.NewRegistry(storage)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("load schema registry: %w", err)
	}

	shards, err := shard.NewManager(ctx, cfg, storage, nil)
	if err != nil {
		return fmt.Errorf("build shard manager: %w", err)
	}
	defer shards.Close()
	if err := shards.ReplayAll(ctx, registry); err != nil {
		return fmt.Errorf("replay wal: %w", err)
	}

	d := dispatch.New(shards, registry, auth.NewUserStore(), nil)
	return fn(d)
}

func printResponse(resp *dispatch.Response, err error) error {
	if err != nil {
		return err
	}
	renderer := dispatch.NewArrowRenderer(os.Stdout)
	fmt.Printf("[%d] %s\n", resp.Status, resp.Message)
	return renderer.Render(resp)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
