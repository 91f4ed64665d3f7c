// telemetryctl inspects and operates on an agent's persisted pipeline state.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"retail-platform/telemetry/internal/agent"
	"retail-platform/telemetry/internal/config"
	"retail-platform/telemetry/internal/telemetry/domain"
	"retail-platform/telemetry/internal/telemetry/store"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "telemetryctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "telemetryctl",
		Usage:  "Inspect and flush telemetry agent state",
		Writer: out,
		Commands: []*cli.Command{
			inspectCmd(),
			flushCmd(),
			classifyCmd(),
		},
	}
}

type inspectOutput struct {
	Namespace   string            `json:"namespace"`
	QueueLength int               `json:"queueLength"`
	Breakdown   map[string]int    `json:"priorityBreakdown"`
	Retry       domain.RetryState `json:"retryState"`
	Metrics     domain.Metrics    `json:"metrics"`
	Events      []domain.Event    `json:"events,omitempty"`
}

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the persisted queue, retry state and metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Usage: "memory, sqlite or postgres (default from TELEMETRY_STORE)"},
			&cli.StringFlag{Name: "sqlite-path", Usage: "state file (default from TELEMETRY_SQLITE_PATH)"},
			&cli.BoolFlag{Name: "events", Usage: "include queued events"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadPartial()
			if err != nil {
				return err
			}
			if v := c.String("store"); v != "" {
				cfg.Store = v
			}
			if v := c.String("sqlite-path"); v != "" {
				cfg.SQLitePath = v
			}
			kv, err := agent.OpenStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer kv.Close()

			out, err := inspect(c.Context, store.NewState(kv, cfg.StateNamespace(), slog.New(slog.DiscardHandler)), c.Bool("events"))
			if err != nil {
				return err
			}
			out.Namespace = cfg.StateNamespace()
			return writeJSON(c.App.Writer, out)
		},
	}
}

func inspect(ctx context.Context, st *store.State, withEvents bool) (inspectOutput, error) {
	events, err := st.LoadQueue(ctx)
	if err != nil {
		return inspectOutput{}, err
	}
	rs, err := st.LoadRetryState(ctx)
	if err != nil {
		return inspectOutput{}, err
	}
	m, err := st.LoadMetrics(ctx)
	if err != nil {
		return inspectOutput{}, err
	}
	out := inspectOutput{
		QueueLength: len(events),
		Breakdown:   domain.PriorityBreakdown(events),
		Retry:       rs,
		Metrics:     m,
	}
	if withEvents {
		out.Events = events
	}
	return out, nil
}

func flushCmd() *cli.Command {
	return &cli.Command{
		Name:  "flush",
		Usage: "Make one delivery attempt from the persisted queue (stop the agent first)",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Skip probing: the operator asked for an attempt now.
			cfg.ProbeURL = ""
			a, err := agent.New(c.Context, cfg, slog.Default(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			res := a.Pipeline().Flush(c.Context)
			out := map[string]any{
				"outcome": res.Outcome.String(),
				"events":  res.Events,
				"groups":  res.Groups,
				"queued":  a.Pipeline().Status().QueueLength,
			}
			if res.Err != nil {
				out["error"] = res.Err.Error()
			}
			if err := writeJSON(c.App.Writer, out); err != nil {
				return err
			}
			if res.Err != nil {
				return cli.Exit("", 2)
			}
			return nil
		},
	}
}

func classifyCmd() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Print the priority a draft would receive",
		ArgsUsage: "<event-type>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "severity", Usage: "info, warning or critical"},
			&cli.StringFlag{Name: "threat", Usage: "metadata threat level: low, medium, high or critical"},
			&cli.BoolFlag{Name: "suspicious", Usage: "set metadata suspicious flag"},
			&cli.StringFlag{Name: "policy", Usage: "Rego policy file (default: built-in rules)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("classify requires exactly one event type", 1)
			}
			cls, err := agent.NewClassifier(c.Context, &config.Config{PolicyFile: c.String("policy")}, nil)
			if err != nil {
				return err
			}
			d := domain.Draft{
				Type:     domain.EventType(c.Args().First()),
				Severity: domain.Severity(c.String("severity")),
				Metadata: domain.Metadata{
					ThreatLevel: domain.ThreatLevel(c.String("threat")),
					Suspicious:  c.Bool("suspicious"),
				},
			}
			_, err = fmt.Fprintln(c.App.Writer, cls.Classify(d).String())
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
