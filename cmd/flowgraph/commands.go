package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rendis/flowgraph/internal/diagram"
	"github.com/rendis/flowgraph/internal/engine"
	"github.com/rendis/flowgraph/internal/planner"
	"github.com/rendis/flowgraph/internal/provider"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/pkg/schema"
)

// source selects the diagram a command works on.
type source struct {
	file    string
	trigger string
}

func (s *source) register(fs *flag.FlagSet) {
	fs.StringVar(&s.file, "file", "", "read the diagram from a local .json, .yaml, .yml or .hcl file")
	fs.StringVar(&s.trigger, "trigger", "", "resolve the diagram by trigger code")
}

// load resolves the diagram from -file, -trigger or the first positional argument.
func (s *source) load(ctx context.Context, p provider.Provider, args []string) (*schema.Diagram, error) {
	switch {
	case s.file != "":
		data, err := os.ReadFile(s.file)
		if err != nil {
			return nil, err
		}
		d, err := provider.Decode(s.file, data)
		if err != nil {
			return nil, err
		}
		if d.ID == "" {
			d.ID = strings.TrimSuffix(filepath.Base(s.file), filepath.Ext(s.file))
		}
		return d, nil
	case s.trigger != "":
		return p.LoadByTrigger(ctx, s.trigger)
	case len(args) > 0:
		return p.Load(ctx, args[0])
	default:
		return nil, schema.NewError(schema.ErrCodeValidation, "a diagram id, -trigger or -file is required")
	}
}

func parseVars(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	vars := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid -vars: %v", err)
	}
	return vars, nil
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var src source
	src.register(fs)
	varsJSON := fs.String("vars", "", "initial variables as a JSON object")
	breakpoints := fs.String("break", "", "comma-separated node ids to pause at; press Enter to continue")
	watch := fs.Bool("watch", false, "print node events while the run progresses")
	asJSON := fs.Bool("json", false, "print the full run result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, loadConfig())
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	d, err := src.load(ctx, a.provider, fs.Args())
	if err != nil {
		return fail(err)
	}
	vars, err := parseVars(*varsJSON)
	if err != nil {
		return fail(err)
	}

	ec := engine.NewExecutionContext()
	for _, id := range splitList(*breakpoints) {
		ec.AddBreakpoint(id)
	}

	events, unsubscribe, err := a.hub.Subscribe(ctx, streaming.EventFilter{DiagramID: d.ID})
	if err != nil {
		return fail(err)
	}
	defer unsubscribe()
	go printEvents(events, ec, *watch)

	// Stop the run instead of killing the process, so the execution log is closed.
	go func() {
		<-ctx.Done()
		ec.Stop()
	}()

	res, runErr := a.engine.RunWithContext(context.WithoutCancel(ctx), ec, d, vars)
	if res == nil {
		return fail(runErr)
	}
	if *asJSON {
		printJSON(os.Stdout, res)
	} else {
		printRunSummary(os.Stdout, res)
	}
	if runErr != nil {
		return 1
	}
	return 0
}

// printEvents reports progress and resumes breakpoints on Enter.
func printEvents(events <-chan streaming.StreamEvent, ec *engine.ExecutionContext, watch bool) {
	stdin := bufio.NewReader(os.Stdin)
	for ev := range events {
		switch ev.EventType {
		case schema.EventBreakpointHit:
			fmt.Fprintf(os.Stderr, "breakpoint at %s, press Enter to continue\n", ev.NodeID)
			_, _ = stdin.ReadString('\n')
			ec.Resume()
		case schema.EventNodeStarted, schema.EventNodeCompleted, schema.EventNodeFailed:
			if watch {
				fmt.Fprintf(os.Stderr, "%-16s %s\n", ev.EventType, ev.NodeID)
			}
		}
	}
}

func printRunSummary(w io.Writer, res *schema.RunResult) {
	fmt.Fprintf(w, "run %s: %s in %s\n", res.RunID, engine.RunStatusOf(res), res.Duration())
	fmt.Fprintf(w, "nodes: %d completed, %d failed, %d skipped\n",
		res.Count(schema.NodeStatusCompleted), res.Count(schema.NodeStatusError), res.Count(schema.NodeStatusSkipped))
	if res.Error != "" {
		fmt.Fprintf(w, "error at %s: %s\n", res.FailedNode, res.Error)
	}
	if len(res.Variables) > 0 {
		fmt.Fprintln(w, "variables:")
		printJSON(w, res.Variables)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	var src source
	src.register(fs)
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	d, err := src.load(ctx, a.provider, fs.Args())
	if err != nil {
		return fail(err)
	}
	result := a.validator.Validate(d)
	if *asJSON {
		printJSON(os.Stdout, result)
	} else {
		for _, issue := range result.Issues() {
			fmt.Println(issue)
		}
		if result.Valid() {
			fmt.Printf("%s is valid\n", d.ID)
		}
	}
	if !result.Valid() {
		return 1
	}
	return 0
}

func runPlan(args []string) int {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	var src source
	src.register(fs)
	asJSON := fs.Bool("json", false, "print the plan as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	d, err := src.load(ctx, a.provider, fs.Args())
	if err != nil {
		return fail(err)
	}
	plan := planner.Build(d)
	summary := planner.Summary(d)
	if *asJSON {
		printJSON(os.Stdout, map[string]any{
			"levels":      summary,
			"startNodes":  plan.StartNodes,
			"isolated":    plan.Isolated,
			"unprocessed": plan.Unprocessed,
		})
		return 0
	}
	for _, level := range summary {
		fmt.Printf("level %d\n", level.Level)
		for _, n := range level.Nodes {
			fmt.Printf("  %-20s %-16s %s\n", n.ID, n.Type, n.Label)
		}
	}
	if plan.HasCycle() {
		fmt.Printf("cycle: %s\n", strings.Join(plan.Unprocessed, ", "))
		return 1
	}
	return 0
}

func runRender(args []string) int {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	var src source
	src.register(fs)
	format := fs.String("format", "ascii", "output format: ascii, mermaid, png, svg")
	out := fs.String("o", "", "output file (default stdout)")
	execID := fs.String("execution", "", "overlay node statuses of a recorded execution")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	d, err := src.load(ctx, a.provider, fs.Args())
	if err != nil {
		return fail(err)
	}

	var statuses map[string]schema.NodeStatus
	if *execID != "" {
		nodes, err := a.store.ReplayNodes(ctx, *execID)
		if err != nil {
			return fail(err)
		}
		statuses = nodeStatuses(nodes)
	}
	model := diagram.Build(d, nil, statuses)

	var data []byte
	switch *format {
	case "ascii":
		data = []byte(diagram.RenderASCII(model))
	case "mermaid":
		data = []byte(diagram.RenderMermaid(model))
	case "png", "svg":
		data, err = diagram.Render(ctx, model, diagram.Format(*format))
		if err != nil {
			return fail(err)
		}
	default:
		return fail(fmt.Errorf("unknown format %q", *format))
	}

	if *out == "" {
		_, _ = os.Stdout.Write(data)
		return 0
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fail(err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", *out)
	return 0
}

// nodeStatuses maps persisted node rows to run statuses.
func nodeStatuses(nodes map[string]*store.NodeExecution) map[string]schema.NodeStatus {
	out := make(map[string]schema.NodeStatus, len(nodes))
	for id, n := range nodes {
		switch n.Status {
		case store.NodeCompleted:
			out[id] = schema.NodeStatusCompleted
		case store.NodeFailed:
			out[id] = schema.NodeStatusError
		case store.NodeSkipped:
			out[id] = schema.NodeStatusSkipped
		default:
			out[id] = schema.NodeStatusProcessing
		}
	}
	return out
}

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print the statistics as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		return fail(errors.New("a diagram id is required"))
	}

	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	stats, err := a.flowlog.Stats(ctx, fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	if *asJSON {
		printJSON(os.Stdout, stats)
		return 0
	}
	fmt.Printf("diagram:      %s\n", stats.DiagramID)
	fmt.Printf("executions:   %d (%d succeeded, %d failed, %d cancelled)\n",
		stats.Total, stats.Succeeded, stats.Failed, stats.Cancelled)
	fmt.Printf("success rate: %.2f%%\n", stats.SuccessRate)
	fmt.Printf("avg duration: %.0fms\n", stats.AvgDurationMs)
	for _, e := range stats.Latest {
		fmt.Printf("  %s  %-9s %-8s %s\n", e.StartedAt.Format("2006-01-02 15:04:05"), e.Status, e.TriggerType, e.ID)
	}
	return 0
}
