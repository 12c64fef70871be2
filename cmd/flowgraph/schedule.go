package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendis/flowgraph/internal/scheduler"
	"github.com/rendis/flowgraph/internal/store"
)

const scheduleUsage = `usage: flowgraph schedule <add|list|remove|serve> [flags]

  add <diagram-id> <cron>   create a schedule ("*/5 * * * *", "@hourly", ...)
  list                      list schedules
  remove <schedule-id>      delete a schedule
  serve                     run due schedules until interrupted; SIGHUP reloads settings
`

func runSchedule(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, scheduleUsage)
		return 2
	}
	switch args[0] {
	case "add":
		return runScheduleAdd(args[1:])
	case "list":
		return runScheduleList(args[1:])
	case "remove", "rm":
		return runScheduleRemove(args[1:])
	case "serve":
		return runScheduleServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown schedule command %q\n\n%s", args[0], scheduleUsage)
		return 2
	}
}

func newScheduler(a *app) (*scheduler.Scheduler, error) {
	return scheduler.NewScheduler(a.store, a.engine, a.logger,
		scheduler.WithTick(time.Duration(a.cfg.ScheduleTick)),
		scheduler.WithPoolSize(a.cfg.PoolSize),
	)
}

func runScheduleAdd(args []string) int {
	fs := flag.NewFlagSet("schedule add", flag.ExitOnError)
	varsJSON := fs.String("vars", "", "variables passed to every run, as a JSON object")
	disabled := fs.Bool("disabled", false, "create the schedule disabled")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprint(os.Stderr, scheduleUsage)
		return 2
	}
	vars, err := parseVars(*varsJSON)
	if err != nil {
		return fail(err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	if _, err := a.provider.Load(ctx, fs.Arg(0)); err != nil {
		return fail(err)
	}
	sched, err := newScheduler(a)
	if err != nil {
		return fail(err)
	}
	defer sched.Close()

	sc := &store.Schedule{
		DiagramID:      fs.Arg(0),
		CronExpression: fs.Arg(1),
		Variables:      vars,
		Enabled:        !*disabled,
	}
	if err := sched.Add(ctx, sc); err != nil {
		return fail(err)
	}
	fmt.Printf("schedule %s created, next run %s\n", sc.ID, sc.NextRunAt.Format(time.RFC3339))
	return 0
}

func runScheduleList(args []string) int {
	fs := flag.NewFlagSet("schedule list", flag.ExitOnError)
	diagramID := fs.String("diagram", "", "only schedules of this diagram")
	asJSON := fs.Bool("json", false, "print the schedules as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	schedules, err := a.store.ListSchedules(ctx, store.ScheduleFilter{DiagramID: *diagramID})
	if err != nil {
		return fail(err)
	}
	if *asJSON {
		printJSON(os.Stdout, schedules)
		return 0
	}
	for _, sc := range schedules {
		next, last := "-", "-"
		if sc.NextRunAt != nil {
			next = sc.NextRunAt.Format(time.RFC3339)
		}
		if sc.LastRunAt != nil {
			last = fmt.Sprintf("%s (%s)", sc.LastRunAt.Format(time.RFC3339), sc.LastRunStatus)
		}
		state := "enabled"
		if !sc.Enabled {
			state = "disabled"
		}
		fmt.Printf("%s  %-16s %-14s %-8s next %s  last %s\n", sc.ID, sc.DiagramID, sc.CronExpression, state, next, last)
	}
	return 0
}

func runScheduleRemove(args []string) int {
	if len(args) != 1 {
		fmt.Fprint(os.Stderr, scheduleUsage)
		return 2
	}
	ctx := context.Background()
	a, err := newApp(ctx, loadConfig())
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	if err := a.store.DeleteSchedule(ctx, args[0]); err != nil {
		return fail(err)
	}
	fmt.Printf("schedule %s removed\n", args[0])
	return 0
}

func runScheduleServe(args []string) int {
	fs := flag.NewFlagSet("schedule serve", flag.ExitOnError)
	recoverMissed := fs.Bool("recover", true, "run schedules missed while the server was down")
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

	sched, err := newScheduler(a)
	if err != nil {
		return fail(err)
	}
	defer sched.Close()

	if *recoverMissed {
		if err := sched.RecoverMissed(ctx); err != nil {
			a.logger.Warn("recover missed schedules", slog.String("error", err.Error()))
		}
	}
	if n, err := a.store.PurgeExpiredVariables(ctx); err == nil && n > 0 {
		a.logger.Info("purged expired variables", slog.Int64("count", n))
	}
	if err := sched.Start(ctx); err != nil {
		return fail(err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			if err := sched.Stop(); err != nil {
				a.logger.Warn("stop scheduler", slog.String("error", err.Error()))
			}
			return 0
		case <-hup:
			a.applyConfig(loadConfig())
		}
	}
}
