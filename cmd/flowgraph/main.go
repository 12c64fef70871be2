// Command flowgraph runs, validates, plans and renders workflow diagrams.
package main

import (
	"fmt"
	"os"
)

const usage = `usage: flowgraph <command> [flags]

commands:
  run        run a diagram by id, trigger code or file
  validate   validate a diagram
  plan       print the level-by-level execution plan
  render     render a diagram as mermaid, ascii, png or svg
  stats      print execution statistics of a diagram
  schedule   add, list, remove or serve cron schedules
  version    print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var code int
	switch cmd {
	case "run":
		code = runRun(args)
	case "validate":
		code = runValidate(args)
	case "plan":
		code = runPlan(args)
	case "render":
		code = runRender(args)
	case "stats":
		code = runStats(args)
	case "schedule":
		code = runSchedule(args)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		code = 2
	}
	os.Exit(code)
}
