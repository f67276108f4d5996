// Command lightrpc generates stubs for remote interfaces, checks
// configuration files and shows stored traces.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kanengo/lightrpc"
	"github.com/kanengo/lightrpc/internal/codegen"
	"github.com/kanengo/lightrpc/internal/tool"
	"github.com/kanengo/lightrpc/runtime/traces"
	"github.com/kanengo/lightrpc/runtime/version"
)

//go:generate go install

var commands = map[string]*tool.Command{
	"generate": {
		Name:        "generate",
		Description: "Generate stubs for remote interfaces",
		Help:        codegen.Usage,
		Fn:          generate,
	},
	"config": {
		Name:        "config",
		Description: "Validate a configuration file",
		Help: `Usage:
  lightrpc config <file>

Loads a .toml, .yaml or .yml file, validates its client and server sections
and prints the resulting configuration as YAML.`,
		Fn: config,
	},
	"traces": {
		Name:        "traces",
		Description: "Show traces stored in a trace database",
		Help: `Usage:
  lightrpc traces [-db file] [-app name] [-n limit] [trace id]

Without a trace id, lists the most recent traces. With one, lists its spans.
The database defaults to the one used by trace_db = "default".`,
		Fn: showTraces,
	},
	"version": {
		Name:        "version",
		Description: "Show the lightrpc version",
		Help:        "Usage:\n  lightrpc version",
		Fn:          printVersion,
	},
}

func main() {
	tool.Main(commands)
}

func generate(_ context.Context, args []string) error {
	flags := flag.NewFlagSet("generate", flag.ContinueOnError)
	flags.Usage = func() { _, _ = fmt.Fprintln(os.Stderr, codegen.Usage) }
	if err := flags.Parse(args); err != nil {
		return err
	}
	return codegen.Generate(".", flags.Args())
}

func config(_ context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("want exactly one config file, got %d arguments", len(args))
	}
	cfg, err := lightrpc.LoadConfig(args[0])
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func printVersion(context.Context, []string) error {
	fmt.Printf("lightrpc %s\n", version.Version)
	return nil
}

func showTraces(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("traces", flag.ContinueOnError)
	file := flags.String("db", "", "trace database file")
	app := flags.String("app", "", "only show traces of this application")
	limit := flags.Int("n", 20, "number of traces to show")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *file == "" {
		var err error
		if *file, err = traces.DefaultFile(); err != nil {
			return err
		}
	}
	db, err := traces.OpenDB(ctx, *file)
	if err != nil {
		return err
	}
	defer db.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if flags.NArg() > 0 {
		spans, err := db.QuerySpans(ctx, flags.Arg(0))
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, "SPAN\tPARENT\tKIND\tNAME\tDURATION\tSTATUS")
		for _, s := range spans {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n", s.SpanID, s.ParentSpanID, s.Kind, s.Name,
				duration(s.StartMicros, s.EndMicros), s.Status)
		}
		return nil
	}

	list, err := db.QueryTraces(ctx, *app, *limit)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, "TRACE\tAPP\tVERSION\tNAME\tSTART\tDURATION\tSTATUS")
	for _, t := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%s\n", t.TraceID, t.App, t.Version, t.Name,
			time.UnixMicro(t.StartMicros).Format(time.DateTime), duration(t.StartMicros, t.EndMicros), t.Status)
	}
	return nil
}

func duration(start, end int64) time.Duration {
	return time.Duration(end-start) * time.Microsecond
}
