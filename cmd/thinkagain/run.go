package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/mbroadst/thinkagain/engine"
	"github.com/mbroadst/thinkagain/engine/dynamo"
	"github.com/mbroadst/thinkagain/engine/memory"
	"github.com/mbroadst/thinkagain/odm"
	"github.com/mbroadst/thinkagain/schema"
)

var errUsage = errors.New("usage")

type command struct {
	flags *flag.FlagSet
	usage string
	short string
	exec  func(ctx context.Context, out io.Writer, logger *slog.Logger, args []string) error
}

func (c *command) name() string {
	name, _, _ := strings.Cut(c.usage, " ")
	return name
}

func commands() []*command {
	return []*command{validateCmd(), checkCmd(), provisionCmd()}
}

func printUsage(w io.Writer, cmds []*command) {
	fmt.Fprintln(w, "Usage: thinkagain [--verbose] <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range cmds {
		fmt.Fprintf(w, "  %-36s %s\n", c.usage, c.short)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("thinkagain", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	global.SetInterspersed(false)
	verbose := global.BoolP("verbose", "v", false, "log setup progress")
	help := global.BoolP("help", "h", false, "show help")

	cmds := commands()
	if err := global.Parse(args); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		printUsage(stderr, cmds)
		return 1
	}
	if *help || global.NArg() == 0 {
		printUsage(stdout, cmds)
		return 0
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	name := global.Arg(0)
	for _, c := range cmds {
		if c.name() != name {
			continue
		}
		c.flags.SetOutput(io.Discard)
		if err := c.flags.Parse(global.Args()[1:]); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				fmt.Fprintln(stdout, "Usage: thinkagain", c.usage)
				fmt.Fprintln(stdout, c.flags.FlagUsages())
				return 0
			}
			fmt.Fprintln(stderr, "error:", err)
			return 1
		}
		if err := c.exec(ctx, stdout, logger, c.flags.Args()); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			if errors.Is(err, errUsage) {
				fmt.Fprintln(stderr, "usage: thinkagain", c.usage)
			}
			return 1
		}
		return 0
	}

	fmt.Fprintf(stderr, "error: unknown command %q\n", name)
	printUsage(stderr, cmds)
	return 1
}

// build applies defs to a fresh DB over e and waits for every model.
func build(ctx context.Context, e engine.Engine, logger *slog.Logger, defs *schema.Definitions) (*odm.DB, error) {
	cfg := odm.DefaultConfig()
	cfg.Logger = logger
	db := odm.New(e, cfg)
	if _, err := db.Apply(defs); err != nil {
		return nil, err
	}
	if err := db.Ready(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func describe(out io.Writer, db *odm.DB, tableName func(string) string) {
	for _, m := range db.Models() {
		fmt.Fprintf(out, "%s (pk %s)\n", tableName(m.Name()), m.PrimaryKey())
		for _, j := range m.Joins() {
			line := fmt.Sprintf("  %s %s -> %s", j.Type, j.Field, j.Model.Name())
			if j.Link != "" {
				line += " via " + tableName(j.Link)
			}
			fmt.Fprintln(out, line)
		}
	}
}

func validateCmd() *command {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	return &command{
		flags: fs,
		usage: "validate <definitions>",
		short: "Check a definition file and print its models",
		exec: func(ctx context.Context, out io.Writer, logger *slog.Logger, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: expected one definition file", errUsage)
			}
			defs, err := schema.LoadDefinitions(args[0])
			if err != nil {
				return err
			}
			db, err := build(ctx, memory.New(), logger, defs)
			if err != nil {
				return err
			}
			describe(out, db, func(name string) string { return name })
			return nil
		},
	}
}

func checkCmd() *command {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	model := fs.StringP("model", "m", "", "model whose schema the document must satisfy (required)")
	return &command{
		flags: fs,
		usage: "check -m <model> <definitions> <document>",
		short: "Validate a HuJSON document against a model schema",
		exec: func(_ context.Context, out io.Writer, _ *slog.Logger, args []string) error {
			if len(args) != 2 || *model == "" {
				return fmt.Errorf("%w: expected --model, a definition file and a document", errUsage)
			}
			defs, err := schema.LoadDefinitions(args[0])
			if err != nil {
				return err
			}
			validators, err := defs.Validators()
			if err != nil {
				return err
			}
			v, ok := validators[*model]
			if !ok {
				return fmt.Errorf("model %q has no schema", *model)
			}
			doc, err := schema.LoadDocument(args[1])
			if err != nil {
				return err
			}
			if violations := v.Validate(doc); len(violations) > 0 {
				for _, msg := range violations {
					fmt.Fprintln(out, msg)
				}
				return fmt.Errorf("%s: %d violations", args[1], len(violations))
			}
			fmt.Fprintln(out, "ok")
			return nil
		},
	}
}

func provisionCmd() *command {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	prefix := fs.String("prefix", "", "table name prefix")
	timeout := fs.Duration("timeout", 10*time.Minute, "time allowed for tables and indexes to become active")
	return &command{
		flags: fs,
		usage: "provision [--prefix p] <definitions>",
		short: "Create DynamoDB tables and indexes for a definition file",
		exec: func(ctx context.Context, out io.Writer, logger *slog.Logger, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: expected one definition file", errUsage)
			}
			defs, err := schema.LoadDefinitions(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, *timeout)
			defer cancel()

			cfg := dynamo.DefaultConfig()
			cfg.TablePrefix = *prefix
			store, err := dynamo.Open(ctx, cfg)
			if err != nil {
				return err
			}
			db, err := build(ctx, store, logger, defs)
			if err != nil {
				return err
			}
			describe(out, db, store.TableName)
			return nil
		},
	}
}
