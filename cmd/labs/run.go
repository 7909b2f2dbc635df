package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/reactive-labs/internal/config"
	"github.com/signalsfoundry/reactive-labs/internal/fetch"
	"github.com/signalsfoundry/reactive-labs/internal/labs"
	"github.com/signalsfoundry/reactive-labs/internal/logging"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
	"github.com/signalsfoundry/reactive-labs/internal/sched"
	"github.com/signalsfoundry/reactive-labs/timectrl"
)

// simulatedLatency is how long canned posts take to arrive in simulated runs.
const simulatedLatency = 500 * time.Millisecond

type runOptions struct {
	simulated bool
	duration  time.Duration
	output    string
	commands  []string
}

func runCmd(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <lab>",
		Short: "Run one lab and print its log",
		Long: `Run one lab until it settles or --for elapses, then print its results and log.

With --simulated, time jumps from one timer to the next and network calls are
answered from canned posts, so the run finishes instantly and deterministically.
Commands for interactive labs are sent right after the start, in order:

  labs run subject --simulated --command emit --command subscribe --command emit --command complete
  labs run search --simulated --command input:qui`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			lc := cfg.Logging()
			lc.Output = os.Stderr
			return runLab(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], ro, logging.New(lc))
		},
	}
	cmd.Flags().BoolVar(&ro.simulated, "simulated", false, "jump between timers instead of waiting on the wall clock")
	cmd.Flags().DurationVar(&ro.duration, "for", 10*time.Second, "stop waiting after this much scenario time")
	cmd.Flags().StringVarP(&ro.output, "output", "o", "text", "output format: text, json or yaml")
	cmd.Flags().StringArrayVar(&ro.commands, "command", nil, "command to send after start, as name or name:arg (repeatable)")
	return cmd
}

func runLab(ctx context.Context, out io.Writer, cfg config.Config, name string, ro *runOptions, log logging.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now().UTC()

	var (
		s  *sched.Scheduler
		tc *timectrl.TimeController
		f  fetch.Fetcher
	)
	if ro.simulated {
		s = sched.NewSimulated(start)
		f = fetch.NewSim(s).HandlePrefix(strings.TrimRight(cfg.PostsURL, "/")+"/posts", fetch.Route{
			Latency: simulatedLatency,
			Body:    cannedPosts(),
		})
	} else {
		tc = timectrl.NewTimeController(start, cfg.Tick, cfg.Mode())
		s = sched.New(tc)
		tc.AddListener(func(time.Time) { s.RunDue() })
		f = fetch.NewHTTP(s, fetch.WithLogger(log))
	}
	defer s.Close()

	reg := labs.Default(labs.Deps{Config: cfg.Labs, Fetcher: f, PostsURL: cfg.PostsURL})
	def, err := reg.New(name)
	if err != nil {
		return err
	}
	m := scenario.NewMachine(def, s, scenario.WithLogger(log))
	defer m.Close()

	settled := make(chan struct{})
	var once sync.Once
	sub := m.Subscribe(func() {
		if m.State().IsTerminal() {
			once.Do(func() { close(settled) })
		}
	})
	defer sub.Unsubscribe()

	if _, err := m.Start(ctx); err != nil {
		return err
	}
	for _, c := range ro.commands {
		cmdName, arg, _ := strings.Cut(c, ":")
		if err := m.Command(cmdName, arg); err != nil {
			return fmt.Errorf("command %q: %w", cmdName, err)
		}
	}

	if ro.simulated {
		deadline := start.Add(ro.duration)
		for !m.State().IsTerminal() {
			next, ok := s.NextDeadline()
			if !ok || next.After(deadline) {
				break
			}
			s.AdvanceTo(next)
		}
	} else {
		runCtx, cancel := context.WithTimeout(ctx, ro.duration)
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			_ = tc.Run(runCtx, 0)
		}()
		select {
		case <-settled:
		case <-runCtx.Done():
		}
		cancel()
		<-stopped
	}

	return printSnapshot(out, m.Snapshot(), ro.output)
}

func printSnapshot(out io.Writer, snap scenario.Snapshot, format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		fmt.Fprintf(out, "lab: %s\n", snap.Lab)
		fmt.Fprintf(out, "state: %s\n", snap.State)
		if snap.Error != "" {
			fmt.Fprintf(out, "error: %s\n", snap.Error)
		}
		for _, r := range snap.Results {
			fmt.Fprintf(out, "result: %s\n", r)
		}
		fmt.Fprintln(out, "log:")
		for _, e := range snap.Log {
			fmt.Fprintf(out, "%s [%s] %s\n", e.Timestamp, e.Kind, e.Message)
		}
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// cannedPosts stands in for the posts API in simulated runs.
func cannedPosts() []any {
	titles := []string{
		"sunt aut facere repellat provident occaecati excepturi optio reprehenderit",
		"qui est esse",
		"ea molestias quasi exercitationem repellat qui ipsa sit aut",
		"eum et est occaecati",
		"nesciunt quas odio",
		"dolorem eum magni eos aperiam quia",
		"magnam facilis autem",
		"dolorem dolore est ipsam",
		"nesciunt iure omnis dolorem tempora et accusantium",
		"optio molestias id quia eum",
		"et ea vero quia laudantium autem",
		"in quibusdam tempore odit est dolorem",
	}
	posts := make([]any, len(titles))
	for i, t := range titles {
		posts[i] = map[string]any{"userId": 1.0, "id": float64(i + 1), "title": t}
	}
	return posts
}
