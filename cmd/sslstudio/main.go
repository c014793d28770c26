/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"sslstudio/internal/binding"
	"sslstudio/internal/config"
	"sslstudio/internal/crash"
	"sslstudio/internal/engine"
	"sslstudio/internal/export"
	"sslstudio/internal/history"
	applog "sslstudio/internal/log"
	"sslstudio/internal/render"
	"sslstudio/internal/telemetry"
	"sslstudio/internal/ui"
	"sslstudio/internal/version"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "SSL Studio")
	fmt.Fprintf(w, "Version: %s\n", version.String())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  sslstudio version|-v|--version                 Show version")
	fmt.Fprintln(w, "  sslstudio render [flags] [<file>|-e <text>]     Render once and save the frame")
	fmt.Fprintln(w, "  sslstudio watch [flags] <file>                  Re-render <file> on every save")
	fmt.Fprintln(w, "  sslstudio sizes                                 List aspect ratios and resolutions")
	fmt.Fprintln(w, "  sslstudio history [<n>]                         Show the last <n> renders")
	fmt.Fprintln(w, "  sslstudio config [path|show|init [--force]]     Inspect or create the user config file")
	fmt.Fprintln(w, "  sslstudio ui                                    Launch desktop UI (build with -tags fyne for full UI)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags for render and watch:")
	fmt.Fprintln(w, "  --out <path>      write the frame here (default: downloads dir)")
	fmt.Fprintln(w, "  --ratio <n>       aspect ratio index")
	fmt.Fprintln(w, "  --res <n>         resolution index (default: middle of the list)")
	fmt.Fprintln(w, "  --format png|pdf  output format")
}

func main() {
	cfg, cfgErr := config.Load()
	applog.Init(logOptions(cfg))
	l := applog.WithComponent("cli")
	if cfgErr != nil {
		l.Warn("config ignored", slog.Any("err", cfgErr))
	}

	tcfg := telemetry.FromEnv()
	tcfg.OptIn = tcfg.OptIn || cfg.General.TelemetryOptIn
	tc := telemetry.New(tcfg)
	telemetry.SetDefault(tc)

	sess := &crash.Session{}
	if dir, err := config.Dir(); err == nil {
		sess.Dir = dir
	}
	defer crash.Recover(sess)

	l.Debug("start", slog.Int("args", len(os.Args)))
	code := run(cfg, sess, tc, os.Args[1:], os.Stdout)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	tc.Flush(ctx)
	cancel()
	tc.Close()
	if code != 0 {
		os.Exit(code)
	}
}

func logOptions(cfg config.AppConfig) applog.Options {
	return applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	}
}

// run dispatches one command and returns the process exit code.
func run(cfg config.AppConfig, sess *crash.Session, tc *telemetry.Client, args []string, stdout io.Writer) int {
	l := applog.WithComponent("cli")
	if len(args) == 0 {
		usage(stdout)
		return 0
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, "SSL Studio")
		fmt.Fprintln(stdout, version.String())
		return 0
	case "render":
		err = cmdRender(ctx, cfg, tc, args[1:], stdout)
	case "watch":
		err = cmdWatch(ctx, cfg, sess, tc, args[1:], stdout)
	case "sizes":
		err = cmdSizes(ctx, cfg, stdout)
	case "history":
		err = cmdHistory(ctx, cfg, args[1:], stdout)
	case "config":
		err = cmdConfig(cfg, args[1:], stdout)
	case "ui":
		err = ui.Run(ui.Options{
			Config:    cfg,
			Loader:    loader(cfg),
			History:   openHistory(cfg, l),
			Telemetry: tc,
			Crash:     sess,
			Logger:    applog.WithComponent("ui"),
		})
	default:
		fmt.Fprintf(stdout, "unknown command %q\n", args[0])
		usage(stdout)
		return 2
	}
	if errors.Is(err, errUsage) {
		usage(stdout)
		return 2
	}
	if err != nil {
		l.Error(args[0]+" failed", slog.Any("err", err))
		fmt.Fprintln(stdout, "Error:", err)
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

func loader(cfg config.AppConfig) engine.Loader {
	return engine.WasmLoader(cfg.Engine.WasmPath, engine.WasmOptions{
		MemoryLimitPages: cfg.Engine.MemoryLimitPages,
		CacheDir:         cfg.Engine.CacheDir,
		Logger:           applog.WithComponent("engine"),
	})
}

// openHistory returns nil when history is disabled or unavailable.
func openHistory(cfg config.AppConfig, l *slog.Logger) *history.Store {
	if !cfg.History.Enabled || cfg.History.Path == "" {
		return nil
	}
	st, err := history.Open(cfg.History.Path, history.Options{
		MaxEntries: cfg.History.MaxEntries,
		ThumbSize:  cfg.History.ThumbSize,
	})
	if err != nil {
		l.Warn("history disabled", slog.Any("err", err))
		return nil
	}
	return st
}

// renderFlags are shared by render and watch.
type renderFlags struct {
	out    string
	expr   string
	ratio  int
	res    int
	format string
	files  []string
}

func parseRenderFlags(name string, args []string, cfg config.AppConfig) (renderFlags, error) {
	var rf renderFlags
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&rf.out, "out", "", "output path")
	fs.StringVar(&rf.expr, "e", "", "source text")
	fs.IntVar(&rf.ratio, "ratio", -1, "aspect ratio index")
	fs.IntVar(&rf.res, "res", -1, "resolution index")
	fs.StringVar(&rf.format, "format", cfg.Export.Format, "png or pdf")
	if err := fs.Parse(args); err != nil {
		return rf, fmt.Errorf("%w: %v", errUsage, err)
	}
	rf.files = fs.Args()
	return rf, nil
}

// pipeline is one headless engine session.
type pipeline struct {
	handle *engine.Handle
	loop   *render.Loop
	orch   *render.Orchestrator
	exp    *export.Controller
	hist   *history.Store
}

func newPipeline(ctx context.Context, cfg config.AppConfig, rf renderFlags, sched render.Scheduler, tc *telemetry.Client, stdout io.Writer) (*pipeline, error) {
	l := applog.WithComponent("cli")
	format, err := export.ParseFormat(rf.format)
	if err != nil {
		return nil, err
	}
	p := &pipeline{handle: engine.NewHandle(loader(cfg)), hist: openHistory(cfg, l)}
	if loop, ok := sched.(*render.Loop); ok {
		p.loop = loop
	}
	if err := p.handle.Initialize(ctx); err != nil {
		p.close(ctx)
		return nil, err
	}
	var after func(render.Result)
	p.orch, err = render.New(render.Options{
		Handle:    p.handle,
		Scheduler: sched,
		AfterPaint: func(res render.Result) {
			if after != nil {
				after(res)
			}
			tc.Render(res)
		},
	})
	if err != nil {
		p.close(ctx)
		return nil, err
	}
	if p.hist != nil {
		after = p.hist.AfterPaint(p.orch.Surface())
	}

	sel, err := p.orch.Geometry()
	if err != nil {
		p.close(ctx)
		return nil, err
	}
	if rf.ratio >= 0 {
		if err := sel.SetAspectRatio(rf.ratio); err != nil {
			p.close(ctx)
			return nil, fmt.Errorf("--ratio %d: %w", rf.ratio, err)
		}
	}
	if rf.res >= 0 {
		if err := sel.SetResolution(rf.res); err != nil {
			p.close(ctx)
			return nil, fmt.Errorf("--res %d: %w", rf.res, err)
		}
	}

	var picker export.Picker
	if rf.out != "" {
		picker = export.FilePicker{Path: rf.out}
	}
	p.exp = export.NewController(export.Options{
		Picker:     picker,
		Downloader: export.DirDownloader{Dir: cfg.Export.DownloadsDir},
		Format:     format,
		FileName:   cfg.Export.FileName,
		Notify:     func(msg string) { fmt.Fprintln(stdout, msg) },
	})
	return p, nil
}

// save exports the current frame and reports where it went.
func (p *pipeline) save(ctx context.Context, tc *telemetry.Client, stdout io.Writer) error {
	out := p.exp.Export(ctx, p.orch.Surface().Image())
	tc.Export(out)
	if err := out.Err(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %d bytes to %s (%s)\n", out.Bytes, out.Location, out.Path)
	return nil
}

// close drains queued cycles before the engine and history they use go away.
func (p *pipeline) close(ctx context.Context) {
	if p.loop != nil {
		p.loop.Close()
	}
	if p.hist != nil {
		_ = p.hist.Close()
	}
	_ = p.handle.Close(ctx)
}

func cmdRender(ctx context.Context, cfg config.AppConfig, tc *telemetry.Client, args []string, stdout io.Writer) error {
	rf, err := parseRenderFlags("render", args, cfg)
	if err != nil {
		return err
	}
	src := cfg.Engine.DefaultSource
	switch {
	case rf.expr != "" && len(rf.files) > 0:
		return fmt.Errorf("%w: -e and <file> are exclusive", errUsage)
	case rf.expr != "":
		src = rf.expr
	case len(rf.files) == 1:
		data, err := os.ReadFile(rf.files[0])
		if err != nil {
			return err
		}
		src = string(data)
	case len(rf.files) > 1:
		return fmt.Errorf("%w: render takes one file", errUsage)
	}

	p, err := newPipeline(ctx, cfg, rf, render.Inline{}, tc, stdout)
	if err != nil {
		return err
	}
	defer p.close(ctx)

	sel, _ := p.orch.Geometry()
	ch, err := p.orch.TriggerWith(ctx, src, sel.Spec())
	if err != nil {
		return err
	}
	res, err := render.Wait(ctx, ch)
	if err != nil {
		return err
	}
	if res.Err != nil {
		return res.Err
	}
	fmt.Fprintf(stdout, "Rendered %dx%d (%s) in %s\n", res.Width, res.Height, sel.Label(), res.Duration.Round(time.Millisecond))
	return p.save(ctx, tc, stdout)
}

func cmdWatch(ctx context.Context, cfg config.AppConfig, sess *crash.Session, tc *telemetry.Client, args []string, stdout io.Writer) error {
	rf, err := parseRenderFlags("watch", args, cfg)
	if err != nil {
		return err
	}
	if len(rf.files) != 1 {
		return fmt.Errorf("%w: watch requires <file>", errUsage)
	}
	path := rf.files[0]
	sess.Source = func() string {
		data, _ := os.ReadFile(path)
		return string(data)
	}

	loop := render.NewLoop(func(v any) { crash.Handle(sess, v, debug.Stack()) })
	p, err := newPipeline(ctx, cfg, rf, loop, tc, stdout)
	if err != nil {
		loop.Close()
		return err
	}
	defer p.close(ctx)

	l := applog.WithComponent("watch")
	w := &binding.Watcher{
		Path:   path,
		Logger: l,
		Trigger: func(src string) {
			ch, err := p.orch.Trigger(ctx, src)
			if err != nil {
				l.Warn("trigger failed", slog.Any("err", err))
				return
			}
			go func() {
				res, err := render.Wait(ctx, ch)
				if err != nil {
					return
				}
				if res.Err != nil {
					fmt.Fprintln(stdout, "Render failed:", res.Err)
					return
				}
				fmt.Fprintf(stdout, "Rendered %dx%d in %s\n", res.Width, res.Height, res.Duration.Round(time.Millisecond))
				if err := p.save(ctx, tc, stdout); err != nil {
					fmt.Fprintln(stdout, "Save failed:", err)
				}
			}()
		},
	}
	fmt.Fprintf(stdout, "Watching %s (Ctrl+C to stop)\n", path)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func cmdSizes(ctx context.Context, cfg config.AppConfig, stdout io.Writer) error {
	h := engine.NewHandle(loader(cfg))
	if err := h.Initialize(ctx); err != nil {
		return err
	}
	defer func() { _ = h.Close(ctx) }()
	eng, err := h.Engine()
	if err != nil {
		return err
	}
	defRatio, defRes := eng.DefaultGeometry()
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RATIO\tINDEX\tRESOLUTIONS")
	for i, label := range eng.AspectRatios() {
		mark := " "
		if i == defRatio {
			mark = "*"
		}
		dims := eng.Resolutions(i)
		shown := make([]string, len(dims))
		for j, d := range dims {
			shown[j] = fmt.Sprintf("%d:%s", j, d)
			if i == defRatio && j == defRes {
				shown[j] += "*"
			}
		}
		fmt.Fprintf(tw, "%s%s\t%d\t%s\n", mark, label, i, strings.Join(shown, " "))
	}
	return tw.Flush()
}

func cmdHistory(ctx context.Context, cfg config.AppConfig, args []string, stdout io.Writer) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: history count must be a positive number", errUsage)
		}
		limit = n
	}
	if !cfg.History.Enabled {
		fmt.Fprintln(stdout, "History is disabled.")
		return nil
	}
	st, err := history.Open(cfg.History.Path, history.Options{})
	if err != nil {
		return err
	}
	defer st.Close()
	entries, err := st.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No renders recorded yet.")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tGEOMETRY\tSIZE\tTOOK\tSOURCE")
	for _, e := range entries {
		size := fmt.Sprintf("%dx%d", e.Width, e.Height)
		if !e.OK() {
			size = "failed"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.At.Local().Format("2006-01-02 15:04:05"), e.Spec, size,
			e.Duration.Round(time.Millisecond), preview(e.Source, 32))
	}
	return tw.Flush()
}

func cmdConfig(cfg config.AppConfig, args []string, stdout io.Writer) error {
	sub := "path"
	if len(args) > 0 {
		sub = args[0]
	}
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	switch sub {
	case "path":
		fmt.Fprintln(stdout, path)
		return nil
	case "show":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	case "init":
		force := len(args) > 1 && args[1] == "--force"
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists; use --force to overwrite", path)
		}
		if err := config.Save(config.Defaults()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintln(stdout, "Wrote default config to", path)
		return nil
	default:
		return fmt.Errorf("%w: unknown config command %q", errUsage, sub)
	}
}

// preview shortens s to one line of at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
