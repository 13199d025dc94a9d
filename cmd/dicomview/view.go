package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomview/headless"
	"github.com/caio-sobreiro/dicomview/imageref"
	"github.com/caio-sobreiro/dicomview/interfaces"
	"github.com/caio-sobreiro/dicomview/tools"
	"github.com/caio-sobreiro/dicomview/types"
	"github.com/caio-sobreiro/dicomview/viewer"
)

var (
	viewCmd = &cobra.Command{
		Use:   "view",
		Short: "Run an interactive headless viewing session",
		Long: `View starts a headless viewing session against the configured backend and
reads commands from stdin. Type 'help' for the list of commands.`,
		Args: cobra.NoArgs,
		RunE: runView,
	}

	viewLayout  string
	viewWidth   int
	viewHeight  int
	metricsAddr string
)

func init() {
	viewCmd.Flags().StringVar(&viewLayout, "layout", "", "Initial layout, for example 2x2 (default from config)")
	viewCmd.Flags().IntVar(&viewWidth, "width", 512, "Viewport surface width")
	viewCmd.Flags().IntVar(&viewHeight, "height", 512, "Viewport surface height")
	viewCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default from config)")
}

// surface is a fixed-size off-screen drawing target
type surface struct {
	width, height int
}

func (s surface) Size() (int, int) {
	return s.width, s.height
}

// newSession wires the REST client, the headless backend and the viewer.
func newSession(reg prometheus.Registerer, httpClient *http.Client) (*viewer.Session, *headless.Backend, error) {
	c, err := newClient()
	if err != nil {
		return nil, nil, err
	}
	settings, err := viewer.SettingsFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	registry := headless.NewLoaderRegistry()
	registry.RegisterLoader(imageref.SchemeWADOURI, headless.NewHTTPLoader(httpClient))
	backend := headless.NewBackend(registry, headless.WithLogger(slog.Default()))

	opts := []viewer.Option{viewer.WithLogger(slog.Default())}
	if reg != nil {
		opts = append(opts, viewer.WithMetrics(viewer.NewMetrics(reg)))
	}
	session, err := viewer.New(viewer.Dependencies{
		Backend:  backend,
		Studies:  c,
		Uploads:  c,
		Resolver: imageref.NewResolver(cfg.API.BaseURL),
	}, settings, opts...)
	if err != nil {
		return nil, nil, err
	}
	return session, backend, nil
}

func serveMetrics(reg *prometheus.Registry, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info("Serving metrics", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics endpoint stopped", "error", err)
		}
	}()
	return srv
}

func runView(cmd *cobra.Command, args []string) error {
	if viewLayout != "" {
		layout, err := types.ParseLayout(viewLayout)
		if err != nil {
			return err
		}
		cfg.Viewer.Layout = layout
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	session, backend, err := newSession(reg, nil)
	if err != nil {
		return err
	}
	defer session.Shutdown()

	addr := metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Address
	}
	if addr != "" {
		srv := serveMetrics(reg, addr)
		defer srv.Close()
	}

	r := &repl{
		session: session,
		backend: backend,
		surface: surface{width: viewWidth, height: viewHeight},
		out:     cmd.OutOrStdout(),
	}
	return r.run(cmd.Context(), cmd.InOrStdin())
}

var errQuit = errors.New("quit")

const replHelp = `Commands:
  studies               refresh and list studies
  study <uid|#n>        open a study and list its series
  series <uid|#n>       show a series in the first viewport
  close                 close the current study
  tool <name>           make a toolbar tool the primary tool
  tools                 list toolbar tools
  layout <RxC>          switch the viewport grid (1x1, 1x2, 2x2, ...)
  reset [n]             reset the camera of viewport n (default 0)
  scroll <delta>        move through the stack of the first viewport
  upload <path>...      upload files or directories
  delete <uid|#n>       delete a study
  status                show session and viewport state
  retry                 retry a failed initialization
  quit                  end the session`

// repl drives a session from line commands
type repl struct {
	session *viewer.Session
	backend *headless.Backend
	surface interfaces.Surface
	out     io.Writer
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	if err := r.mountAll(ctx); err != nil {
		return err
	}
	if err := r.session.Start(ctx); err != nil {
		fmt.Fprintf(r.out, "Failed to initialize viewer: %v\nType 'retry' to try again.\n", err)
	} else {
		r.printStatusLine()
	}

	scanner := bufio.NewScanner(in)
	r.prompt()
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(r.out, "Error:", err)
		}
		r.prompt()
	}
	return scanner.Err()
}

func (r *repl) prompt() {
	fmt.Fprint(r.out, "dicomview> ")
}

func (r *repl) mountAll(ctx context.Context) error {
	for _, id := range r.session.ViewportIDs() {
		if err := r.session.MountViewport(ctx, id, r.surface); err != nil {
			return err
		}
	}
	return nil
}

func (r *repl) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprintln(r.out, replHelp)
		return nil
	case "quit", "exit":
		return errQuit
	case "studies", "refresh":
		if err := r.session.RefreshStudies(ctx); err != nil {
			return err
		}
		printStudies(r.out, r.session.State().Studies)
		return nil
	case "study":
		uid, err := r.pick(args, studyUIDs(r.session.State().Studies))
		if err != nil {
			return err
		}
		if err := r.session.OpenStudy(ctx, uid); err != nil {
			return err
		}
		printSeries(r.out, r.session.State().Series)
		return nil
	case "series":
		uid, err := r.pick(args, seriesUIDs(r.session.State().Series))
		if err != nil {
			return err
		}
		if err := r.session.OpenSeries(ctx, uid); err != nil {
			return err
		}
		r.printOverlay()
		r.printViewports()
		return nil
	case "close":
		if err := r.session.CloseStudy(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "Study closed")
		r.printViewports()
		return nil
	case "tool":
		if len(args) != 1 {
			return fmt.Errorf("usage: tool <name>")
		}
		if err := r.session.ActivateTool(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Active tool: %s\n", r.session.State().ActiveTool)
		return nil
	case "tools":
		active := r.session.State().ActiveTool
		for _, t := range tools.Toolbar {
			marker := " "
			if t == active {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %s\n", marker, t)
		}
		return nil
	case "layout":
		return r.layout(ctx, args)
	case "reset":
		return r.reset(args)
	case "scroll":
		return r.scroll(args)
	case "upload":
		return r.upload(ctx, args)
	case "delete":
		uid, err := r.pick(args, studyUIDs(r.session.State().Studies))
		if err != nil {
			return err
		}
		if err := r.session.DeleteStudy(ctx, uid); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Deleted study %s\n", uid)
		return nil
	case "status":
		r.printStatus()
		return nil
	case "retry":
		if err := r.session.Retry(ctx); err != nil {
			return err
		}
		r.printStatusLine()
		return nil
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

// pick resolves a UID argument. "#n" selects the n-th listed entry.
func (r *repl) pick(args []string, listed []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected one UID or #n")
	}
	arg := args[0]
	if !strings.HasPrefix(arg, "#") {
		return arg, nil
	}
	n, err := strconv.Atoi(arg[1:])
	if err != nil || n < 1 || n > len(listed) {
		return "", fmt.Errorf("no entry %s (have %d)", arg, len(listed))
	}
	return listed[n-1], nil
}

func studyUIDs(studies []types.Study) []string {
	out := make([]string, len(studies))
	for i, s := range studies {
		out[i] = s.StudyInstanceUID
	}
	return out
}

func seriesUIDs(series []types.Series) []string {
	out := make([]string, len(series))
	for i, s := range series {
		out[i] = s.SeriesInstanceUID
	}
	return out
}

func (r *repl) layout(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: layout <RxC>")
	}
	layout, err := types.ParseLayout(args[0])
	if err != nil {
		return err
	}
	if _, err := r.session.SetLayout(ctx, layout); err != nil {
		return err
	}
	if err := r.mountAll(ctx); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Layout: %s\n", layout)
	return nil
}

func (r *repl) viewportAt(args []string) (string, error) {
	ids := r.session.ViewportIDs()
	index := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 || n >= len(ids) {
			return "", fmt.Errorf("viewport index must be 0..%d", len(ids)-1)
		}
		index = n
	}
	return ids[index], nil
}

func (r *repl) reset(args []string) error {
	id, err := r.viewportAt(args)
	if err != nil {
		return err
	}
	if err := r.session.ResetView(id); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Reset %s\n", id)
	return nil
}

func (r *repl) scroll(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: scroll <delta>")
	}
	delta, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid delta %q", args[0])
	}
	engine := r.backend.Engine()
	if engine == nil {
		return fmt.Errorf("viewer not initialized")
	}
	id := r.session.ViewportIDs()[0]
	index, err := engine.Scroll(id, delta)
	if err != nil {
		return err
	}
	info, _ := engine.Viewport(id)
	fmt.Fprintf(r.out, "Image %d/%d\n", index+1, info.Images)
	return nil
}

func (r *repl) upload(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: upload <path>...")
	}
	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	last := -1
	result, err := r.session.Upload(ctx, files, func(percent int) {
		if percent/25 != last/25 || percent == 100 {
			fmt.Fprintf(r.out, "  %d%%\n", percent)
		}
		last = percent
	})
	if result != nil {
		printUploadResult(r.out, result)
	}
	return err
}

func (r *repl) printStatusLine() {
	status, err := r.session.Status()
	state := r.session.State()
	line := fmt.Sprintf("Status: %s, layout %s, tool %s, %d studies", status, state.Layout, state.ActiveTool, len(state.Studies))
	if err != nil {
		line += fmt.Sprintf(" (%v)", err)
	}
	fmt.Fprintln(r.out, line)
}

func (r *repl) printOverlay() {
	o := r.session.Overlay()
	fmt.Fprintf(r.out, "Patient: %s", o.PatientName)
	if o.PatientID != "" {
		fmt.Fprintf(r.out, " (ID: %s)", o.PatientID)
	}
	fmt.Fprintln(r.out)
	if o.StudyDate != "" {
		fmt.Fprintf(r.out, "Date: %s\n", o.StudyDate)
	}
	if o.Modality != "" || o.SeriesDescription != "" {
		fmt.Fprintf(r.out, "%s %s\n", o.Modality, o.SeriesDescription)
	}
}

func (r *repl) printViewports() {
	engine := r.backend.Engine()
	for i, id := range r.session.ViewportIDs() {
		if engine == nil {
			fmt.Fprintf(r.out, "  [%d] %s: not initialized\n", i, id)
			continue
		}
		info, ok := engine.Viewport(id)
		if !ok {
			fmt.Fprintf(r.out, "  [%d] %s: empty\n", i, id)
			continue
		}
		current := "-"
		if info.Current != nil && info.Current.Header != nil {
			current = info.Current.Header.SOPInstanceUID
		}
		fmt.Fprintf(r.out, "  [%d] %s: image %d/%d (%s), %dx%d, zoom %.2f, renders %d\n",
			i, id, info.Index+1, info.Images, current, info.Width, info.Height, info.Camera.Zoom, info.Renders)
	}
}

func (r *repl) printStatus() {
	r.printStatusLine()
	state := r.session.State()
	if state.CurrentStudy != nil {
		fmt.Fprintf(r.out, "Study: %s\n", state.CurrentStudy.StudyInstanceUID)
	}
	if state.CurrentSeries != nil {
		fmt.Fprintf(r.out, "Series: %s (%d instances)\n", state.CurrentSeries.SeriesInstanceUID, len(state.Instances))
	}
	r.printViewports()
	if state.Error != "" {
		fmt.Fprintf(r.out, "Error: %s\n", state.Error)
	}
}
