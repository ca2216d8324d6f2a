package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keagan/reelcut/internal/api"
	"github.com/keagan/reelcut/internal/config"
	"github.com/keagan/reelcut/internal/ffmpeg"
	"github.com/keagan/reelcut/internal/gui"
	"github.com/keagan/reelcut/internal/jobstore"
	"github.com/keagan/reelcut/internal/logging"
	"github.com/keagan/reelcut/internal/overlays"
	"github.com/keagan/reelcut/internal/pipeline"
	"github.com/keagan/reelcut/internal/renderservice"
	"github.com/keagan/reelcut/internal/timeline"
	"github.com/keagan/reelcut/pkg/util"
)

var version = "dev"

var (
	cfgFile string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "reelcut",
	Short:   "reelcut - timeline editor and compositor",
	Long:    "Edit a multi-track timeline of video, audio and overlays, preview it live, and render it to a file.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(opCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(configCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info [project file]",
	Short: "Show the tracks of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := timeline.Load(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "duration %s  range %s - %s  loop %t  %.3g fps\n",
			util.FormatTimecode(p.Duration()),
			util.FormatTimecode(p.EffectiveStart()),
			util.FormatTimecode(p.EffectiveEnd()),
			p.Loop, p.Settings.FrameRate)

		if len(p.VideoClips) > 0 {
			rows := make([][]string, 0, len(p.VideoClips))
			for _, c := range p.VideoClips {
				rows = append(rows, []string{
					c.Name,
					util.FormatTimecode(c.TimelineStart),
					util.FormatTimecode(c.TimelineEnd),
					fmt.Sprintf("%.2f-%.2f", c.TrimIn, c.TrimOut),
					c.Source,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Video", "Start", "End", "Trim", "Source"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
		}

		if len(p.AudioClips) > 0 {
			rows := make([][]string, 0, len(p.AudioClips))
			for _, c := range p.AudioClips {
				volume := fmt.Sprintf("%.0f%%", c.Volume*100)
				if c.Muted {
					volume = "muted"
				}
				rows = append(rows, []string{
					c.Name,
					util.FormatTimecode(c.TimelineOffset),
					util.FormatTimecode(c.TimelineOffset + c.PlayDuration),
					volume,
					strconv.FormatBool(c.VoiceOver),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Audio", "Start", "End", "Volume", "Voice-over"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
		}

		if len(p.Overlays) > 0 {
			rows := make([][]string, 0, len(p.Overlays))
			for _, o := range p.Overlays {
				rows = append(rows, []string{
					string(o.Kind()),
					overlayLabel(o),
					util.FormatTimecode(o.TimelineStart),
					util.FormatTimecode(o.TimelineEnd),
					fmt.Sprintf("%.2f", o.Opacity),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Overlay", "Content", "Start", "End", "Opacity"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
		}
		return nil
	},
}

func overlayLabel(o *overlays.OverlayClip) string {
	switch p := o.Payload.(type) {
	case overlays.TextPayload:
		return p.Text
	case overlays.ImagePayload:
		return filepath.Base(p.Source)
	}
	return ""
}

var renderFlags struct {
	output string
	start  string
	end    string
	width  int
	height int
	fps    float64
}

var renderCmd = &cobra.Command{
	Use:   "render [project file]",
	Short: "Render a project to a video file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		p, err := timeline.Load(args[0])
		if err != nil {
			return err
		}
		start, err := parseTime(renderFlags.start)
		if err != nil {
			return err
		}
		end, err := parseTime(renderFlags.end)
		if err != nil {
			return err
		}
		exec, err := newExecutor(log.Logger, cfg)
		if err != nil {
			return err
		}

		output := renderFlags.output
		if output == "" {
			base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			output = filepath.Join(cfg.Render.OutputDir, base+".mp4")
		}

		store, err := jobstore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		job, err := store.Start(ctx, "render", []string{args[0]}, output)
		if err != nil {
			return err
		}

		clog := logging.WithComponent("render-cmd")
		lastDecile := -1
		res, err := newPipeline(log.Logger, cfg, exec).Render(ctx, p, pipeline.Options{
			Start:  start,
			End:    end,
			Output: output,
			Width:  renderFlags.width,
			Height: renderFlags.height,
			FPS:    renderFlags.fps,
			Progress: func(pr pipeline.Progress) {
				if pr.Frames == 0 {
					return
				}
				decile := pr.Frame * 10 / pr.Frames
				if decile != lastDecile {
					lastDecile = decile
					clog.Info().Int("percent", decile*10).Str("time", util.FormatTimecode(pr.Time)).Msg("rendering")
				}
			},
		})

		outcome := jobstore.Outcome{Err: err}
		if res != nil {
			outcome.Frames = res.Frames
			outcome.Degraded = res.Degraded
			outcome.Elapsed = res.Elapsed
		}
		if ferr := store.Finish(context.Background(), job.ID, outcome); ferr != nil {
			clog.Warn().Err(ferr).Str("job", job.ID).Msg("failed to record render")
		}
		if err != nil {
			return err
		}

		clog.Info().
			Str("output", res.Output).
			Int("frames", res.Frames).
			Dur("elapsed", res.Elapsed).
			Strs("degraded", res.Degraded).
			Msg("render complete")
		return nil
	},
}

var playFlags struct {
	from string
	loop bool
}

var playCmd = &cobra.Command{
	Use:   "play [project file]",
	Short: "Play a project headless and log the playhead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		cfg := config.FromContext(ctx)

		p, err := timeline.Load(args[0])
		if err != nil {
			return err
		}
		if playFlags.loop {
			p.Loop = true
		}
		from, err := parseTime(playFlags.from)
		if err != nil {
			return err
		}
		exec, err := newExecutor(log.Logger, cfg)
		if err != nil {
			return err
		}

		stack := newEditorStack(ctx, log.Logger, cfg, exec, p)
		done := make(chan struct{})
		lastSecond := -1
		finish := func() {
			select {
			case <-done:
			default:
				close(done)
			}
		}
		stack.loop.Post(func() {
			stack.sched.Seek(from)
			stack.sched.Play()
			stack.sched.OnTick(func(t float64) {
				if sec := int(t); sec != lastSecond {
					lastSecond = sec
					log.Info().
						Str("time", util.FormatTimecode(t)).
						Str("clip", stack.sched.ActiveClipID()).
						Bool("gap", stack.sched.InGap()).
						Msg("playhead")
				}
				if !stack.sess.Playing {
					finish()
				}
			})
			if !stack.sess.Playing {
				finish()
			}
		})

		go stack.sched.Drive(ctx, stack.loop, 0)
		go func() { _ = stack.loop.Run(ctx) }()

		select {
		case <-done:
			log.Info().Msg("playback finished")
		case <-ctx.Done():
		}
		return nil
	},
}

var previewImports []string

var previewCmd = &cobra.Command{
	Use:   "preview [project file]",
	Short: "Open the preview window",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		cfg := config.FromContext(ctx)

		p := timeline.New()
		p.Settings.FrameRate = cfg.Editor.FrameRate
		p.Settings.PixelsPerSecond = cfg.Editor.PixelsPerSecond
		path := ""
		if len(args) == 1 {
			path = args[0]
			if util.FileExists(path) {
				loaded, err := timeline.Load(path)
				if err != nil {
					return err
				}
				p = loaded
			}
		}

		exec, err := newExecutor(log.Logger, cfg)
		if err != nil {
			return err
		}
		stack := newEditorStack(ctx, log.Logger, cfg, exec, p)
		go stack.sched.Drive(ctx, stack.loop, 0)
		go func() { _ = stack.loop.Run(ctx) }()

		var videos, audio []string
		for _, f := range previewImports {
			if util.IsAudioFile(f) {
				audio = append(audio, f)
			} else {
				videos = append(videos, f)
			}
		}
		if len(videos) > 0 || len(audio) > 0 {
			// Each import is its own undo step, so audio waits for the videos.
			stack.loop.Post(func() {
				done := stack.importer.ImportVideos(ctx, videos)
				go func() {
					select {
					case <-done:
						stack.loop.Post(func() { stack.importer.ImportAudio(ctx, audio) })
					case <-ctx.Done():
					}
				}()
			})
		}

		pipe := newPipeline(log.Logger, cfg, exec)
		render := func(ctx context.Context) (*pipeline.Result, error) {
			snapshot := make(chan *timeline.Project, 1)
			stack.loop.Post(func() { snapshot <- stack.sess.Project.Clone() })
			var project *timeline.Project
			select {
			case project = <-snapshot:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			base := "untitled"
			if path != "" {
				base = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			return pipe.Render(ctx, project, pipeline.Options{
				Output:  filepath.Join(cfg.Render.OutputDir, base+".mp4"),
				Suspend: pipeline.OnLoop(stack.loop, stack.sched),
			})
		}

		gui.RunGUI(ctx, gui.Options{
			Logger:      log.Logger,
			Loop:        stack.loop,
			Session:     stack.sess,
			Scheduler:   stack.sched,
			Editor:      stack.editor,
			Commands:    stack.cmds,
			Importer:    stack.importer,
			Previewer:   pipeline.NewPreviewer(log.Logger, exec, cfg.Render.Width/2, cfg.Render.Height/2),
			ProjectPath: path,
			Render:      render,
		})
		return nil
	},
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the render service over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		exec, err := newExecutor(log.Logger, cfg)
		if err != nil {
			return err
		}
		store, err := jobstore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		addr := serveAddr
		if addr == "" {
			addr = cfg.Service.Addr
		}
		srv := api.NewServer(api.ServerConfig{
			Addr:      addr,
			Service:   renderservice.NewLocal(log.Logger, exec, store),
			Jobs:      store,
			Logger:    logging.NewLogger(),
			StartTime: time.Now(),
			Version:   version,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down render service")
		return srv.Shutdown(shutdownCtx)
	},
}

var opFlags struct {
	inputs []string
	output string
	params []string
	local  bool
}

var opCmd = &cobra.Command{
	Use:   "op [operation]",
	Short: "Run a render service operation (trim, join, addAudio, export)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromContext(ctx)

		params, err := parseParams(opFlags.params)
		if err != nil {
			return err
		}
		req := renderservice.Request{
			Operation:  renderservice.Operation(args[0]),
			Inputs:     opFlags.inputs,
			OutputPath: opFlags.output,
			Params:     params,
		}

		var svc renderservice.Service
		if opFlags.local {
			exec, err := newExecutor(log.Logger, cfg)
			if err != nil {
				return err
			}
			store, err := jobstore.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			local := renderservice.NewLocal(log.Logger, exec, store)
			local.OnProgress(func(pr *ffmpeg.Progress) {
				log.Debug().Float64("percent", pr.Percentage).Str("speed", pr.Speed).Msg("operation progress")
			})
			svc = local
		} else {
			svc = renderservice.NewClient(cfg.Service.URL, &http.Client{Timeout: 30 * time.Minute})
		}

		resp, err := svc.Do(ctx, req)
		if err != nil {
			return err
		}
		log.Info().Str("output", resp.OutputPath).Str("job", resp.JobID).Msg("operation complete")
		return nil
	},
}

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recorded render jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		store, err := jobstore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		jobs, err := store.List(cmd.Context(), jobsLimit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no jobs recorded")
			return nil
		}

		rows := make([][]string, 0, len(jobs))
		for _, j := range jobs {
			rows = append(rows, []string{
				j.ID[:8],
				j.Kind,
				string(j.Status),
				strconv.Itoa(j.Frames),
				j.Elapsed.Round(time.Millisecond).String(),
				j.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				j.Output,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"ID", "Kind", "Status", "Frames", "Elapsed", "Created", "Output"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
		))
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show [job id]",
	Short: "Show one recorded job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		store, err := jobstore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		j, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		rows := [][]string{
			{"ID", j.ID},
			{"Kind", j.Kind},
			{"Status", string(j.Status)},
			{"Inputs", strings.Join(j.Inputs, "\n")},
			{"Output", j.Output},
			{"Frames", strconv.Itoa(j.Frames)},
			{"Elapsed", j.Elapsed.String()},
			{"Created", j.CreatedAt.Local().Format(time.RFC3339)},
			{"Updated", j.UpdatedAt.Local().Format(time.RFC3339)},
		}
		if j.Error != "" {
			rows = append(rows, []string{"Error", j.Error})
		}
		if len(j.Degraded) > 0 {
			rows = append(rows, []string{"Degraded", strings.Join(j.Degraded, "\n")})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		data, err := cfg.Marshal(cfgFile)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default config file (.yaml or .toml)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if util.FileExists(path) && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderFlags.output, "output", "o", "", "output file (default: <output_dir>/<project>.mp4)")
	renderCmd.Flags().StringVar(&renderFlags.start, "start", "", "range start (seconds or HH:MM:SS.mmm)")
	renderCmd.Flags().StringVar(&renderFlags.end, "end", "", "range end (seconds or HH:MM:SS.mmm)")
	renderCmd.Flags().IntVar(&renderFlags.width, "width", 0, "output width")
	renderCmd.Flags().IntVar(&renderFlags.height, "height", 0, "output height")
	renderCmd.Flags().Float64Var(&renderFlags.fps, "fps", 0, "output frame rate (default: project frame rate)")

	playCmd.Flags().StringVar(&playFlags.from, "from", "", "start position (seconds or HH:MM:SS.mmm)")
	playCmd.Flags().BoolVar(&playFlags.loop, "loop", false, "loop the in/out range")

	previewCmd.Flags().StringSliceVar(&previewImports, "import", nil, "media files to import on start (audio by extension)")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: service.addr)")

	opCmd.Flags().StringSliceVarP(&opFlags.inputs, "input", "i", nil, "input file (repeatable)")
	opCmd.Flags().StringVarP(&opFlags.output, "output", "o", "", "output file")
	opCmd.Flags().StringArrayVar(&opFlags.params, "param", nil, "operation parameter as key=value (repeatable)")
	opCmd.Flags().BoolVar(&opFlags.local, "local", false, "run in-process instead of calling the service")

	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "number of jobs to show")
	jobsCmd.AddCommand(jobsShowCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
