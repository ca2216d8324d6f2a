package gui

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/commands"
	"github.com/keagan/reelcut/internal/edit"
	"github.com/keagan/reelcut/internal/pipeline"
	"github.com/keagan/reelcut/internal/playback"
	"github.com/keagan/reelcut/internal/session"
	"github.com/keagan/reelcut/pkg/util"
)

var (
	videoExtensions = []string{".mp4", ".mov", ".mkv", ".webm"}
	audioExtensions = []string{".wav", ".mp3", ".m4a", ".aac", ".flac", ".ogg", ".opus"}
	imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"}
)

// Options wires the preview window to a running editor. Every component
// except Previewer and Render is only touched on Loop.
type Options struct {
	Logger      zerolog.Logger
	Loop        *session.Loop
	Session     *session.EditorSession
	Scheduler   *playback.Scheduler
	Editor      *edit.Editor
	Commands    *commands.Dispatcher
	Importer    *edit.Importer
	Previewer   *pipeline.Previewer
	ProjectPath string
	// Render exports the project; nil hides the render button.
	Render func(ctx context.Context) (*pipeline.Result, error)
}

// RunGUI opens the preview window and blocks until it is closed.
func RunGUI(ctx context.Context, opts Options) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := opts.Logger.With().Str("component", "gui").Logger()

	myApp := app.NewWithID("reelcut")
	w := myApp.NewWindow("reelcut")
	w.Resize(fyne.NewSize(960, 640))

	blank := image.NewRGBA(image.Rect(0, 0, 16, 9))
	frame := canvas.NewImageFromImage(blank)
	frame.FillMode = canvas.ImageFillContain
	frame.SetMinSize(fyne.NewSize(640, 360))

	timeLabel := widget.NewLabel(util.FormatTimecode(0))
	statusLabel := widget.NewLabel("")
	slider := widget.NewSlider(0, 1)
	slider.Step = 0.01

	post := func(fn func()) { opts.Loop.Post(fn) }
	run := func(c commands.Command) func() {
		return func() { post(func() { opts.Commands.Run(c) }) }
	}

	// syncing is only read and written on the fyne goroutine.
	syncing := false
	slider.OnChanged = func(v float64) {
		if syncing {
			return
		}
		post(func() { opts.Scheduler.Seek(v) })
	}

	refresh := func(t float64) {
		p := opts.Session.Project
		duration := p.Duration()
		status := fmt.Sprintf("%d video  %d audio  %d overlays  loop %s  ripple %s",
			len(p.VideoClips), len(p.AudioClips), len(p.Overlays), onOff(p.Loop), onOff(opts.Session.Ripple))
		if opts.Scheduler.InGap() {
			status += "  (gap)"
		}
		opts.Previewer.Request(pipeline.PreviewAt(p, t))

		fyne.Do(func() {
			syncing = true
			slider.Max = duration
			if slider.Max <= 0 {
				slider.Max = 1
			}
			slider.SetValue(t)
			syncing = false
			timeLabel.SetText(util.FormatTimecode(t) + " / " + util.FormatTimecode(duration))
			statusLabel.SetText(status)
		})
	}
	post(func() {
		opts.Scheduler.OnTick(refresh)
		opts.Session.OnChange(func() { refresh(opts.Session.GlobalTime) })
		refresh(opts.Session.GlobalTime)
	})

	go opts.Previewer.Run(ctx, func(img *image.RGBA) {
		fyne.Do(func() {
			frame.Image = img
			frame.Refresh()
		})
	})

	w.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		k, ok := keyFromFyne(ev.Name)
		if !ok {
			return
		}
		post(func() { opts.Commands.HandleKey(k) })
	})
	post(func() {
		// Bindings are read on the loop; shortcuts are installed on the fyne goroutine.
		bindings := opts.Commands.Bindings()
		fyne.Do(func() {
			for _, b := range bindings {
				sc, ok := shortcutFor(b.Key)
				if !ok {
					continue
				}
				k := b.Key
				w.Canvas().AddShortcut(sc, func(fyne.Shortcut) {
					post(func() { opts.Commands.HandleKey(k) })
				})
			}
		})
	})

	openFile := func(exts []string, fn func(path string)) func() {
		return func() {
			fd := dialog.NewFileOpen(func(ur fyne.URIReadCloser, err error) {
				if err != nil {
					dialog.ShowError(err, w)
					return
				}
				if ur == nil {
					return
				}
				path := ur.URI().Path()
				_ = ur.Close()
				fn(path)
			}, w)
			fd.SetFilter(storage.NewExtensionFileFilter(exts))
			fd.Show()
		}
	}

	importVideo := widget.NewButton("Import Video", openFile(videoExtensions, func(path string) {
		logger.Info().Str("path", path).Msg("importing video")
		post(func() { opts.Importer.ImportVideos(ctx, []string{path}) })
	}))
	importAudio := widget.NewButton("Import Audio", openFile(audioExtensions, func(path string) {
		logger.Info().Str("path", path).Msg("importing audio")
		post(func() { opts.Importer.ImportAudio(ctx, []string{path}) })
	}))
	importImage := widget.NewButton("Add Image", openFile(imageExtensions, func(path string) {
		post(func() { opts.Importer.ImportImages([]string{path}) })
	}))
	addText := widget.NewButton("Add Text", func() {
		entry := widget.NewEntry()
		entry.SetPlaceHolder("Text")
		dialog.ShowForm("Add text overlay", "Add", "Cancel", []*widget.FormItem{
			widget.NewFormItem("Text", entry),
		}, func(ok bool) {
			if !ok || entry.Text == "" {
				return
			}
			text := entry.Text
			post(func() { opts.Editor.AddTextAtPlayhead(text) })
		}, w)
	})

	save := widget.NewButton("Save", func() {
		if opts.ProjectPath == "" {
			dialog.ShowInformation("Save", "No project file was given.", w)
			return
		}
		post(func() {
			err := opts.Session.Project.Save(opts.ProjectPath)
			fyne.Do(func() {
				if err != nil {
					dialog.ShowError(err, w)
					return
				}
				logger.Info().Str("path", opts.ProjectPath).Msg("project saved")
			})
		})
	})

	transport := container.NewHBox(
		widget.NewButton("Play/Pause", run(commands.PlayPause)),
		widget.NewButton("Replay", run(commands.Replay)),
		widget.NewButton("<", run(commands.StepBack)),
		widget.NewButton(">", run(commands.StepForward)),
		widget.NewButton("In", run(commands.SetIn)),
		widget.NewButton("Out", run(commands.SetOut)),
		widget.NewButton("Loop", run(commands.ToggleLoop)),
	)
	editing := container.NewHBox(
		widget.NewButton("Split", run(commands.Split)),
		widget.NewButton("Delete", run(commands.Delete)),
		widget.NewButton("Duplicate", run(commands.Duplicate)),
		widget.NewButton("Ripple", run(commands.ToggleRipple)),
		widget.NewButton("Raise", run(commands.RaiseOverlay)),
		widget.NewButton("Lower", run(commands.LowerOverlay)),
		widget.NewButton("Undo", run(commands.Undo)),
		widget.NewButton("Redo", run(commands.Redo)),
	)
	media := container.NewHBox(importVideo, importAudio, importImage, addText, save)

	if opts.Render != nil {
		var renderButton *widget.Button
		renderButton = widget.NewButton("Render", func() {
			renderButton.Disable()
			go func() {
				res, err := opts.Render(ctx)
				fyne.Do(func() {
					renderButton.Enable()
					if err != nil {
						dialog.ShowError(err, w)
						return
					}
					msg := fmt.Sprintf("%s\n%d frames, %s", filepath.Base(res.Output), res.Frames, util.FormatTimecode(res.Duration))
					if len(res.Degraded) > 0 {
						msg += fmt.Sprintf("\n%d audio clip(s) used live fallback", len(res.Degraded))
					}
					dialog.ShowInformation("Render complete", msg, w)
				})
			}()
		})
		media.Add(renderButton)
	}

	w.SetContent(
		container.NewBorder(
			nil,
			container.NewVBox(slider, timeLabel, statusLabel, transport, editing, media),
			nil, nil,
			frame,
		),
	)
	w.SetOnClosed(func() {
		post(func() { opts.Scheduler.Pause() })
		cancel()
	})

	w.ShowAndRun()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
