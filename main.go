package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/foodscan/internal/auth"
	"github.com/example/foodscan/internal/capture"
	"github.com/example/foodscan/internal/config"
	"github.com/example/foodscan/internal/handlers"
	"github.com/example/foodscan/internal/pipeline"
	"github.com/example/foodscan/internal/present"
	"github.com/example/foodscan/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	err := root.ExecuteContext(ctx)
	root.close()
	if err != nil {
		message := pipeline.UserMessage(err)
		if message == pipeline.MessageUnknown {
			message = err.Error()
		}
		fmt.Fprintln(os.Stderr, present.Error(message))
		os.Exit(1)
	}
}

type rootFlags struct {
	apiURL       string
	token        string
	tokenFile    string
	maxDimension int
	quality      float64
	logLevel     string
}

// rootCommand is the command tree plus the app its pre-run hook builds.
type rootCommand struct {
	*cobra.Command
	app *app
}

// close releases the app. cobra skips post-run hooks when RunE fails, so
// callers run it after Execute returns.
func (r *rootCommand) close() {
	if r.app != nil {
		r.app.close()
	}
}

func newRootCommand() *rootCommand {
	flags := &rootFlags{}
	r := &rootCommand{}

	r.Command = &cobra.Command{
		Use:           "foodscan",
		Short:         "Capture, compress and classify food images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, flags, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			r.app, err = newApp(cmd.Context(), cfg)
			return err
		},
	}

	pf := r.PersistentFlags()
	pf.StringVar(&flags.apiURL, "api-url", "", "classification API base URL")
	pf.StringVar(&flags.token, "token", "", "bearer token")
	pf.StringVar(&flags.tokenFile, "token-file", "", "file holding the bearer token")
	pf.IntVar(&flags.maxDimension, "max-dimension", 0, "longest side after compression")
	pf.Float64Var(&flags.quality, "quality", 0, "JPEG quality between 0 and 1")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	appFn := func() *app { return r.app }
	r.AddCommand(
		newScanCommand(appFn),
		newCaptureCommand(appFn),
		newResubmitCommand(appFn),
		newHistoryCommand(appFn),
		newServeCommand(appFn),
	)
	return r
}

func applyFlags(cmd *cobra.Command, flags *rootFlags, cfg *config.Config) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if changed("api-url") {
		cfg.APIBaseURL = flags.apiURL
	}
	if changed("token") {
		cfg.Token = flags.token
	}
	if changed("token-file") {
		cfg.TokenFile = flags.tokenFile
	}
	if changed("max-dimension") {
		cfg.MaxDimension = flags.maxDimension
	}
	if changed("quality") {
		cfg.JPEGQuality = flags.quality
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
}

func newScanCommand(appFn func() *app) *cobra.Command {
	var showIngredients bool
	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Compress a local image and classify it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			ctx := cmd.Context()

			token, err := auth.Resolve(ctx, a.tokens)
			if err != nil {
				return err
			}
			img, err := capture.FromFile(args[0])
			if err != nil {
				return err
			}

			scanID, result, err := a.service.Scan(ctx, img, token)
			if err != nil {
				reportDraft(cmd.ErrOrStderr(), a, scanID)
				return err
			}
			printResult(cmd.OutOrStdout(), present.PresentWith(result, a.presentConfig()), showIngredients)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showIngredients, "ingredients", false, "expand the ingredient list")
	return cmd
}

func newResubmitCommand(appFn func() *app) *cobra.Command {
	var showIngredients bool
	cmd := &cobra.Command{
		Use:   "resubmit <scan-id>",
		Short: "Submit a retained draft again without recapturing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			ctx := cmd.Context()

			token, err := auth.Resolve(ctx, a.tokens)
			if err != nil {
				return err
			}
			result, err := a.service.Submit(ctx, args[0], token)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), present.PresentWith(result, a.presentConfig()), showIngredients)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showIngredients, "ingredients", false, "expand the ingredient list")
	return cmd
}

func newHistoryCommand(appFn func() *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent successful scans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := appFn().service.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintf(out, "%s  %s  %-24s %s (%s)\n",
					r.CreatedAt.Local().Format(time.DateTime),
					r.ScanID,
					r.FoodName,
					r.Origin,
					strings.Join(r.Ingredients, ", "),
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", repository.DefaultListLimit, "number of scans to show")
	return cmd
}

func newCaptureCommand(appFn func() *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Open the camera, take a photo and classify it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			screen := a.screen()
			defer screen.Close()

			if once {
				return captureOnce(cmd, a, screen)
			}
			return runScreen(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), a, screen)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "take a single photo after the warmup and scan it")
	return cmd
}

func captureOnce(cmd *cobra.Command, a *app, screen *pipeline.Screen) error {
	ctx := cmd.Context()
	if err := screen.Open(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.cfg.Camera.Warmup):
	}
	if err := screen.TakePhoto(ctx); err != nil {
		return err
	}
	view, err := screen.Scan(ctx)
	if err != nil {
		reportDraft(cmd.ErrOrStderr(), a, screen.ScanID())
		return err
	}
	printResult(cmd.OutOrStdout(), view, false)
	return nil
}

const screenHelp = `commands:
  t            take photo
  u <path>     use a local image
  s            scan the selected image
  r            retake
  R            resubmit the last failed scan
  i            show or hide ingredients
  n            start over
  q            quit`

// runScreen drives the capture screen from line based input.
func runScreen(ctx context.Context, in io.Reader, out io.Writer, a *app, screen *pipeline.Screen) error {
	fmt.Fprintln(out, a.presentConfig().Header())
	fmt.Fprintln(out, screenHelp)

	if err := screen.Open(ctx); err != nil {
		fmt.Fprintln(out, present.Error(screen.Message()))
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "[%s]> ", screen.State())
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		command, arg, _ := strings.Cut(line, " ")

		var err error
		switch command {
		case "":
			continue
		case "q":
			return nil
		case "t":
			if screen.State() == pipeline.StateIdle {
				if err = screen.Open(ctx); err != nil {
					break
				}
			}
			if err = screen.TakePhoto(ctx); err == nil {
				img := screen.Image()
				fmt.Fprintf(out, "captured %dx%d\n", img.Width, img.Height)
			}
		case "u":
			if err = screen.SelectFile(strings.TrimSpace(arg)); err == nil {
				fmt.Fprintf(out, "selected %s\n", screen.Image().Name)
			}
		case "s":
			var view *present.View
			if view, err = screen.Scan(ctx); err == nil {
				fmt.Fprint(out, view.Render())
			}
		case "R":
			var view *present.View
			if view, err = screen.Resubmit(ctx); err == nil {
				fmt.Fprint(out, view.Render())
			}
		case "r":
			err = screen.Retake(ctx)
		case "n":
			screen.Close()
			err = screen.Open(ctx)
		case "i":
			if view := screen.View(); view != nil {
				view.Toggle()
				fmt.Fprint(out, view.Render())
			}
		default:
			fmt.Fprintln(out, screenHelp)
		}

		if err != nil {
			message := screen.Message()
			if errors.Is(err, pipeline.ErrInvalidState) || message == "" {
				message = err.Error()
			}
			fmt.Fprintln(out, present.Error(message))
		}
	}
}

func newServeCommand(appFn func() *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP front end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			if addr == "" {
				addr = a.cfg.ListenAddr
			}

			gin.SetMode(gin.ReleaseMode)
			r := gin.New()
			r.Use(gin.Recovery())
			r.MaxMultipartMemory = handlers.MaxUploadSize
			handlers.RegisterRoutes(r, a.service, auth.BearerMiddleware())

			server := &http.Server{
				Addr:              addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			a.logger.Info("foodscan listening", zap.String("addr", addr))
			return serveHTTPServer(server, 15*time.Second, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to FOODSCAN_LISTEN_ADDR)")
	return cmd
}

func printResult(out io.Writer, view *present.View, showIngredients bool) {
	if showIngredients && !view.IngredientsOpen() {
		view.Toggle()
	}
	fmt.Fprint(out, view.Render())
}

func reportDraft(out io.Writer, a *app, scanID string) {
	if scanID == "" || !a.durable {
		return
	}
	fmt.Fprintf(out, "draft kept, retry with: foodscan resubmit %s\n", scanID)
}
