package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/UnknownOlympus/cartograph/internal/config"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var geocodeFlags struct {
	input    string
	output   string
	provider string
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "geocode a JSON request file and write the response",
	Long: `
geocode reads a request of the form {"providerPreference": "...", "rows": [...]}
and writes the response with per-row results and a summary. The first interrupt
stops the job after the running batch; the second one aborts it.
`,
	Args: cobra.NoArgs,
	RunE: runGeocode,
}

func init() {
	geocodeCmd.Flags().StringVarP(&geocodeFlags.input, "input", "i", "-", "request file, - for stdin")
	geocodeCmd.Flags().StringVarP(&geocodeFlags.output, "output", "o", "-", "response file, - for stdout")
	geocodeCmd.Flags().StringVarP(&geocodeFlags.provider, "provider", "p", "", "preferred provider: google or nominatim")
	rootCmd.AddCommand(geocodeCmd)
}

func runGeocode(cmd *cobra.Command, _ []string) error {
	cfg := config.MustLoad()
	logger := setupLogger(cfg.Env, os.Stderr)

	req, err := readRequest(cmd.InOrStdin(), geocodeFlags.input)
	if err != nil {
		return err
	}
	if geocodeFlags.provider != "" {
		req.ProviderPreference = geocodeFlags.provider
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	jb, err := a.runner().New(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
		case <-ctx.Done():
			return
		}
		logger.Warn("Interrupt received, finishing the current batch. Interrupt again to abort.")
		jb.Cancel()

		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()

	var bar *progressbar.ProgressBar
	if isatty.IsTerminal(os.Stderr.Fd()) {
		bar = progressbar.NewOptions(jb.Rows(),
			progressbar.OptionSetDescription("Geocoding"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	resp, runErr := jb.Run(ctx, func(progress models.Progress) {
		if bar != nil {
			_ = bar.Set(progress.Completed + progress.Failed)
		}
	})
	if bar != nil {
		_ = bar.Finish()
	}

	if err = writeResponse(cmd.OutOrStdout(), geocodeFlags.output, resp); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "job %s: %d rows, %d geocoded, %d failed, %d skipped\n",
		resp.JobID, resp.Summary.Total, resp.Summary.Successful, resp.Summary.Failed, resp.Summary.Skipped)

	return runErr
}

func readRequest(stdin io.Reader, path string) (models.GeocodeRequest, error) {
	var req models.GeocodeRequest

	src := stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return req, fmt.Errorf("failed to open request: %w", err)
		}
		defer file.Close()
		src = file
	}

	if err := json.NewDecoder(src).Decode(&req); err != nil {
		return req, fmt.Errorf("failed to decode request: %w", err)
	}

	return req, nil
}

func writeResponse(stdout io.Writer, path string, resp any) error {
	dst := stdout
	if path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer file.Close()
		dst = file
	}

	enc := json.NewEncoder(dst)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	return nil
}
