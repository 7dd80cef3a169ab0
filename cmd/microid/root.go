package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/app/services"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/config"
	"github.com/amirphl/Kusanagi/microid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// visionFactory builds the vision client and preprocessor for decode-image
type visionFactory func(logger *zap.Logger) (services.VisionClient, businessflow.ImagePreparer, error)

func defaultVisionFactory(logger *zap.Logger) (services.VisionClient, businessflow.ImagePreparer, error) {
	cfg, err := config.LoadVisionConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Enabled() {
		return nil, nil, fmt.Errorf("VISION_API_KEY is not set: %w", businessflow.ErrVisionNotConfigured)
	}
	client := services.NewVisionClient(services.VisionConfig{
		APIURL:     cfg.APIURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Referer:    cfg.Referer,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
		RetryWait:  cfg.RetryWait,
	}, logger)
	return client, services.NewImagePreprocessor(cfg.MaxImageEdge), nil
}

type cliOptions struct {
	jsonOut bool
	verbose bool
}

func newRootCmd(out io.Writer, vision visionFactory) *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "microid",
		Short:         "Encode and decode Micro-ID dot grids",
		Long:          "microid converts serial numbers to 5x5 Micro-ID grids and back. Decodes that are not HIGH confidence exit non-zero.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log vision calls to stderr")

	root.AddCommand(newEncodeCmd(opts))
	root.AddCommand(newDecodeCmd(opts))
	root.AddCommand(newDecodeImageCmd(opts, vision))
	return root
}

func (o *cliOptions) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newEncodeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encode <id>",
		Short: "Print the grid of an identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("identifier %q is not a number: %w", args[0], microid.ErrInvalidIdentifier)
			}
			flow := businessflow.NewDecodeFlow(nil, nil, nil, nil, nil, nil)
			res, err := flow.Encode(cmd.Context(), &dto.EncodeMicroIDRequest{ID: id})
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "serial: %s\n", res.Serial)
			fmt.Fprintf(w, "grid:   %s\n", res.Grid)
			for _, row := range res.Rows {
				fmt.Fprintf(w, "  %s\n", drawRow(row))
			}
			return nil
		},
	}
}

func newDecodeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <grid>...",
		Short: "Decode a 25-cell grid of 0 and 1",
		Long: "Decode a grid read left to right, top to bottom. Cells may be split by spaces, slashes or commas, " +
			"so \"10001/00000/...\" works, and each argument may start with a row label such as \"R0:\".",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow := businessflow.NewDecodeFlow(nil, nil, nil, nil, nil, nil)
			res, err := flow.DecodeGrid(cmd.Context(), &dto.DecodeMicroIDRequest{Grid: strings.Join(args, "\n")})
			if err != nil {
				return err
			}
			return printDecode(cmd.OutOrStdout(), res, opts.jsonOut)
		},
	}
}

func newDecodeImageCmd(opts *cliOptions, vision visionFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "decode-image <path>",
		Short: "Read a grid from a photo with the vision model and decode it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			logger := opts.logger()
			defer func() { _ = logger.Sync() }()

			client, preparer, err := vision(logger)
			if err != nil {
				return err
			}
			flow := businessflow.NewDecodeFlow(nil, nil, nil, client, preparer, logger)
			res, err := flow.DecodeImage(cmd.Context(), raw)
			if err != nil {
				return err
			}
			return printDecode(cmd.OutOrStdout(), res, opts.jsonOut)
		},
	}
}

// printDecode writes res and turns LOW and ERROR confidence into an error
func printDecode(w io.Writer, res *dto.DecodeMicroIDResponse, jsonOut bool) error {
	if jsonOut {
		if err := writeJSON(w, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "serial:     %s\n", res.Serial)
		fmt.Fprintf(w, "id:         %d\n", res.ID)
		fmt.Fprintf(w, "confidence: %s\n", res.Confidence)
		fmt.Fprintf(w, "anchors:    %t\n", res.AnchorsValid)
		fmt.Fprintf(w, "parity:     %t\n", res.ParityValid)
		if res.Model != "" {
			fmt.Fprintf(w, "model:      %s\n", res.Model)
		}
		for _, row := range res.Rows {
			fmt.Fprintf(w, "  %s\n", drawRow(row))
		}
	}
	return microid.Result{Confidence: microid.Confidence(res.Confidence)}.Err()
}

func drawRow(row string) string {
	var b strings.Builder
	for _, c := range row {
		if c == '1' {
			b.WriteString("● ")
		} else {
			b.WriteString("· ")
		}
	}
	return strings.TrimSpace(b.String())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
