package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errAnalysisFailed is returned after a failed outcome has been printed
var errAnalysisFailed = errors.New("analysis failed")

// NewRootCmd creates the root command, which classifies its argument.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <file|url>",
		Short: "Label an image with an image classification model",
		Long: `classify runs an ONNX image classification model on a local file or a
remote image and prints the most likely labels with their confidence.

The model is downloaded from the model hub on first use and cached.

Examples:
  # Classify a local photo
  classify photo.jpg

  # Classify a remote image and print a markdown table
  classify --format markdown https://example.com/cat.jpg

  # Use the quantized weights of another model
  classify --model Xenova/vit-base-patch16-224 --quantized photo.jpg`,
		Version:       getVersion(),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runClassifyCmd,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.Flags().StringP("format", "f", "text", "Output format: text, markdown or json")
	cmd.Flags().StringP("model", "m", "", "Model ID on the model hub (default from config)")
	cmd.Flags().Bool("quantized", false, "Use the quantized model weights")
	cmd.Flags().IntP("top-k", "k", 0, "Number of labels to print (default from config)")
	cmd.Flags().StringP("config", "c", "", "Path to a YAML configuration file")

	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		if !errors.Is(err, errAnalysisFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
