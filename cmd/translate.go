/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/valpere/epubtran/internal/backend"
	"github.com/valpere/epubtran/internal/checkpoint"
	"github.com/valpere/epubtran/internal/detector"
	"github.com/valpere/epubtran/internal/pipeline"
	"github.com/valpere/epubtran/internal/store"
	"github.com/valpere/epubtran/internal/validator"
)

var (
	inputFile  string
	outputFile string
	sourceLang string
	targetLang string

	backendNames   []string
	preferredModel string
	marianURL      string
	ollamaURL      string
	ollamaModel    string
	credentials    string
	mymemoryEmail  string

	batchSize int
	maxLength int

	checkpointPath string
	dbPath         string
	noCache        bool
	logFile        string
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate an EPUB in place, preserving its structure",
	Long: `Translate the text of an EPUB. Styles, images, code blocks and all
book metadata are carried through untouched; only prose is replaced.

Backends are tried in quality order until one passes a test translation:
  - marian    OPUS-MT inference server (model fallback chain)
  - ollama    self-hosted LLM
  - google    Google Cloud Translate (requires credentials)
  - mymemory  free HTTP API (last resort)

Progress is checkpointed after every batch. Interrupt with Ctrl-C and run
the same command again to resume where the run stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var db *store.Store
		var err error
		if !noCache && dbPath != "" {
			db, err = store.New(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()
		}

		opts := backendOptions{
			marianURL:     marianURL,
			ollamaURL:     ollamaURL,
			ollamaModel:   ollamaModel,
			credentials:   credentials,
			mymemoryEmail: mymemoryEmail,
			sourceLang:    sourceLang,
			targetLang:    targetLang,
		}
		candidates, err := buildBackends(backendNames, preferredModel, opts)
		if err != nil {
			return err
		}

		// The lingua detector is expensive to build; share one instance
		// between canary validation and source auto-detection.
		val := validator.New()
		var detect func(string) (string, bool)
		if sourceLang == "auto" {
			det := detector.New()
			detect = func(sample string) (string, bool) {
				code, ok := det.DetectISO(sample)
				if ok {
					fmt.Fprintf(os.Stderr, "Detected source language: %s\n", code)
				}
				return code, ok
			}
		}

		runner := pipeline.New(pipeline.Config{
			InputPath:        inputFile,
			OutputPath:       outputFile,
			SourceLang:       sourceLang,
			TargetLang:       targetLang,
			Candidates:       candidates,
			PreferredBackend: preferredModel,
			BatchWidth:       batchSize,
			MaxItemLen:       maxLength,
			Checkpoints:      checkpoint.NewStore(checkpointPath),
			Memory:           db,
			DetectSource:     detect,
			ValidateCanary: func(translated string) error {
				return val.Check(translated, targetLang)
			},
			Logger: newLogger(logFile),
		})

		for ev := range runner.Run(ctx) {
			switch e := ev.(type) {
			case pipeline.Progress:
				fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", e.Done, e.Total, e.Message)
			case pipeline.Completed:
				fmt.Printf("Translation complete: %s\n", e.OutputPath)
			case pipeline.Cancelled:
				fmt.Fprintln(os.Stderr, "Cancelled. Run the same command again to resume.")
			case pipeline.Failed:
				return fmt.Errorf("translation failed: %s", e.Message)
			}
		}
		return nil
	},
}

// newLogger returns a slog logger writing to a size-rotated file, or a
// silent logger when no file is configured.
func newLogger(path string) *slog.Logger {
	var w io.Writer
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input EPUB file (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output EPUB file (required)")
	translateCmd.Flags().StringVarP(&sourceLang, "source", "s", "auto", "Source language code")
	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "pt", "Target language code")

	translateCmd.Flags().StringSliceVar(&backendNames, "backends", []string{"marian", "mymemory"}, "Backend fallback chain in quality order (comma-separated)")
	translateCmd.Flags().StringVarP(&preferredModel, "model", "m", "", "Preferred model/backend id, tried before the built-in chain")
	translateCmd.Flags().StringVar(&marianURL, "marian-url", "http://localhost:8880", "OPUS-MT inference server URL")
	translateCmd.Flags().StringVar(&ollamaURL, "ollama-url", "http://localhost:11434", "Ollama base URL")
	translateCmd.Flags().StringVar(&ollamaModel, "ollama-model", "llama3.2", "Ollama model name")
	translateCmd.Flags().StringVarP(&credentials, "credentials", "c", "", "Path to Google Cloud credentials")
	translateCmd.Flags().StringVar(&mymemoryEmail, "mymemory-email", "", "MyMemory email (for higher limits)")

	translateCmd.Flags().IntVar(&batchSize, "batch-size", backend.DefaultBatchWidth, "Fragments per translation call")
	translateCmd.Flags().IntVar(&maxLength, "max-length", backend.DefaultMaxItemLen, "Maximum runes per fragment sent to the backend")

	translateCmd.Flags().StringVar(&checkpointPath, "checkpoint", checkpoint.DefaultPath, "Progress file path")
	translateCmd.Flags().StringVar(&dbPath, "db", "./data/epubtran.db", "Database path for translation memory and resume data")
	translateCmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable translation memory and resume data")
	translateCmd.Flags().StringVar(&logFile, "log-file", "", "Write a detailed run log to this file (rotated)")

	translateCmd.MarkFlagRequired("input")
	translateCmd.MarkFlagRequired("output")
}
