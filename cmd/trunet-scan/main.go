package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/trunet-labs/trunet/pkg/core/content"
	"github.com/trunet-labs/trunet/pkg/core/forensics"
	"github.com/trunet-labs/trunet/pkg/infrastructure/config"
	"github.com/trunet-labs/trunet/pkg/matching"
	"github.com/trunet-labs/trunet/pkg/moderation"
	"github.com/trunet-labs/trunet/pkg/pipeline"
	"github.com/trunet-labs/trunet/pkg/resilience"
	"github.com/trunet-labs/trunet/pkg/storage"
	_ "github.com/trunet-labs/trunet/pkg/storage/backends"
	"github.com/trunet-labs/trunet/pkg/util"
	"github.com/trunet-labs/trunet/pkg/watch"
)

// Exit codes mirror the moderation gate so scripts can branch on them.
const (
	exitApprove = 0
	exitReview  = 2
	exitReject  = 3
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path")
		text       = flag.String("text", "", "Text content to verify")
		timeoutStr = flag.String("timeout", "30s", "Verification timeout")
		archive    = flag.Bool("archive", false, "Archive approved files to the configured storage backend")
		jsonOut    = flag.Bool("json", false, "Print the full verdict as JSON")
		watchDir   = flag.String("watch", "", "Watch a directory and verify files as they appear")
	)
	flag.Parse()

	if *text == "" && flag.NArg() == 0 && *watchDir == "" {
		fmt.Fprintln(os.Stderr, "Usage: trunet-scan [flags] [file ...]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid timeout: %v\n", err)
		os.Exit(1)
	}

	if *watchDir != "" {
		if err := runWatchMode(cfg, *watchDir, timeout, *archive, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "Watch mode failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	files, err := readFiles(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	orchestrator, err := buildPipeline(cfg, *archive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		os.Exit(1)
	}

	sub, err := content.NewSubmission(*text, files, "cli")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid submission: %v\n", err)
		os.Exit(1)
	}

	verdict, err := orchestrator.Process(context.Background(), sub, &pipeline.Options{Timeout: timeout})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Verification failed: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		printJSON(verdict)
	} else {
		printSummary(verdict)
	}

	os.Exit(exitCode(verdict))
}

// runWatchMode verifies files as they land in the directory, printing each
// verdict, until interrupted.
func runWatchMode(cfg *config.Config, dir string, timeout time.Duration, archive, jsonOut bool) error {
	orchestrator, err := buildPipeline(cfg, archive)
	if err != nil {
		return err
	}

	watchConfig := watch.DefaultConfig()
	watchConfig.MaxFileBytes = cfg.Server.MaxUploadBytes

	watcher, err := watch.NewWatcher(watchConfig, func(ctx context.Context, file content.FileBlob) {
		sub, err := content.NewSubmission("", []content.FileBlob{file}, "cli")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", file.OriginalName, err)
			return
		}
		verdict, err := orchestrator.Process(ctx, sub, &pipeline.Options{Timeout: timeout})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Verification of %s failed: %v\n", file.OriginalName, err)
			return
		}
		if jsonOut {
			printJSON(verdict)
		} else {
			printSummary(verdict)
		}
	}, nil)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	if err := watcher.AddPath(dir); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Watching %s, press Ctrl-C to stop\n", dir)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}

func readFiles(paths []string) ([]content.FileBlob, error) {
	var files []content.FileBlob
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		files = append(files, content.FileBlob{
			Bytes:        data,
			OriginalName: filepath.Base(path),
			DeclaredMime: http.DetectContentType(data),
			LastModified: info.ModTime(),
			SizeBytes:    int64(len(data)),
		})
	}
	return files, nil
}

func buildPipeline(cfg *config.Config, archive bool) (*pipeline.Orchestrator, error) {
	retry := resilience.DefaultRetryConfig()
	if cfg.Matching.MaxRetries > 0 {
		retry.MaxRetries = cfg.Matching.MaxRetries
	}

	var providers []matching.Provider
	for i, url := range cfg.Matching.ProviderURLs {
		provider, err := matching.NewHTTPProvider(&matching.HTTPProviderConfig{
			Name:       fmt.Sprintf("provider-%d", i),
			Endpoint:   url,
			Timeout:    time.Duration(cfg.Matching.RequestTimeout) * time.Second,
			SOCKSProxy: cfg.Matching.SOCKSProxy,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	if cfg.Matching.BloomIndexPath != "" {
		if bloom, err := matching.LoadBloomProvider(cfg.Matching.BloomIndexPath); err == nil {
			providers = append(providers, bloom)
		}
	}

	var classifier *moderation.Classifier
	if cfg.Moderation.ModelURL != "" {
		model := moderation.NewHTTPModelClient(cfg.Moderation.ModelURL, time.Duration(cfg.Moderation.ModelTimeout)*time.Second)
		classifier = moderation.NewClassifierWithModel(model, nil)
	} else {
		classifier = moderation.NewClassifier(nil)
	}

	var store *storage.Client
	if archive {
		backend, err := storage.NewBackend(cfg.Storage.Backend, &storage.BackendConfig{
			Endpoint:       cfg.Storage.APIEndpoint,
			TimeoutSeconds: cfg.Storage.Timeout,
		})
		if err != nil {
			return nil, err
		}
		store = storage.NewClient(backend, retry, nil)
	}

	return pipeline.NewOrchestrator(pipeline.Config{
		Analyzer:   forensics.NewAnalyzer(),
		Classifier: classifier,
		Matcher:    matching.NewMatcher(providers, retry, nil),
		Store:      store,
	}), nil
}

func printJSON(verdict *content.Verdict) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(verdict); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode verdict: %v\n", err)
		os.Exit(1)
	}
}

func printSummary(verdict *content.Verdict) {
	fmt.Printf("Verdict %s (%s)\n", verdict.ID, verdict.State)
	if verdict.Moderation != nil {
		fmt.Printf("  Moderation: %s (score %.2f, confidence %.2f, evidence %s)\n",
			verdict.Moderation.Recommendation,
			verdict.Moderation.Score,
			verdict.Moderation.Confidence,
			verdict.Moderation.Evidence)
		for _, category := range verdict.Moderation.Flags {
			fmt.Printf("    flag: %s\n", category)
		}
	}
	for _, fv := range verdict.Files {
		fmt.Printf("  File %s", fv.OriginalName)
		if fv.Incomplete {
			fmt.Print(" [incomplete]")
		}
		fmt.Println()
		if fv.Fingerprint != nil {
			fmt.Printf("    hash: %s (%s)\n", fv.Fingerprint.ContentHash, util.FormatBytes(fv.Fingerprint.SizeBytes))
		}
		if fv.Forensic != nil {
			if fv.Forensic.Authentic {
				fmt.Printf("    forensics: authentic (confidence %.2f)\n", fv.Forensic.Confidence)
			} else {
				fmt.Printf("    forensics: manipulated (confidence %.2f) %v\n", fv.Forensic.Confidence, fv.Forensic.ManipulationTypes)
			}
		}
		if fv.LeakMatch != nil {
			fmt.Printf("    leak status: %s (similarity %.2f, confidence %.2f)\n",
				fv.LeakMatch.Status, fv.LeakMatch.Similarity, fv.LeakMatch.Confidence)
		}
		if fv.Receipt != nil {
			fmt.Printf("    archived as: %s\n", fv.Receipt.ContentIdentifier)
		}
	}
	if verdict.Archived {
		fmt.Println("  Archived: yes")
	}
}

func exitCode(verdict *content.Verdict) int {
	if verdict.Moderation == nil {
		return exitReview
	}
	switch verdict.Moderation.Recommendation {
	case content.RecommendApprove:
		return exitApprove
	case content.RecommendReject:
		return exitReject
	default:
		return exitReview
	}
}
