package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lifelensai/lifelens/internal/app"
	"github.com/lifelensai/lifelens/internal/config"
	"github.com/lifelensai/lifelens/internal/knowledge"
	"github.com/lifelensai/lifelens/internal/observability"
	"github.com/lifelensai/lifelens/internal/vectorindex"
)

func main() {
	var (
		dataset     string
		force       bool
		concurrency int
		validate    bool
	)
	flag.StringVar(&dataset, "dataset", "", "path to the [{question, answer}] JSON dataset (default KB_DATASET_PATH)")
	flag.BoolVar(&force, "force", false, "import even when the knowledge base already has documents")
	flag.IntVar(&concurrency, "concurrency", 4, "parallel embedding requests")
	flag.BoolVar(&validate, "validate-only", false, "check the dataset and exit without importing")
	flag.Parse()

	if err := run(dataset, force, concurrency, validate); err != nil {
		fmt.Fprintf(os.Stderr, "kbimport: %v\n", err)
		os.Exit(1)
	}
}

func run(dataset string, force bool, concurrency int, validateOnly bool) error {
	if err := config.LoadDotEnv(os.Getenv("LIFELENS_ENV_FILE")); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dataset == "" {
		dataset = cfg.KBDatasetPath
	}
	if dataset == "" {
		return fmt.Errorf("no dataset: pass -dataset or set KB_DATASET_PATH")
	}

	if validateOnly {
		ds, err := knowledge.LoadFile(dataset)
		if err != nil {
			return err
		}
		fmt.Printf("kbimport: %s ok: %d entries, %d skipped\n", dataset, len(ds.Entries), ds.Skipped)
		return nil
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	index, err := vectorindex.Open(vectorindex.Options{
		Dir:    cfg.VectorDir,
		Embed:  app.NewEmbedder(cfg),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	klog := observability.Component(logger, "kbimport")
	var res knowledge.Result
	if force {
		res, err = knowledge.Import(ctx, index, dataset, concurrency, klog)
	} else {
		res, err = knowledge.Bootstrap(ctx, index, dataset, concurrency, klog)
	}
	if err != nil {
		return err
	}
	if res.AlreadyLoaded {
		fmt.Println("kbimport: knowledge base already loaded (use -force to import anyway)")
		return nil
	}
	fmt.Printf("kbimport: added %d entries, skipped %d incomplete\n", res.Added, res.Skipped)
	return nil
}
