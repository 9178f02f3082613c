package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"medianalyst/internal/gateway/app"
	"medianalyst/internal/gateway/config"
	"medianalyst/internal/llm"
	"medianalyst/internal/logger"
	"medianalyst/internal/pipeline"
	"medianalyst/internal/report"
	"medianalyst/internal/types"
)

// discardHistory stands in for the store when -save is off.
type discardHistory struct{}

func (discardHistory) Append(_ context.Context, rec types.MedicalAnalysis) (types.MedicalAnalysis, error) {
	return rec, nil
}
func (discardHistory) Get(context.Context, string) (types.MedicalAnalysis, error) {
	return types.MedicalAnalysis{}, errors.New("history disabled")
}

func main() {
	brand := flag.String("brand", "", "brand name")
	product := flag.String("product", "", "product name")
	outDir := flag.String("out", "out", "output directory")
	save := flag.Bool("save", false, "append the analysis to history")
	ask := flag.String("ask", "", "optional question for the chat after the report")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall deadline")
	trace := flag.Bool("trace", false, "write every prompt and reply under <out>/trace")
	flag.Parse()

	cfg, err := config.LoadFrom(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	opts := runOptions{brand: *brand, product: *product, outDir: *outDir, save: *save, ask: *ask, trace: *trace, timeout: *timeout}
	if err := run(cfg, log, opts); err != nil {
		log.Error("analysis failed", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	brand, product string
	outDir         string
	save           bool
	ask            string
	trace          bool
	timeout        time.Duration
}

func run(cfg *config.Config, log *logger.Logger, o runOptions) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	brand, product, outDir, save, ask := o.brand, o.product, o.outDir, o.save, o.ask
	if o.trace {
		hook, err := newTraceHook(filepath.Join(outDir, "trace"), log)
		if err != nil {
			return err
		}
		ctx = llm.WithPromptHook(ctx, hook)
	}

	svc, err := app.NewAnalyst(ctx, cfg, log)
	if err != nil {
		return err
	}
	var hist pipeline.HistoryStore = discardHistory{}
	if save {
		store, err := app.NewHistory(cfg, log)
		if err != nil {
			return err
		}
		defer store.Close()
		hist = store
	}
	engine := pipeline.NewEngine(svc, hist, pipeline.WithLogger(log))
	r := pipeline.NewRun("cli")

	log.Info("searching", "brand", brand, "product", product)
	if err := engine.Search(ctx, r, brand, product); err != nil {
		return err
	}
	log.Info("analyzing", "product", r.Snapshot().Product.ProductName)
	if err := engine.ConfirmProduct(ctx, r); err != nil {
		return err
	}

	rep, err := r.Report()
	if err != nil {
		return err
	}
	html, err := report.Render(rep, time.Now())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	name := report.FileName(rep.Product.BrandName, rep.Product.ProductName)
	if err := os.WriteFile(filepath.Join(outDir, name), []byte(html), 0o644); err != nil {
		return err
	}
	if err := writeJSON(outDir, "report.json", rep); err != nil {
		return err
	}

	if save || ask != "" {
		if err := engine.ConfirmReport(ctx, r); err != nil {
			return err
		}
		if n := r.Snapshot().Notice; n != "" {
			log.Info(n)
		}
	}
	if ask != "" {
		reply, err := engine.SendChat(ctx, r, ask)
		if err != nil {
			log.Warn("chat failed", "error", err)
		}
		fmt.Println(reply.Content)
		if err := writeJSON(outDir, "chat.json", r.Snapshot().ChatHistory); err != nil {
			return err
		}
	}

	log.Info("analysis completed", "out", outDir, "report", name)
	return nil
}

func writeJSON(dir, name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), b, 0o644)
}
