package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/ipastusi/jsonlatch/cache"
	"github.com/ipastusi/jsonlatch/cli"
	"github.com/ipastusi/jsonlatch/config"
	"github.com/ipastusi/jsonlatch/memory"
	"github.com/ipastusi/jsonlatch/report"
	"github.com/ipastusi/jsonlatch/schema"
	"github.com/ipastusi/jsonlatch/service"
	"github.com/ipastusi/jsonlatch/state"
)

const (
	exitFatal  = 1
	exitFailed = 2
)

type DocumentResult struct {
	Name     string
	OK       bool
	Errors   []string
	Duration time.Duration
}

func main() {
	flags := cli.GetFlags()
	var cfgData []byte
	var err error
	if flags.ConfigFileName != nil && *flags.ConfigFileName != "" {
		cfgData, err = os.ReadFile(*flags.ConfigFileName)
		if err != nil {
			exitOnError(err)
		}
	}

	cfg, err := config.GetConfig(cfgData, flags.SchemaFileName, flags.LogFileName, flags.Errors, flags.StateFileName, flags.Ui)
	if *flags.RenderConfig == true {
		renderedConfig, errMarshal := yaml.Marshal(cfg)
		fmt.Printf("%v", string(renderedConfig))
		var errs []error
		if err != nil {
			errs = append(errs, err)
		}
		if errMarshal != nil {
			errs = append(errs, errMarshal)
		}
		exitOnErrors(errs)
		os.Exit(0)
	}
	if (err != nil && err.Error() == "no schema file provided") || (err == nil && len(flags.Documents) == 0) {
		fmt.Printf("Usage of %v: %v -s schema.json [flags] document.json...\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
		os.Exit(exitFatal)
	}
	exitOnError(err)

	logFile, err := os.OpenFile(*cfg.LogFileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	exitOnError(err)
	logHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: cfg.Level()})

	schemaBytes, err := os.ReadFile(*cfg.SchemaFileName)
	exitOnError(err)

	engine, err := schema.NewEngine(*cfg.Engine)
	exitOnError(err)
	policy, err := cache.ParsePolicy(*cfg.CacheConfig.Policy)
	exitOnError(err)
	heap := memory.NewHeap(*cfg.MemoryLimit)
	svc := service.NewService(logHandler, heap, schema.NewCompiler(engine), policy)

	stateFileName := cfg.StateFileName()
	if stateFileName != "" {
		restoreState(svc, stateFileName, *cfg.Engine, logHandler)
	}

	var writer *report.Writer
	if cfg.ReportsConfig.Directory != nil {
		reportDir := *cfg.ReportsConfig.Directory
		writer = report.NewWriter(logHandler, reportDir)
		if autoCleanupDelay := *cfg.ReportsConfig.AutoCleanupDelaySec; autoCleanupDelay > 0 {
			janitor, err := report.NewJanitor(logHandler, reportDir, autoCleanupDelay)
			exitOnError(err)
			// sweeps until the process exits
			janitor.Start(context.Background())
		}
	}

	run := documentRun{
		host:       service.NewHost(svc),
		logHandler: logHandler,
		schemaName: *cfg.SchemaFileName,
		schema:     schemaBytes,
		engine:     *cfg.Engine,
		detail:     *cfg.Errors || *cfg.Ui || writer != nil,
		writer:     writer,
	}
	results, err := run.validateAll(flags.Documents)
	if err != nil {
		logMessage(logHandler, slog.LevelError, err.Error())
	}
	exitOnError(err)

	if stateFileName != "" {
		persistState(svc, stateFileName)
	}

	if *cfg.Ui {
		uiApp := newUIApp(results)
		loadUI(uiApp, *cfg.SchemaFileName, *cfg.Engine)
	} else {
		printResults(results, *cfg.Errors)
	}
	os.Exit(exitCode(results))
}

type documentRun struct {
	host       service.Host
	logHandler slog.Handler
	schemaName string
	schema     []byte
	engine     string
	detail     bool
	writer     *report.Writer
}

// validateAll stops at the first fatal error. Documents that fail validation
// are results, not errors.
func (r documentRun) validateAll(documents []string) ([]DocumentResult, error) {
	results := make([]DocumentResult, 0, len(documents))
	for _, name := range documents {
		result, err := r.validate(name)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (r documentRun) validate(name string) (DocumentResult, error) {
	doc, err := os.ReadFile(name)
	if err != nil {
		return DocumentResult{}, err
	}

	start := time.Now()
	result := DocumentResult{Name: name}
	if r.detail {
		var detail service.Report
		detail, err = r.host.Detail(doc, r.schema)
		result.OK, result.Errors = detail.OK, detail.Lines()
	} else {
		result.OK, err = r.host.Check(doc, r.schema)
	}
	if err != nil {
		return DocumentResult{}, fmt.Errorf("validating %v: %w", name, err)
	}
	result.Duration = time.Since(start)

	logMessage(r.logHandler, slog.LevelInfo, "document validated",
		slog.String("document", name),
		slog.Bool("ok", result.OK),
		slog.Int("errors", len(result.Errors)),
	)

	if !result.OK && r.writer != nil {
		// a report that cannot be written is logged by the writer and skipped
		_, _ = r.writer.Store(report.Report{
			Document: name,
			Schema:   r.schemaName,
			Engine:   r.engine,
			Errors:   result.Errors,
		})
	}
	return result, nil
}

func printResults(results []DocumentResult, withErrors bool) {
	for _, result := range results {
		status := "PASS"
		if !result.OK {
			status = "FAIL"
		}
		fmt.Printf("%v %v\n", status, result.Name)
		if withErrors {
			for _, line := range result.Errors {
				fmt.Printf("    %v\n", line)
			}
		}
	}
}

func exitCode(results []DocumentResult) int {
	for _, result := range results {
		if !result.OK {
			return exitFailed
		}
	}
	return 0
}

func restoreState(svc *service.Service, stateFileName string, engine string, logHandler slog.Handler) {
	stateBytes, err := os.ReadFile(stateFileName)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	exitOnError(err)

	errs := state.ValidateState(stateBytes)
	exitOnErrors(errs)
	latchState, err := state.FromJson(stateBytes)
	exitOnError(err)

	if latchState.Engine != engine {
		logMessage(logHandler, slog.LevelWarn, "state file ignored, engine changed",
			slog.String("stateEngine", latchState.Engine),
			slog.String("engine", engine),
		)
		return
	}
	if latchState.Schema == "" {
		return
	}

	err = svc.Warm([]byte(latchState.Schema))
	if errors.Is(err, memory.ErrOutOfMemory) {
		exitOnError(err)
	}
	if err != nil {
		logMessage(logHandler, slog.LevelWarn, "latched schema from state file rejected", slog.String("error", err.Error()))
	}
}

func persistState(svc *service.Service, stateFileName string) {
	latchState := svc.LatchState()
	stateBytes, err := latchState.ToJson()
	exitOnError(err)

	err = os.WriteFile(stateFileName, stateBytes, 0644)
	exitOnError(err)
}

func logMessage(log slog.Handler, level slog.Level, msg string, attrs ...slog.Attr) {
	if log == nil || !log.Enabled(nil, level) {
		return
	}

	record := slog.NewRecord(time.Now(), level, msg, 0)
	record.AddAttrs(attrs...)
	_ = log.Handle(nil, record)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Println(err)
		os.Exit(exitFatal)
	}
}

func exitOnErrors(errs []error) {
	if len(errs) != 0 {
		fmt.Println(errs)
		os.Exit(exitFatal)
	}
}
