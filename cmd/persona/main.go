// Persona - chat companion with a per-user knowledge profile
// License: MIT
//
// Copyright (c) 2026 Persona contributors

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/chatmem/persona/pkg/analysis"
	"github.com/chatmem/persona/pkg/chat"
	"github.com/chatmem/persona/pkg/config"
	"github.com/chatmem/persona/pkg/enrich"
	"github.com/chatmem/persona/pkg/knowledge"
	"github.com/chatmem/persona/pkg/logger"
	"github.com/chatmem/persona/pkg/memory"
	"github.com/chatmem/persona/pkg/sched"
	"github.com/chatmem/persona/pkg/store"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const (
	appName          = "persona"
	analysisJobName  = "nightly-analysis"
	shortTermRestore = 50
)

const systemPrompt = `Ты дружелюбный собеседник в чате. Отвечай коротко и по-человечески, на языке собеседника.`

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	_ = godotenv.Load()

	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".persona", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func validateRuntimeConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.GetAPIKey()) == "" {
		return fmt.Errorf("enrichment.api_key is required in %s or PERSONA_ENRICHMENT_API_KEY", getConfigPath())
	}
	return nil
}

// core bundles the always-needed runtime pieces.
type core struct {
	cfg    *config.Config
	log    *zap.Logger
	store  *store.SQLiteStore
	mem    *memory.Memory
	graphs *knowledge.Manager
}

func buildCore(debug bool) (*core, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(!debug); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log := logger.Get()

	st, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	mem := memory.New(st, log, memory.WithShortTermLimit(cfg.Chat.ShortTermLimit))
	warm, err := st.RecentMessages(context.Background(), shortTermRestore)
	if err != nil {
		log.Warn("short-term warmup failed", zap.Error(err))
	} else {
		mem.Restore(warm)
	}

	return &core{
		cfg:    cfg,
		log:    log,
		store:  st,
		mem:    mem,
		graphs: knowledge.NewManager(st, log),
	}, nil
}

func (c *core) Close() {
	if err := c.store.Close(); err != nil {
		c.log.Warn("store close failed", zap.Error(err))
	}
	logger.Sync()
}

func buildPipeline(c *core) (*analysis.Pipeline, error) {
	if err := validateRuntimeConfig(c.cfg); err != nil {
		return nil, err
	}
	analyzer, err := enrich.NewDeepSeekAnalyzer(c.cfg.GetAPIKey(), c.log,
		enrich.WithBaseURL(c.cfg.GetAPIBase()),
		enrich.WithModel(c.cfg.Enrichment.Model))
	if err != nil {
		return nil, err
	}
	return analysis.New(c.store, c.mem, c.graphs, analyzer, c.log,
		analysis.WithParallelism(c.cfg.Analysis.Parallelism)), nil
}

func buildChatLoop(c *core) (*chat.Loop, error) {
	if err := validateRuntimeConfig(c.cfg); err != nil {
		return nil, err
	}
	gen, err := chat.NewModelGenerator(c.cfg.GetAPIKey(), c.cfg.GetAPIBase(), c.cfg.Enrichment.Model, systemPrompt)
	if err != nil {
		return nil, err
	}
	names := append([]string{c.cfg.Chat.Name}, c.cfg.Chat.NameVariations...)
	return chat.New(c.mem, c.graphs, gen, c.log,
		chat.WithNameVariations(names),
		chat.WithReplyProbability(c.cfg.Chat.ReplyProbability)), nil
}

// reportHolder keeps the last analysis report for operator display.
type reportHolder struct {
	mu     sync.Mutex
	report analysis.Report
	set    bool
}

func (h *reportHolder) put(r analysis.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report, h.set = r, true
}

func (h *reportHolder) get() (analysis.Report, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.report, h.set
}

// setupScheduler registers the nightly job: run the pipeline over
// yesterday, then drop durable messages past the retention window.
func setupScheduler(c *core, pipeline *analysis.Pipeline) (*sched.Scheduler, *reportHolder, error) {
	holder := &reportHolder{}
	s := sched.New(c.log)
	err := s.Add(analysisJobName, c.cfg.Analysis.Cron, func(ctx context.Context) {
		report := pipeline.RunYesterday(ctx)
		holder.put(report)
		c.log.Info("nightly analysis finished",
			zap.String("day", report.Day.Format("2006-01-02")),
			zap.Int("users", len(report.Users)),
			zap.Int("new_facts", report.NewFactCount()))

		if days := c.cfg.Analysis.RetentionDays; days > 0 {
			cutoff := time.Now().AddDate(0, 0, -days)
			removed, err := c.store.DeleteMessagesBefore(ctx, cutoff)
			if err != nil {
				c.log.Warn("message retention sweep failed", zap.Error(err))
			} else if removed > 0 {
				c.log.Info("old messages removed", zap.Int("count", removed))
			}
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return s, holder, nil
}

func printReport(report analysis.Report) {
	fmt.Printf("Analyzed day %s: %d user(s), %d new fact(s)\n",
		report.Day.Format("2006-01-02"), len(report.Users), report.NewFactCount())
	for _, u := range report.Users {
		if u.Err != "" {
			fmt.Printf("  %s (%s): failed: %s\n", u.Username, u.UserID, u.Err)
			continue
		}
		fmt.Printf("  %s (%s): %d new fact(s), %d interest(s) merged\n",
			u.Username, u.UserID, len(u.NewFacts), u.Merged)
		for _, fact := range u.NewFacts {
			fmt.Printf("    + %s\n", fact)
		}
	}
}
