package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/engine"
	"github.com/scourhq/scour/internal/helpers"
	"github.com/scourhq/scour/internal/queue/streams"
	"github.com/scourhq/scour/internal/research"
	"github.com/scourhq/scour/internal/store"
	"github.com/scourhq/scour/internal/telemetry"
)

// objectiveSpec is the YAML shape accepted by `scour run --file`.
type objectiveSpec struct {
	Query              string   `yaml:"query"`
	Context            string   `yaml:"context"`
	Mode               string   `yaml:"mode"`
	KnownEntities      []string `yaml:"known_entities"`
	KnownDomains       []string `yaml:"known_domains"`
	RequiredConfidence float64  `yaml:"required_confidence"`
	MaxPages           int      `yaml:"max_pages"`
	MaxTime            string   `yaml:"max_time"`
}

func runCMD() *cobra.Command {
	var (
		cfgPath    string
		schemaPath string
		filePath   string
		mode       string
		hint       string
		domains    []string
		entities   []string
		confidence float64
		maxPages   int
		maxTime    time.Duration
		asJSON     bool
	)
	var run = &cobra.Command{
		Use:   "run [query]",
		Short: "Execute one research objective and print the report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			catalog, err := loadCatalog(schemaPath)
			if err != nil {
				return err
			}

			objective, err := buildObjective(args, filePath)
			if err != nil {
				return err
			}
			if mode != "" {
				objective.Mode = research.Mode(strings.ToLower(mode))
			}
			if objective.Mode == "" {
				objective.Mode = research.Mode(cfg.Engine.DefaultMode)
			}
			switch objective.Mode {
			case research.ModeFast, research.ModeBalanced, research.ModeDeep:
			default:
				return fmt.Errorf("mode must be fast, balanced or deep, got %q", objective.Mode)
			}
			if hint != "" {
				objective.Context = hint
			}
			if len(domains) > 0 {
				objective.KnownDomains = domains
			}
			if len(entities) > 0 {
				objective.KnownEntities = entities
			}
			if confidence > 0 {
				objective.RequiredConfidence = confidence
			}
			if maxPages > 0 {
				objective.Constraints.MaxPages = maxPages
			}
			if maxTime > 0 {
				objective.Constraints.MaxTime = maxTime
			}

			// Logs go to stderr so the report on stdout stays pipeable.
			logger := log.New(os.Stderr, "[SCOUR] ", log.LstdFlags)

			deps, cleanup, err := buildDeps(cfg, catalog, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			session := uuid.NewString()
			control := telemetry.NewEngine(session, telemetry.Options{
				EventCapacity: cfg.Control.EventCapacity,
				EventMaxAge:   cfg.Control.EventMaxAge,
				Metrics:       deps.Metrics,
				Logger:        logger,
			})
			defer control.Close()

			eng, err := engine.New(engine.Deps{
				Planner: deps.Planner,
				Trust:   deps.Trust,
				Claims:  deps.Claims,
				Caches:  deps.Caches,
				Control: control,
				Driver:  deps.Driver,
				Search:  deps.Search,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if deps.Bridge != nil {
				announce := streams.StartPayload{
					Session:            session,
					ObjectiveID:        objective.ID,
					Query:              objective.Query,
					Mode:               string(objective.Mode),
					KnownDomains:       objective.KnownDomains,
					RequiredConfidence: objective.RequiredConfidence,
					StartedAt:          time.Now().UTC(),
				}
				if err := deps.Bridge.Announce(ctx, announce); err != nil {
					logger.Printf("announce run: %v", err)
				}
				go deps.Bridge.Mirror(ctx, control)
			}

			startedAt := time.Now().UTC()
			report, err := eng.Run(ctx, objective)
			if err != nil {
				return err
			}

			if deps.Bridge != nil {
				summary := streams.RunSummary{
					Session:       report.Session,
					PlanID:        report.PlanID,
					ObjectiveID:   report.ObjectiveID,
					Reason:        string(report.Stop.Reason),
					Detail:        report.Stop.Detail,
					Confidence:    report.Overall,
					PagesVisited:  report.PagesVisited,
					ClaimsFound:   report.ClaimsFound,
					Verifications: report.Verifications,
					ElapsedMS:     report.Elapsed.Milliseconds(),
				}
				if err := deps.Bridge.Complete(context.Background(), summary); err != nil {
					logger.Printf("publish run summary: %v", err)
				}
			}
			if deps.Store != nil {
				archiveRun(deps.Store, report, objective, string(control.Status()), startedAt, logger)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	run.Flags().StringVar(&schemaPath, "schemas", "", "extraction schema catalog file (default embedded)")
	run.Flags().StringVar(&filePath, "file", "", "load the objective from a YAML file")
	run.Flags().StringVar(&mode, "mode", "", "research mode: fast, balanced or deep (default engine.default_mode)")
	run.Flags().StringVar(&hint, "context", "", "disambiguation hint for the planner")
	run.Flags().StringSliceVar(&domains, "domains", nil, "seed domains to visit first")
	run.Flags().StringSliceVar(&entities, "entities", nil, "entities the objective is about")
	run.Flags().Float64Var(&confidence, "confidence", 0, "stop once overall confidence reaches this value")
	run.Flags().IntVar(&maxPages, "max-pages", 0, "page budget override")
	run.Flags().DurationVar(&maxTime, "max-time", 0, "wall-clock budget override")
	run.Flags().BoolVar(&asJSON, "json", false, "print the raw report as JSON")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return run
}

// buildObjective assembles the base objective from the --file spec and the
// positional query. Flag overrides are applied by the caller.
func buildObjective(args []string, filePath string) (research.Objective, error) {
	var objective research.Objective
	if filePath != "" {
		raw, err := os.ReadFile(filePath)
		if err != nil {
			return objective, fmt.Errorf("read objective file: %w", err)
		}
		var spec objectiveSpec
		if err := yaml.Unmarshal(raw, &spec); err != nil {
			return objective, fmt.Errorf("parse objective file: %w", err)
		}
		objective.Query = spec.Query
		objective.Context = spec.Context
		objective.Mode = research.Mode(strings.ToLower(spec.Mode))
		objective.KnownEntities = spec.KnownEntities
		objective.KnownDomains = spec.KnownDomains
		objective.RequiredConfidence = spec.RequiredConfidence
		objective.Constraints.MaxPages = spec.MaxPages
		if spec.MaxTime != "" {
			d, err := time.ParseDuration(spec.MaxTime)
			if err != nil {
				return objective, fmt.Errorf("parse max_time: %w", err)
			}
			objective.Constraints.MaxTime = d
		}
	}
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		objective.Query = strings.TrimSpace(args[0])
	}
	if strings.TrimSpace(objective.Query) == "" {
		return objective, fmt.Errorf("a query is required, pass it as an argument or via --file")
	}
	objective.ID = uuid.NewString()
	objective.CreatedAt = time.Now().UTC()
	return objective, nil
}

// archiveRun persists the finished run the same way the server does, so
// one-shot CLI runs show up next to scheduled ones.
func archiveRun(st *store.Store, report *engine.Report, objective research.Objective, status string, startedAt time.Time, logger *log.Logger) {
	payload, err := json.Marshal(report)
	if err != nil {
		logger.Printf("encode report: %v", err)
		return
	}
	rec := store.RunRecord{
		Session:       report.Session,
		ObjectiveID:   report.ObjectiveID,
		PlanID:        report.PlanID,
		Query:         objective.Query,
		Mode:          string(report.Mode),
		Status:        status,
		StopReason:    string(report.Stop.Reason),
		Confidence:    report.Overall,
		PagesVisited:  report.PagesVisited,
		ClaimsFound:   report.ClaimsFound,
		Verifications: report.Verifications,
		KnownDomains:  objective.KnownDomains,
		Report:        payload,
		StartedAt:     startedAt,
		FinishedAt:    report.GeneratedAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.SaveRun(ctx, rec); err != nil {
		logger.Printf("archive run: %v", err)
		return
	}
	if err := st.RecordStopCondition(ctx, report.Session, report.Stop); err != nil {
		logger.Printf("archive stop condition: %v", err)
	}
}

// printReport renders the report for a terminal: the stop line, the run
// aggregates, then each answer with its citations.
func printReport(w io.Writer, report *engine.Report) {
	fmt.Fprintf(w, "objective: %s\n", report.Objective)
	fmt.Fprintf(w, "session:   %s\n", report.Session)
	fmt.Fprintf(w, "mode:      %s\n", report.Mode)
	stop := string(report.Stop.Reason)
	if report.Stop.Detail != "" {
		stop += " (" + report.Stop.Detail + ")"
	}
	fmt.Fprintf(w, "stopped:   %s\n", stop)
	fmt.Fprintf(w, "confidence %.2f | pages %d | claims %d | verifications %d | contradictions %d | elapsed %s\n",
		report.Overall, report.PagesVisited, report.ClaimsFound, report.Verifications,
		report.Contradictions, report.Elapsed.Round(time.Millisecond))

	for _, a := range report.Answers {
		note := ""
		if !a.Satisfied {
			note = ", below threshold"
		}
		fmt.Fprintf(w, "\nQ: %s\n", a.Question)
		fmt.Fprintf(w, "A: %s (score %.2f, %d corroborations%s)\n", a.Answer, a.Score, a.Corroborations, note)
		citations := make([]helpers.Citation, 0, len(a.Sources))
		for i, src := range a.Sources {
			citations = append(citations, helpers.Citation{
				Ref:      i + 1,
				URL:      src.URL,
				Tier:     int(src.Tier),
				Accessed: src.Timestamp,
			})
		}
		for _, line := range helpers.FormatCitations(citations) {
			fmt.Fprintf(w, "   %s\n", line)
		}
	}

	if len(report.Unanswered) > 0 {
		fmt.Fprintf(w, "\nunanswered:\n")
		for _, q := range report.Unanswered {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}
}
