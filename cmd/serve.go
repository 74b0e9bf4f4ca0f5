package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/veridia-health/psur-cli/internal/coverage"
	"github.com/veridia-health/psur-cli/internal/model"
	"github.com/veridia-health/psur-cli/internal/obligation"
	"github.com/veridia-health/psur-cli/internal/store"
	"github.com/veridia-health/psur-cli/internal/trace"
)

var (
	serveTemplatePath string
	servePort         int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the coverage and adjudication API over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		tpl, err := obligation.LoadTemplate(serveTemplatePath)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		env := &serverEnv{
			store:    st,
			recorder: trace.NewRecorder(st),
			template: tpl,
			limiters: newIPLimiters(rate.Limit(cfg.Server.SubmitRatePerSec), cfg.Server.SubmitBurst),
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: env.router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			grace := time.Duration(cfg.Server.ShutdownGraceSecs) * time.Second
			shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("template", tpl.TemplateID),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// serverEnv bundles the shared dependencies of the HTTP handlers.
type serverEnv struct {
	store    store.Store
	recorder *trace.Recorder
	template *obligation.Template
	limiters *ipLimiters
}

func (env *serverEnv) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/cases/{caseID}", func(api chi.Router) {
		api.Post("/queue", env.handleQueue)
		api.With(env.limiters.middleware).Post("/proposals", env.handleProposal)
		api.Get("/trace", env.handleTrace)
		api.Get("/trace/verify", env.handleTraceVerify)
	})

	return r
}

// queueRequest is the body of POST /cases/{caseID}/queue.
type queueRequest struct {
	PeriodStart   string   `json:"period_start"`
	PeriodEnd     string   `json:"period_end"`
	Jurisdictions []string `json:"jurisdictions,omitempty"`
}

func (env *serverEnv) handleQueue(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	var req queueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	start, end, err := parsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	atoms, err := env.store.ListAtoms(r.Context(), caseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list evidence failed")
		return
	}
	accepted, err := env.store.ListProposals(r.Context(), store.ProposalFilter{
		CaseID: caseID,
		Status: model.ProposalAccepted,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list proposals failed")
		return
	}

	report, err := coverage.Build(coverage.Input{
		Template:      env.template,
		Jurisdictions: req.Jurisdictions,
		Atoms:         atoms,
		Accepted:      accepted,
		PeriodStart:   start,
		PeriodEnd:     end,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	_, err = env.recorder.Append(r.Context(), caseID, trace.Event{
		Type:      model.EventCoverageComputed,
		EntityRef: env.template.TemplateID,
		Summary:   "coverage queue computed",
		Payload: map[string]any{
			"mandatory_remaining": report.Summary.MandatoryRemaining,
			"queue_len":           len(report.Queue),
		},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "trace append failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// proposalRequest is the body of POST /cases/{caseID}/proposals.
type proposalRequest struct {
	Proposal    model.SlotProposal `json:"proposal"`
	PeriodStart string             `json:"period_start"`
	PeriodEnd   string             `json:"period_end"`
}

func (env *serverEnv) handleProposal(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	var req proposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	start, end, err := parsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := req.Proposal
	if p.ProposalID == "" {
		writeError(w, http.StatusBadRequest, "proposal_id is required")
		return
	}
	// The path owns the case; a mismatched body is a client error, not
	// something to silently rewrite.
	if p.CaseID != "" && p.CaseID != caseID {
		writeError(w, http.StatusBadRequest, "proposal case_id does not match path")
		return
	}
	p.CaseID = caseID
	p.Status = model.ProposalPending
	p.Result = nil
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	applied, err := adjudicateOne(r.Context(), env.store, env.recorder, env.template, p, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "adjudication failed")
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

func (env *serverEnv) handleTrace(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	entries, err := env.store.TraceEntries(r.Context(), caseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load trace failed")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	_ = trace.WriteNDJSON(w, entries)
}

func (env *serverEnv) handleTraceVerify(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	report, err := trace.Verify(r.Context(), env.store, caseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ipLimiters rate-limits proposal submission per client IP.
type ipLimiters struct {
	mu    sync.Mutex
	perIP map[string]*rate.Limiter
	limit rate.Limit
	burst int
}

func newIPLimiters(limit rate.Limit, burst int) *ipLimiters {
	return &ipLimiters{
		perIP: make(map[string]*rate.Limiter),
		limit: limit,
		burst: burst,
	}
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.perIP[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.perIP[ip] = lim
	}
	return lim
}

func (l *ipLimiters) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.get(ip).Allow() {
			writeError(w, http.StatusTooManyRequests, "proposal rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().StringVar(&serveTemplatePath, "template", "", "path to template definition YAML (required)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	_ = serveCmd.MarkFlagRequired("template")
	rootCmd.AddCommand(serveCmd)
}
