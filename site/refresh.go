package site

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Providers carries the upstream endpoints and credentials the sources
// are built from. Empty endpoints fall back to the public hosts.
type Providers struct {
	HuggingFaceEndpoint string
	HuggingFaceRepo     string
	HuggingFaceToken    string

	GitHubAPI   string
	GitHubRepo  string
	GitHubToken string

	PgyerBase   string
	PgyerAPIKey string
	PgyerAppKey string

	ITunesBase string
}

// NewSources builds one Source per catalog entry, in catalog order.
func NewSources(cat *Catalog, p Providers) []Source {
	sources := make([]Source, 0, len(cat.Entries))
	for _, e := range cat.Entries {
		switch e.Provider {
		case ProviderHuggingFace:
			sources = append(sources, NewHuggingFaceSource(e, p.HuggingFaceEndpoint, p.HuggingFaceRepo, p.HuggingFaceToken))
		case ProviderGitHub:
			sources = append(sources, NewGitHubSource(e, p.GitHubAPI, p.GitHubRepo, p.GitHubToken))
		case ProviderPgyer:
			sources = append(sources, NewPgyerSource(e, p.PgyerBase, p.PgyerAPIKey, p.PgyerAppKey))
		case ProviderAppStore:
			sources = append(sources, NewAppStoreSource(e, p.ITunesBase))
		case ProviderPlayStore:
			sources = append(sources, NewPlayStoreSource(e))
		case ProviderStatic:
			sources = append(sources, NewStaticSource(e))
		}
	}
	return sources
}

// TypeReport summarizes one source's part of a refresh cycle.
type TypeReport struct {
	Type     Type          `json:"type"`
	Source   string        `json:"source"`
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Found    int           `json:"found"`
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// Report summarizes a refresh cycle.
type Report struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Types      []TypeReport `json:"types"`
}

// Refresher polls every source and records what it finds. Cycles run the
// sources one after another; overlapping cycles are harmless because every
// write is an idempotent upsert.
type Refresher struct {
	store      *Store
	sources    []Source
	metrics    *Metrics
	afterCycle func(ctx context.Context, latest map[Type]*Record)
}

func NewRefresher(store *Store, sources []Source, metrics *Metrics) *Refresher {
	return &Refresher{store: store, sources: sources, metrics: metrics}
}

// AfterCycle registers fn to receive the latest set after every cycle.
func (r *Refresher) AfterCycle(fn func(ctx context.Context, latest map[Type]*Record)) {
	r.afterCycle = fn
}

// Run refreshes once immediately, then every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	slog.Info("Starting refresher", "sources", len(r.sources), "interval", interval)

	r.RefreshAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshAll(ctx)
		}
	}
}

// RefreshAll runs one cycle over every source. It never fails: each source's
// errors and panics are logged and confined to that source.
func (r *Refresher) RefreshAll(ctx context.Context) (report Report) {
	report = Report{ID: uuid.NewString(), StartedAt: time.Now()}
	log := slog.With("cycle", report.ID)
	log.Info("Refreshing distributions")

	defer func() {
		if p := recover(); p != nil {
			log.Error("Refresh cycle aborted", "panic", p)
		}
		report.FinishedAt = time.Now()
		r.metrics.cycle(report.FinishedAt.Sub(report.StartedAt), report.FinishedAt)
		log.Info("Refresh complete", "duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	}()

	for _, src := range r.sources {
		// Only Run's shutdown cancels a cycle; HTTP callers detach first.
		if ctx.Err() != nil {
			log.Warn("Refresh cancelled", "error", ctx.Err())
			break
		}
		report.Types = append(report.Types, r.refreshOne(ctx, log, src))
	}

	if r.afterCycle != nil {
		latest, err := r.store.Latest(ctx)
		if err != nil {
			log.Error("Loading latest set failed", "error", err)
			return report
		}
		r.afterCycle(ctx, latest)
	}
	return report
}

func (r *Refresher) refreshOne(ctx context.Context, log *slog.Logger, src Source) (tr TypeReport) {
	start := time.Now()
	tr.Type = src.Type()
	tr.Source = src.Description()
	log = log.With("type", tr.Type)

	defer func() {
		if p := recover(); p != nil {
			tr.Outcome = Failed
			tr.Reason = fmt.Sprintf("panic: %v", p)
			log.Error("Source panicked", "panic", p)
		}
		tr.Duration = time.Since(start)
		r.metrics.fetched(tr.Type, tr.Outcome)
	}()

	res := src.Fetch(ctx)
	tr.Outcome = res.Outcome
	tr.Reason = res.Reason
	tr.Found = len(res.Artifacts)

	switch res.Outcome {
	case Skipped:
		log.Warn("Source skipped", "reason", res.Reason)
	case Empty:
		log.Info("Nothing found", "reason", res.Reason)
	case Failed:
		log.Error("Fetch failed", "error", res.Err)
	}

	for _, a := range res.Artifacts {
		outcome, err := r.store.Save(ctx, tr.Type, a.URL, a.Version, a.Build)
		if err != nil {
			tr.Errors++
			r.metrics.saved(tr.Type, "error")
			log.Error("Saving distribution failed", "url", a.URL, "error", err)
			continue
		}
		r.metrics.saved(tr.Type, outcome.String())
		switch outcome {
		case Inserted:
			tr.Inserted++
			log.Info("New distribution", "url", a.URL, "version", a.Version, "build", buildAttr(a.Build))
		case Updated:
			tr.Updated++
			log.Info("Updated distribution", "url", a.URL, "version", a.Version, "build", buildAttr(a.Build))
		}
	}
	return tr
}

func buildAttr(b *int) any {
	if b == nil {
		return "none"
	}
	return *b
}
