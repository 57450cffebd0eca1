package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"repoaudit/internal/audit"
	"repoaudit/internal/auditctx"
	"repoaudit/internal/fetcher"
	"repoaudit/internal/llm"
	"repoaudit/internal/pipeline"
	"repoaudit/internal/repo"
	"repoaudit/internal/report"
	"repoaudit/internal/types"
)

type fakeFiles struct {
	branch    string
	branchErr error
	files     []fetcher.File
	fetchErr  error
	gotBranch string
}

func (f *fakeFiles) DefaultBranch(context.Context, repo.Reference) (string, error) {
	if f.branchErr != nil {
		return fetcher.FallbackBranch, f.branchErr
	}
	return f.branch, nil
}

func (f *fakeFiles) Fetch(_ context.Context, _ repo.Reference, branch string) ([]fetcher.File, error) {
	f.gotBranch = branch
	return f.files, f.fetchErr
}

type recorder struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (r *recorder) Emit(ev pipeline.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) percents() []int {
	out := make([]int, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Percent
	}
	return out
}

func (r *recorder) states() []pipeline.State {
	out := make([]pipeline.State, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.State
	}
	return out
}

func (r *recorder) last() pipeline.Event { return r.events[len(r.events)-1] }

var _ = Describe("Orchestrator", func() {
	var (
		ref   repo.Reference
		stats types.AuditStats
		files *fakeFiles
		model *llm.FakeClient
		rec   *recorder
		orch  *pipeline.Orchestrator
	)

	BeforeEach(func() {
		ref = repo.MustParse("https://github.com/acme/widgets")
		stats = types.AuditStats{FileCountEstimate: 100, TokenVolumeLabel: "128.0k", DominantLanguage: "TypeScript", DominantLanguagePercent: 80}
		files = &fakeFiles{branch: "main", files: []fetcher.File{{Path: "package.json", Content: "{}"}, {Path: "src/a.ts", Content: "export {}"}}}
		model = llm.NewFakeClient("")
		rec = &recorder{}
	})

	JustBeforeEach(func() {
		orch = pipeline.New(files, audit.NewClient(model), report.NewValidator(report.PolicyReject, nil), pipeline.Pacing{}, nil)
	})

	Context("when every stage succeeds", func() {
		It("walks every state in order and returns the report", func() {
			rep, err := orch.Run(context.Background(), ref, stats, rec)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.RepoName).To(Equal("widgets"))
			Expect(rep.HealthScore).To(Equal(72))
			Expect(rep.Issues).To(HaveLen(6))
			Expect(rep.Stats).To(Equal(stats))

			Expect(rec.states()).To(Equal([]pipeline.State{
				pipeline.StateInitializing,
				pipeline.StateFetchingMetadata,
				pipeline.StateFetchingTree,
				pipeline.StateParsing,
				pipeline.StateAuditing,
				pipeline.StateFinalizing,
				pipeline.StateComplete,
			}))
			Expect(rec.percents()).To(Equal([]int{10, 10, 10, 40, 60, 60, 100}))
			Expect(rec.events[0].LogLine).To(Equal("[System] Initializing audit for acme/widgets..."))
			Expect(rec.events[3].LogLine).To(Equal("[Success] Retrieved 2 critical source files."))
			Expect(rec.last().LogLine).To(Equal("[Success] Report generated. Health score: 72/100"))
			for i, ev := range rec.events {
				Expect(ev.Seq).To(Equal(i + 1))
			}
		})

		It("sends the fetched source to the model", func() {
			_, err := orch.Run(context.Background(), ref, stats, rec)
			Expect(err).NotTo(HaveOccurred())
			Expect(model.Prompts()).To(HaveLen(1))
			Expect(model.Prompts()[0]).To(ContainSubstring("--- FILE: src/a.ts ---"))
			Expect(files.gotBranch).To(Equal("main"))
		})

		It("completes without an emitter", func() {
			rep, err := orch.Run(context.Background(), ref, stats, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.HealthScore).To(Equal(72))
			Expect(rec.events).To(BeEmpty())
		})
	})

	Context("when no file could be fetched", func() {
		BeforeEach(func() { files.files = nil })

		It("audits from the fallback notice and still completes", func() {
			rep, err := orch.Run(context.Background(), ref, stats, rec)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Issues).NotTo(BeEmpty())
			Expect(model.Prompts()[0]).To(ContainSubstring(auditctx.Fallback("TypeScript")))
			Expect(rec.events[3].LogLine).To(Equal("[Success] Retrieved 0 critical source files."))
			Expect(rec.last().State).To(Equal(pipeline.StateComplete))
		})
	})

	Context("when the model returns text that is not JSON", func() {
		BeforeEach(func() { model = llm.NewFakeClient("Sure! Here is your report: healthScore 80") })

		It("fails with a validation error and freezes percent at 60", func() {
			_, err := orch.Run(context.Background(), ref, stats, rec)
			var ve *report.ValidationError
			Expect(errors.As(err, &ve)).To(BeTrue())

			n := len(rec.events)
			Expect(rec.events[n-2].LogLine).To(HavePrefix("[Error] Audit Failed: invalid audit report"))
			Expect(rec.events[n-1].LogLine).To(Equal("[System] Process halted."))
			Expect(rec.events[n-2].State).To(Equal(pipeline.StateFailed))
			Expect(rec.events[n-2].Percent).To(Equal(60))
			Expect(rec.events[n-1].Percent).To(Equal(60))
		})
	})

	Context("when the tree listing fails", func() {
		BeforeEach(func() { files.fetchErr = errors.Join(fetcher.ErrTreeFetch, errors.New("409 conflict")) })

		It("aborts before the model is called", func() {
			_, err := orch.Run(context.Background(), ref, stats, rec)
			Expect(errors.Is(err, fetcher.ErrTreeFetch)).To(BeTrue())
			Expect(model.Prompts()).To(BeEmpty())
			Expect(rec.last().Percent).To(Equal(10))
			Expect(rec.states()).To(ContainElement(pipeline.StateFailed))
			Expect(rec.states()).NotTo(ContainElement(pipeline.StateParsing))
		})
	})

	Context("when the model call fails", func() {
		BeforeEach(func() { model.Err = errors.New("503 backend unavailable") })

		It("surfaces an invocation error at 60 without retrying", func() {
			_, err := orch.Run(context.Background(), ref, stats, rec)
			var inv *audit.InvocationError
			Expect(errors.As(err, &inv)).To(BeTrue())
			Expect(model.Prompts()).To(HaveLen(1))
			Expect(rec.last().Percent).To(Equal(60))
			Expect(rec.events[len(rec.events)-2].LogLine).To(ContainSubstring("503 backend unavailable"))
		})
	})

	Context("when the default branch cannot be resolved", func() {
		BeforeEach(func() { files.branchErr = errors.New("rate limited") })

		It("falls back to main and continues", func() {
			_, err := orch.Run(context.Background(), ref, stats, rec)
			Expect(err).NotTo(HaveOccurred())
			Expect(files.gotBranch).To(Equal("main"))
		})
	})

	Context("when the caller gives up during pacing", func() {
		It("ends in Failed", func() {
			o := pipeline.New(files, audit.NewClient(model), report.NewValidator(report.PolicyReject, nil),
				pipeline.Pacing{Connect: time.Minute}, nil)
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			_, err := o.Run(ctx, ref, stats, rec)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(rec.last().State).To(Equal(pipeline.StateFailed))
			Expect(strings.HasPrefix(rec.events[len(rec.events)-2].LogLine, "[Error]")).To(BeTrue())
		})
	})

	It("never lets percent decrease", func() {
		_, _ = orch.Run(context.Background(), ref, stats, rec)
		p := rec.percents()
		for i := 1; i < len(p); i++ {
			Expect(p[i]).To(BeNumerically(">=", p[i-1]))
		}
	})
})
