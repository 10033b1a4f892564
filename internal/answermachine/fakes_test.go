package answermachine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/answer-machine/internal/llm"
	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/pricing"
	"github.com/Kocoro-lab/answer-machine/internal/retrieval"
	"github.com/Kocoro-lab/answer-machine/internal/tokens"
)

// memStore is an in-memory thread, run, sub-question and token store
type memStore struct {
	mu       sync.Mutex
	seq      int
	threads  map[string]*models.Thread
	messages []models.Message
	runs     map[string]*models.Run
	subs     []*models.SubQuestion
	records  []models.TokenRecord

	iterationWrites []int
	markAnsweredErr error
}

func newMemStore() *memStore {
	return &memStore{
		threads: make(map[string]*models.Thread),
		runs:    make(map[string]*models.Run),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) addThread(id, username string, min, max int, userMessages ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[id] = &models.Thread{ID: id, Username: username, MinIterations: min, MaxIterations: max}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, c := range userMessages {
		m.messages = append(m.messages, models.Message{
			ID: m.nextID("msg"), ThreadID: id, Username: username, Content: c,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func (m *memStore) GetThread(_ context.Context, threadID, username string) (*models.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok || t.Username != username {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) LatestUserMessage(_ context.Context, threadID, username string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.ThreadID == threadID && msg.Username == username && !msg.IsAI {
			return &msg, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) GetMessage(_ context.Context, messageID, username string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == messageID && msg.Username == username {
			cp := msg
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) SetActiveRun(_ context.Context, threadID, username, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok || t.Username != username {
		return models.ErrNotFound
	}
	t.ActiveRunID = runID
	return nil
}

func (m *memStore) SetThreadStatus(_ context.Context, threadID, username, status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok || t.Username != username {
		return models.ErrNotFound
	}
	t.Status, t.ErrorReason = status, reason
	return nil
}

func (m *memStore) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = m.nextID("msg")
	}
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memStore) RecentMessages(_ context.Context, threadID, username string, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ThreadID == threadID && msg.Username == username {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) CreateRun(_ context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = m.nextID("run")
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) GetRun(_ context.Context, runID string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	cp.IntermediateAnswers = append([]string(nil), r.IntermediateAnswers...)
	return &cp, nil
}

func (m *memStore) AppendIntermediateAnswer(_ context.Context, runID string, _ int, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return models.ErrNotFound
	}
	r.IntermediateAnswers = append(r.IntermediateAnswers, answer)
	return nil
}

func (m *memStore) SetCurrentIteration(_ context.Context, runID string, iteration int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return models.ErrNotFound
	}
	if iteration < r.CurrentIteration {
		return models.ErrInvalidTransition
	}
	r.CurrentIteration = iteration
	m.iterationWrites = append(m.iterationWrites, iteration)
	return nil
}

func (m *memStore) UpdateTotals(_ context.Context, runID string, totals models.TokenTotals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return models.ErrNotFound
	}
	r.Totals = totals
	return nil
}

func (m *memStore) CompleteRun(_ context.Context, runID, finalAnswer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return models.ErrNotFound
	}
	r.FinalAnswer, r.Status = finalAnswer, models.RunStatusAnswered
	return nil
}

func (m *memStore) FailRun(_ context.Context, runID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return models.ErrNotFound
	}
	r.Status, r.ErrorReason = models.RunStatusError, reason
	return nil
}

func (m *memStore) CreateSubQuestions(_ context.Context, qs []*models.SubQuestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range qs {
		if q.ID == "" {
			q.ID = m.nextID("sq")
		}
		q.Status = models.SubQuestionPending
		cp := *q
		m.subs = append(m.subs, &cp)
	}
	return nil
}

func (m *memStore) GetSubQuestion(_ context.Context, id, username string) (*models.SubQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.subs {
		if q.ID == id && q.Username == username {
			cp := *q
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) ListSubQuestions(_ context.Context, runID string, status models.SubQuestionStatus) ([]models.SubQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SubQuestion
	for _, q := range m.subs {
		if q.RunID == runID && (status == "" || q.Status == status) {
			out = append(out, *q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out, nil
}

func (m *memStore) transition(id string, to models.SubQuestionStatus, apply func(*models.SubQuestion)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.subs {
		if q.ID != id {
			continue
		}
		if !q.Status.CanTransition(to) {
			return models.ErrInvalidTransition
		}
		q.Status = to
		apply(q)
		return nil
	}
	return models.ErrNotFound
}

func (m *memStore) MarkAnswered(_ context.Context, id, answer string, contextIDs []string) error {
	if m.markAnsweredErr != nil {
		return m.markAnsweredErr
	}
	return m.transition(id, models.SubQuestionAnswered, func(q *models.SubQuestion) {
		q.Answer, q.ContextIDs = answer, contextIDs
	})
}

func (m *memStore) MarkSubQuestionError(_ context.Context, id, reason string) error {
	return m.transition(id, models.SubQuestionError, func(q *models.SubQuestion) {
		q.ErrorReason = reason
	})
}

func (m *memStore) InsertTokenRecord(_ context.Context, rec *models.TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memStore) ListTokenRecords(_ context.Context, runID string) ([]models.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TokenRecord
	for _, r := range m.records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) subQuestionsByStatus(runID string) map[models.SubQuestionStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.SubQuestionStatus]int)
	for _, q := range m.subs {
		if q.RunID == runID {
			out[q.Status]++
		}
	}
	return out
}

func (m *memStore) recordTypes(runID string) map[models.QueryType]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.QueryType]int)
	for _, r := range m.records {
		if r.RunID == runID {
			out[r.QueryType]++
		}
	}
	return out
}

// historyProvider serves thread messages straight from the store
type historyProvider struct {
	store       *memStore
	invalidated int
}

func (h *historyProvider) GetMessages(ctx context.Context, threadID, username string) ([]models.Message, error) {
	return h.store.RecentMessages(ctx, threadID, username, 20)
}

func (h *historyProvider) Invalidate(context.Context, string, string) error {
	h.invalidated++
	return nil
}

// scriptedCaller answers with a fixed reply or always fails
type scriptedCaller struct {
	mu    sync.Mutex
	fail  bool
	reply func(req llm.Request) string
	// raw replaces the provider body; nil means an OpenAI usage block
	raw   []byte
	calls int
}

func (c *scriptedCaller) Call(_ context.Context, req llm.Request) llm.Response {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.fail {
		return llm.Response{Error: "connection refused"}
	}
	content := "Your budget is tracked in the finance note; consider the trend because costs rose."
	if c.reply != nil {
		content = c.reply(req)
	}
	raw := c.raw
	if raw == nil {
		raw = []byte(`{"usage":{"prompt_tokens":40,"completion_tokens":12}}`)
	}
	return llm.Response{Success: true, Content: content, Raw: raw}
}

type staticKeywords struct{ err error }

func (k staticKeywords) Keywords(_ context.Context, question string, _ llm.Settings) ([]string, error) {
	if k.err != nil {
		return nil, k.err
	}
	return retrieval.HeuristicKeywords(question), nil
}

type staticSearcher struct {
	items []models.ContextItem
	err   error
}

func (s staticSearcher) Search(context.Context, []string, string) ([]models.ContextItem, error) {
	return s.items, s.err
}

type staticFetcher struct{}

func (staticFetcher) FetchByIDs(_ context.Context, ids []string, _ string) (retrieval.Blocks, error) {
	b := retrieval.Blocks{}
	for _, id := range ids {
		b[models.SourceNote] = append(b[models.SourceNote], "- "+id+"\n")
	}
	return b, nil
}

type harness struct {
	store    *memStore
	history  *historyProvider
	caller   *scriptedCaller
	recorder *tokens.Accountant
	comps    Components
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	history := &historyProvider{store: store}
	caller := &scriptedCaller{}
	logger := zaptest.NewLogger(t)
	recorder := tokens.NewAccountant(store, pricing.NewTable(), logger)
	return &harness{
		store:    store,
		history:  history,
		caller:   caller,
		recorder: recorder,
		comps: Components{
			Threads:       store,
			Runs:          store,
			SubQuestions:  store,
			Conversations: history,
			Keywords:      staticKeywords{},
			Searcher: staticSearcher{items: []models.ContextItem{
				{ID: "note-1", SourceType: models.SourceNote, Title: "Budget", Content: "Trip budget 1200 EUR"},
			}},
			Fetcher:  staticFetcher{},
			Caller:   caller,
			Recorder: recorder,
		},
	}
}

func (h *harness) orchestrator(t *testing.T) *Orchestrator {
	return New(h.comps, zaptest.NewLogger(t))
}

// createRun starts a run on a thread the way the run manager does
func (h *harness) createRun(t *testing.T, threadID string) string {
	t.Helper()
	init, err := NewRunManager(h.store, h.store, zaptest.NewLogger(t)).
		Resolve(context.Background(), threadID, nil, "alice", false)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return init.RunID
}
