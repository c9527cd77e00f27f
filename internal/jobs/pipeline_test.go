package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dotan-Peleh/hs-automation/internal/enrich"
	"github.com/Dotan-Peleh/hs-automation/internal/helpscout"
	"github.com/Dotan-Peleh/hs-automation/internal/notify"
	slackalert "github.com/Dotan-Peleh/hs-automation/internal/slack"
	"github.com/Dotan-Peleh/hs-automation/internal/store"
	"github.com/Dotan-Peleh/hs-automation/internal/vector"
)

type fakeHelpScout struct {
	conversations map[int64]*helpscout.Conversation
	taggedWith    map[int64][]string
	listPages     []*helpscout.ConversationPage
	fetchCalls    int
}

func (f *fakeHelpScout) FetchConversation(_ context.Context, id int64) (*helpscout.Conversation, error) {
	f.fetchCalls++
	c, ok := f.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %d not found", id)
	}
	return c, nil
}

func (f *fakeHelpScout) ListConversations(_ context.Context, page int) (*helpscout.ConversationPage, error) {
	if page > len(f.listPages) {
		return &helpscout.ConversationPage{}, nil
	}
	return f.listPages[page-1], nil
}

func (f *fakeHelpScout) EnsureTags(_ context.Context, convID int64, tags []string) error {
	if f.taggedWith == nil {
		f.taggedWith = map[int64][]string{}
	}
	f.taggedWith[convID] = append(f.taggedWith[convID], tags...)
	return nil
}

type fakeLLM struct {
	calls    int
	response string
	err      error
}

func (f *fakeLLM) Complete(context.Context, string, string) (string, error) {
	f.calls++
	return f.response, f.err
}

type fakeSlackPoster struct {
	calls int
}

func (f *fakeSlackPoster) PostMessageContext(_ context.Context, channel string, _ ...slackapi.MsgOption) (string, string, error) {
	f.calls++
	return channel, fmt.Sprintf("1724670000.%06d", f.calls), nil
}

func crashConversation(id int64) *helpscout.Conversation {
	conv := &helpscout.Conversation{
		ID:      id,
		Number:  int(id),
		Subject: "Game crashes on level 42",
	}
	conv.PrimaryCustomer = helpscout.Customer{FirstName: "Dana", LastName: "Cohen"}
	th := helpscout.Thread{
		Type: "customer",
		Body: "The app crashes every time I open level 42 on my Samsung, android v2.15.3. UserId = 5f1a2b3c4d5e6f7a8b9c0d1e",
	}
	th.CreatedBy.Type = "customer"
	conv.Embedded.Threads = []helpscout.Thread{th}
	return conv
}

const crashEnrichmentJSON = `{
    "summary": "Player reports crashes opening level 42 on Android.",
    "root_cause": "app crashing on launch of level",
    "intent": "crash_report",
    "tags": ["crash", "level_42"]
}`

func newTestPipeline(hs *fakeHelpScout, llm *fakeLLM, poster *fakeSlackPoster) (*Pipeline, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	var client enrich.Client
	if llm != nil {
		client = llm
	}
	deps := PipelineDeps{
		Store:     st,
		HelpScout: hs,
		Enricher:  enrich.NewEnricher(client),
		Learner:   enrich.NewLearner(st),
		Hub:       notify.NewHub(),
	}
	if poster != nil {
		deps.Alerts = slackalert.NewNotifierWithPoster(poster, "#alerts")
	}
	return NewPipeline(deps), st
}

func TestProcessConversationFullFlow(t *testing.T) {
	ctx := context.Background()
	hs := &fakeHelpScout{conversations: map[int64]*helpscout.Conversation{101: crashConversation(101)}}
	llm := &fakeLLM{response: crashEnrichmentJSON}
	poster := &fakeSlackPoster{}
	p, st := newTestPipeline(hs, llm, poster)

	require.NoError(t, p.ProcessConversation(ctx, 101))

	conv, err := st.GetConversation(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "Dana Cohen", conv.CustomerName)
	assert.Equal(t, "5f1a2b3c4d5e6f7a8b9c0d1e", conv.GameUserID)

	e, err := st.GetEnrichment(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "crash_report", e.Intent)
	assert.Equal(t, "high", e.SeverityBucket, "crash reports are forced to high")
	assert.Equal(t, "android", e.Platform)
	require.NotNil(t, e.Level)
	assert.Equal(t, 42, *e.Level)

	events, err := st.ListRecentEvents(ctx, conv.UpdatedAt.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ClusterKey)

	incidents, err := st.ListIncidents(ctx, store.OpenishStatuses, 10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.NotEmpty(t, incidents[0].SlackThreadTS, "parent alert thread recorded")

	// incident parent + ticket alert
	assert.Equal(t, 2, poster.calls)
	assert.Contains(t, hs.taggedWith[101], "sev:high")
	assert.Contains(t, hs.taggedWith[101], "intent:crash_report")
}

func TestProcessConversationUsesCache(t *testing.T) {
	ctx := context.Background()
	hs := &fakeHelpScout{conversations: map[int64]*helpscout.Conversation{101: crashConversation(101)}}
	llm := &fakeLLM{response: crashEnrichmentJSON}
	p, _ := newTestPipeline(hs, llm, nil)

	require.NoError(t, p.ProcessConversation(ctx, 101))
	require.NoError(t, p.ProcessConversation(ctx, 101))
	assert.Equal(t, 1, llm.calls, "unchanged content must not hit the model twice")
}

func TestProcessConversationSkipsAlertWhenAgentReplied(t *testing.T) {
	ctx := context.Background()
	conv := crashConversation(102)
	agent := helpscout.Thread{Type: "message", Body: "We are on it!"}
	agent.CreatedBy.Type = "user"
	conv.Embedded.Threads = append(conv.Embedded.Threads, agent)

	hs := &fakeHelpScout{conversations: map[int64]*helpscout.Conversation{102: conv}}
	poster := &fakeSlackPoster{}
	p, st := newTestPipeline(hs, &fakeLLM{response: crashEnrichmentJSON}, poster)

	require.NoError(t, p.ProcessConversation(ctx, 102))

	stored, err := st.GetConversation(ctx, 102)
	require.NoError(t, err)
	assert.Contains(t, stored.Tags, "agent:replied")
	// only the incident parent, no per-ticket alert
	assert.Equal(t, 1, poster.calls)
}

func TestProcessConversationWithoutLLMDefaultsMedium(t *testing.T) {
	ctx := context.Background()
	hs := &fakeHelpScout{conversations: map[int64]*helpscout.Conversation{103: crashConversation(103)}}
	p, st := newTestPipeline(hs, nil, nil)

	require.NoError(t, p.ProcessConversation(ctx, 103))

	e, err := st.GetEnrichment(ctx, 103)
	require.NoError(t, err)
	assert.Empty(t, e.Intent)
	assert.Equal(t, "medium", e.SeverityBucket)
	assert.Equal(t, 30, e.SeverityScore)
}

func TestReindexVectorsNoopWithoutIndexer(t *testing.T) {
	hs := &fakeHelpScout{conversations: map[int64]*helpscout.Conversation{301: crashConversation(301)}}
	p, _ := newTestPipeline(hs, nil, nil)

	require.False(t, p.VectorIndexingEnabled())
	n, err := p.ReindexVectors(context.Background(), 100)
	require.NoError(t, err, "reindex without a configured indexer must not error")
	assert.Equal(t, 0, n)
}

func TestPeriodicJobsGatedOnIndexer(t *testing.T) {
	hs := &fakeHelpScout{}
	p, _ := newTestPipeline(hs, nil, nil)
	assert.Empty(t, periodicJobs(p), "no reindex schedule without embeddings/Pinecone")

	deps := PipelineDeps{
		Store: store.NewInMemoryStore(),
		Indexer: vector.NewIndexer(
			vector.NewEmbedder("test-key", ""),
			vector.NewPineconeIndex("test-key", "example-index.svc.pinecone.io", "support"),
		),
	}
	assert.Len(t, periodicJobs(NewPipeline(deps)), 1)
}

func TestBackfillProcessesAllPages(t *testing.T) {
	ctx := context.Background()
	convA := crashConversation(201)
	convB := crashConversation(202)
	page := &helpscout.ConversationPage{}
	page.Embedded.Conversations = []helpscout.Conversation{*convA, *convB}
	page.Page.TotalPages = 1

	hs := &fakeHelpScout{
		conversations: map[int64]*helpscout.Conversation{201: convA, 202: convB},
		listPages:     []*helpscout.ConversationPage{page},
	}
	p, st := newTestPipeline(hs, &fakeLLM{response: crashEnrichmentJSON}, nil)

	n, err := p.Backfill(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	convs, err := st.ListConversations(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}
