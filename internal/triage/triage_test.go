package triage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEntities(t *testing.T) {
	e := ExtractEntities("Game crashes on Level 42 every time, Samsung, Android, app version 2.15.3")

	require.NotNil(t, e.Level)
	assert.Equal(t, 42, *e.Level)
	assert.Nil(t, e.Chapter)
	assert.Equal(t, "android", e.Platform)
	assert.Equal(t, "2.15.3", e.AppVersion)
	assert.Equal(t, "Samsung", e.Device)
}

func TestExtractEntitiesTemplateDeviceLine(t *testing.T) {
	e := ExtractEntities("Device = iPhone 14 Pro\nApp keeps freezing on chapter 3")

	assert.Equal(t, "iPhone 14 Pro", e.Device)
	require.NotNil(t, e.Chapter)
	assert.Equal(t, 3, *e.Chapter)
	assert.Equal(t, "ios", e.Platform)
}

func TestExtractEntitiesEmpty(t *testing.T) {
	e := ExtractEntities("just wanted to say thanks")

	assert.Nil(t, e.Level)
	assert.Nil(t, e.Chapter)
	assert.Empty(t, e.Platform)
	assert.Empty(t, e.AppVersion)
	assert.Empty(t, e.Device)
}

func TestCategorize(t *testing.T) {
	cats, score := Categorize("The game crash after every purchase on my iPhone")

	assert.Contains(t, cats, "bug")
	assert.Contains(t, cats, "payment")
	assert.Contains(t, cats, "device")
	assert.GreaterOrEqual(t, score, 30)
	assert.LessOrEqual(t, score, 100)
}

func TestCategorizeFallsBackToUncategorized(t *testing.T) {
	cats, score := Categorize("hello there")

	assert.Equal(t, []string{"uncategorized"}, cats)
	assert.Equal(t, 0, score)
}

func TestCategorizeScoreClamped(t *testing.T) {
	_, score := Categorize("crash crash crash crash crash billing refund declined payment")
	assert.Equal(t, 100, score)
}

func TestClusterKeyDeterministic(t *testing.T) {
	lvl := 7
	e := Entities{Level: &lvl, Platform: "android", AppVersion: "1.2.3"}

	k1 := ClusterKey("Game Crashed", e)
	k2 := ClusterKey("game crashed", e)
	assert.Equal(t, k1, k2, "cluster key must be case-insensitive on text")
	assert.Len(t, k1, 32)

	other := e
	lvl8 := 8
	other.Level = &lvl8
	assert.NotEqual(t, k1, ClusterKey("Game Crashed", other), "different level must produce a different cluster")
}

func TestComputeSeverityClamped(t *testing.T) {
	lvl := 50
	e := Entities{Level: &lvl, Platform: "ios"}
	text := "urgent: game crash after update, payment charged, progress lost, data loss, can't login"

	s := ComputeSeverity(text, e, 90)
	assert.Equal(t, 100, s)

	assert.Equal(t, 0, ComputeSeverity("all fine", Entities{}, 0))
}

func TestBucketize(t *testing.T) {
	th := DefaultThresholds()

	assert.Equal(t, SeverityCritical, th.Bucketize(75, 0, 0), "high score alone is critical")
	assert.Equal(t, SeverityCritical, th.Bucketize(45, 4.0, 3.0))
	assert.Equal(t, SeverityHigh, th.Bucketize(40, 0, 0))
	assert.Equal(t, SeverityHigh, th.Bucketize(32, 2.6, 1.0))
	assert.Equal(t, SeverityMedium, th.Bucketize(25, 2.0, 1.0))
	assert.Equal(t, "", th.Bucketize(10, 0, 0), "quiet low-score tickets abstain")
	assert.Equal(t, "", th.Bucketize(25, 1.0, 0), "score below 40 with weak signal abstains")
}

func TestBucketFromScore(t *testing.T) {
	assert.Equal(t, SeverityHigh, BucketFromScore(55))
	assert.Equal(t, SeverityMedium, BucketFromScore(30))
	assert.Equal(t, SeverityLow, BucketFromScore(10))
}

func TestAnomalyDetectorZGrowsWithVolume(t *testing.T) {
	d := NewAnomalyDetector(time.Hour)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	prev := -1.0
	for i := 0; i < 10; i++ {
		base = base.Add(time.Minute)
		z, cusum := d.UpdateAndScore("cluster-a")
		assert.GreaterOrEqual(t, z, prev, "z-score must be non-decreasing as volume grows")
		assert.GreaterOrEqual(t, cusum, 0.0)
		prev = z
	}
	assert.Equal(t, 10, d.Volume("cluster-a"))
	assert.Equal(t, 0, d.Volume("cluster-b"))
}

func TestAnomalyDetectorPrunesOldEvents(t *testing.T) {
	d := NewAnomalyDetector(time.Hour)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		d.UpdateAndScore("k")
	}
	require.Equal(t, 5, d.Volume("k"))

	base = base.Add(2 * time.Hour)
	z, _ := d.UpdateAndScore("k")
	assert.Equal(t, 1, d.Volume("k"))
	assert.InDelta(t, 0.0, z, 0.001, "single event in window is baseline")
}

func TestDeriveTagsBetaFeedbackWinsOverCrash(t *testing.T) {
	tags := DeriveTags("Player has written new beta feedback: the game crashes a lot but I love it", Entities{})

	assert.Contains(t, tags, "intent:beta_feedback")
	assert.NotContains(t, tags, "intent:bug_report")
	assert.NotContains(t, tags, "tag:critical_crash")
}

func TestDeriveTagsCrash(t *testing.T) {
	e := Entities{Platform: "android", AppVersion: "3.1.0"}
	tags := DeriveTags("The app crash happens every time I open the shop", e)

	assert.Contains(t, tags, "intent:bug_report")
	assert.Contains(t, tags, "tag:critical_crash")
	assert.Contains(t, tags, "platform:android")
	assert.Contains(t, tags, "version:3.1.0")
	assert.Equal(t, "bug_report", IntentFromTags(tags))
}

func TestDeriveTagsBugGroupIsExclusive(t *testing.T) {
	tags := DeriveTags("app crash and also the game is frozen, what a buggy mess", Entities{})

	assert.Contains(t, tags, "tag:critical_crash")
	assert.NotContains(t, tags, "tag:app_freeze", "first matching bug rule wins")
}

func TestDeriveTagsCancelSuppressesFeedbackIntents(t *testing.T) {
	tags := DeriveTags("please cancel my subscription, this game is too expensive", Entities{})

	assert.Contains(t, tags, "intent:cancel_subscription")
	assert.NotContains(t, tags, "intent:monetization_complaint", "cancel request is not a feedback complaint")
	assert.Contains(t, tags, "tag:purchase_issue")

	bucket, _ := Escalate(SeverityHigh, tags, []string{"payment"}, 0, "")
	assert.Equal(t, SeverityHigh, bucket, "cancel requests keep their computed severity")
}

func TestDeriveTagsRefund(t *testing.T) {
	tags := DeriveTags("I was charged twice, I want a refund", Entities{})
	assert.Contains(t, tags, "intent:refund_request")
}

func TestDeriveTagsOfferwall(t *testing.T) {
	tags := DeriveTags("I completed the tapjoy offer but the reward is missing", Entities{})
	assert.Contains(t, tags, "intent:offerwall_issue")
	assert.Contains(t, tags, "tag:offerwall")
}

func TestDeriveTagsAccountAccessIgnoresPassingLoginMention(t *testing.T) {
	tags := DeriveTags("when i log in and open the map the flowers are gone", Entities{})
	assert.NotContains(t, tags, "intent:account_access")
	assert.Contains(t, tags, "flowers")
}

func TestDetectSentiment(t *testing.T) {
	assert.Equal(t, "positive", DetectSentiment("I love this game, best game ever"))
	assert.Equal(t, "negative", DetectSentiment("this is terrible, it keeps crashing"))
	assert.Equal(t, "mixed", DetectSentiment("Great game, however the energy system is broken"))
	assert.Equal(t, "neutral", DetectSentiment("please help me, I accidentally bought gems"))
	assert.Equal(t, "neutral", DetectSentiment("hello"))
}

func TestInterpretHelpScoutTags(t *testing.T) {
	intent, extra := InterpretHelpScoutTags([]string{"Crash", "progress lost"})
	assert.Equal(t, "recover_progress", intent)
	assert.Contains(t, extra, "tag:critical_crash")
	assert.Contains(t, extra, "tag:progress_lost")

	intent, _ = InterpretHelpScoutTags([]string{"beta"})
	assert.Equal(t, "beta_feedback", intent)

	intent, extra = InterpretHelpScoutTags([]string{"refund", "billing"})
	assert.Equal(t, "refund_request", intent)
	assert.Contains(t, extra, "tag:purchase_issue")
}

func TestEscalateClusterVolume(t *testing.T) {
	bucket, reason := Escalate(SeverityMedium, nil, nil, 12, "")
	assert.Equal(t, SeverityCritical, bucket)
	assert.Contains(t, reason, "12 users")

	bucket, _ = Escalate(SeverityLow, nil, nil, 6, "")
	assert.Equal(t, SeverityHigh, bucket)
}

func TestEscalateCrashTagForcesHigh(t *testing.T) {
	bucket, _ := Escalate(SeverityLow, []string{"tag:critical_crash", "intent:bug_report"}, nil, 0, "")
	assert.Equal(t, SeverityHigh, bucket)
}

func TestEscalatePaymentLowBecomesMedium(t *testing.T) {
	bucket, _ := Escalate(SeverityLow, []string{"tag:purchase_issue"}, []string{"payment"}, 0, "")
	assert.Equal(t, SeverityMedium, bucket)
}

func TestEscalateFeedbackForcedLow(t *testing.T) {
	bucket, _ := Escalate(SeverityHigh, []string{"intent:monetization_complaint"}, nil, 0, "")
	assert.Equal(t, SeverityLow, bucket)

	bucket, _ = Escalate(SeverityCritical, []string{"intent:beta_feedback"}, nil, 0, "")
	assert.Equal(t, SeverityLow, bucket)
}
