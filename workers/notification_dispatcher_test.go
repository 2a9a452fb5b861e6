package workers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"quest-progress-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	keys    []string
	ids     []string
	failFor map[string]bool
}

func (p *recordingPublisher) Publish(routingKey, messageID string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[messageID] {
		return errors.New("channel closed")
	}
	if _, ok := data.(NotificationMessage); !ok {
		return errors.New("unexpected payload type")
	}
	p.keys = append(p.keys, routingKey)
	p.ids = append(p.ids, messageID)
	return nil
}

func TestDispatchOnce_PublishesAndMarks(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Notifications.Enqueue(e.DB, "u1", models.NotifyLevelUp, "Level up!", "Level 2", map[string]any{"level": 2}))
	require.NoError(t, e.Notifications.Enqueue(e.DB, "u2", models.NotifyBadgeEarned, "Badge", "First quest", nil))

	pub := &recordingPublisher{}
	d := NewNotificationDispatcher(e.Notifications, pub, "quest", 10, 3)

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"quest.level_up", "quest.badge_earned"}, pub.keys)

	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "dispatched intents are not sent twice")
}

func TestDispatchOnce_FailuresRetryUntilExhausted(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Notifications.Enqueue(e.DB, "u1", models.NotifyRankUp, "Rank up", "D-Rank", nil))
	pending, err := e.Notifications.Pending(10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	id := pending[0].ID

	pub := &recordingPublisher{failFor: map[string]bool{id: true}}
	d := NewNotificationDispatcher(e.Notifications, pub, "", 10, 2)

	for i := 0; i < 3; i++ {
		n, err := d.DispatchOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	var intent models.NotificationIntent
	require.NoError(t, e.DB.First(&intent, "id = ?", id).Error)
	assert.Equal(t, 2, intent.Attempts, "exhausted intents are no longer picked up")
	assert.Equal(t, "channel closed", intent.LastError)
	assert.Nil(t, intent.DispatchedAt)

	// a healthy broker does not resurrect exhausted intents
	pub.failFor = nil
	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
