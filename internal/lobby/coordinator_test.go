package lobby

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingMetrics struct {
	counts map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]int)}
}

func (m *countingMetrics) Incr(name string) { m.counts[name]++ }

// failingStore reports every operation as unavailable.
type failingStore struct{}

func (failingStore) Put(ctx context.Context, lobbyID, connID, displayName string) error {
	return ErrStoreUnavailable
}
func (failingStore) Remove(ctx context.Context, lobbyID, connID string) error {
	return ErrStoreUnavailable
}
func (failingStore) List(ctx context.Context, lobbyID string) (map[string]string, error) {
	return nil, ErrStoreUnavailable
}
func (failingStore) Count(ctx context.Context, lobbyID string) (int, error) {
	return 0, ErrStoreUnavailable
}
func (failingStore) Lobbies(ctx context.Context) ([]string, error) {
	return nil, ErrStoreUnavailable
}
func (failingStore) LobbiesOf(ctx context.Context, connID string) ([]string, error) {
	return nil, ErrStoreUnavailable
}

type fixture struct {
	store   *MemoryStore
	bus     *LocalBus
	coord   *Coordinator
	metrics *countingMetrics
}

func newFixture(t *testing.T) *fixture {
	logger := zaptest.NewLogger(t)
	store := NewMemoryStore()
	bus := NewLocalBus(logger)
	metrics := newCountingMetrics()
	coord := NewCoordinator(store, bus, logger, metrics)
	coord.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return &fixture{store: store, bus: bus, coord: coord, metrics: metrics}
}

func (f *fixture) connect(id string) *recordingPeer {
	p := newRecordingPeer(id)
	f.bus.Attach(p)
	return p
}

func payloadOf[T any](t *testing.T, ev Event) T {
	t.Helper()
	p, ok := ev.Payload.(T)
	require.Truef(t, ok, "payload of %s has type %T", ev.Name, ev.Payload)
	return p
}

func TestCoordinator_JoinSendsSnapshotWithoutSelf(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.connect("a")
	require.NoError(t, f.coord.Join(ctx, "a", "main", "Alice"))

	b := f.connect("b")
	require.NoError(t, f.coord.Join(ctx, "b", "main", "Bob"))

	// A's first event after its own (empty) snapshot is B's join.
	aEvents := a.received()
	require.Len(t, aEvents, 2)
	assert.Equal(t, EventLobbyState, aEvents[0].Name)
	assert.Empty(t, payloadOf[LobbyState](t, aEvents[0]).Players)
	assert.Equal(t, EventPlayerJoined, aEvents[1].Name)
	joined := payloadOf[PlayerJoined](t, aEvents[1])
	assert.Equal(t, "b", joined.ID)
	assert.Equal(t, "Bob", joined.Username)

	// B sees only the snapshot, containing A and never itself.
	bEvents := b.received()
	require.Len(t, bEvents, 1)
	assert.Equal(t, EventLobbyState, bEvents[0].Name)
	assert.Equal(t, map[string]string{"a": "Alice"}, payloadOf[LobbyState](t, bEvents[0]).Players)
}

func TestCoordinator_JoinDefaultsLobby(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.connect("a")
	require.NoError(t, f.coord.Join(ctx, "a", "", "Alice"))

	players, err := f.store.List(ctx, DefaultLobby)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "Alice"}, players)
}

func TestCoordinator_JoinTrimsDisplayName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.connect("a")
	require.NoError(t, f.coord.Join(ctx, "a", "main", "  Alice  "))

	players, err := f.store.List(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "Alice"}, players)
}

func TestCoordinator_JoinRejectsEmptyDisplayName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.connect("a")
	for _, name := range []string{"", "   ", "\t\n"} {
		err := f.coord.Join(ctx, "a", "main", name)
		assert.ErrorIs(t, err, ErrInvalidDisplayName)
	}

	n, err := f.store.Count(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Zero(t, f.metrics.counts["connections_opened"])
}

func TestCoordinator_RejoinOverwritesDisplayName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.connect("a")
	require.NoError(t, f.coord.Join(ctx, "a", "main", "Alice"))
	require.NoError(t, f.coord.Join(ctx, "a", "main", "Alicia"))

	players, err := f.store.List(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "Alicia"}, players)
}

func TestCoordinator_JoinStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	bus := NewLocalBus(logger)
	coord := NewCoordinator(failingStore{}, bus, logger, newCountingMetrics())

	a := newRecordingPeer("a")
	bus.Attach(a)
	err := coord.Join(ctx, "a", "main", "Alice")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	// The failed joiner must not linger as a subscriber.
	require.NoError(t, bus.Publish(ctx, "main", Event{Name: EventChatMessage}, ""))
	assert.Empty(t, a.received())
}

func TestCoordinator_JoinIncrementsMetric(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.connect("a")
	require.NoError(t, f.coord.Join(ctx, "a", "main", "Alice"))
	assert.Equal(t, 1, f.metrics.counts["connections_opened"])
}

func TestCoordinator_ActionRelayedWithoutEcho(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.connect("a")
	b := f.connect("b")
	require.NoError(t, f.coord.Join(ctx, "a", "main", "Alice"))
	require.NoError(t, f.coord.Join(ctx, "b", "main", "Bob"))

	f.coord.Action(ctx, "a", "main", "move", json.RawMessage(`{"x":4,"y":2}`))

	bEvents := b.received()
	require.NotEmpty(t, bEvents)
	last := bEvents[len(bEvents)-1]
	assert.Equal(t, EventPlayerAction, last.Name)
	action := payloadOf[PlayerAction](t, last)
	assert.Equal(t, "a", action.ID)
	assert.Equal(t, "move", action.Action)
	assert.JSONEq(t, `{"x":4,"y":2}`, string(action.Data))

	for _, ev := range a.received() {
		assert.NotEqual(t, EventPlayerAction, ev.Name, "actor must not receive its own action")
	}
}

func TestCoordinator_ActionFromNonMemberStillRelayed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b := f.connect("b")
	require.NoError(t, f.coord.Join(ctx, "b", "main", "Bob"))

	// "ghost" never joined but its action is relayed anyway.
	f.coord.Action(ctx, "ghost", "main", "move", nil)

	bEvents := b.received()
	require.Len(t, bEvents, 2)
	assert.Equal(t, EventPlayerAction, bEvents[1].Name)
	assert.Equal(t, "ghost", payloadOf[PlayerAction](t, bEvents[1]).ID)
}

func TestCoordinator_ChatEchoedToSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.connect("a")
	b := f.connect("b")
	require.NoError(t, f.coord.Join(ctx, "a", "main", "Alice"))
	require.NoError(t, f.coord.Join(ctx, "b", "main", "Bob"))

	f.coord.Chat(ctx, "a", "main", "  hello there  ")

	for _, peer := range []*recordingPeer{a, b} {
		evs := peer.received()
		require.NotEmpty(t, evs)
		last := evs[len(evs)-1]
		require.Equal(t, EventChatMessage, last.Name, "peer %s", peer.ID())
		msg := payloadOf[ChatMessage](t, last)
		assert.Equal(t, "a", msg.ID)
		assert.Equal(t, "Alice", msg.Username)
		assert.Equal(t, "hello there", msg.Message)
	}
}

func TestCoordinator_ChatEmptyMessageDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.connect("a")
	require.NoError(t, f.coord.Join(ctx, "a", "main", "Alice"))
	before := len(a.received())

	f.coord.Chat(ctx, "a", "main", "")
	f.coord.Chat(ctx, "a", "main", "   \t\n")

	assert.Len(t, a.received(), before)
}

func TestCoordinator_ChatFromNonMemberIsAnonymous(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b := f.connect("b")
	require.NoError(t, f.coord.Join(ctx, "b", "main", "Bob"))

	// "lurker" subscribed nowhere and has no membership entry.
	f.coord.Chat(ctx, "lurker", "main", "hi")

	evs := b.received()
	require.Len(t, evs, 2)
	msg := payloadOf[ChatMessage](t, evs[1])
	assert.Equal(t, "Anonymous", msg.Username)
	assert.Equal(t, "hi", msg.Message)
}

func TestCoordinator_DisconnectAnnouncesAndRemoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.connect("a")
	b := f.connect("b")
	require.NoError(t, f.coord.Join(ctx, "a", "main", "Alice"))
	require.NoError(t, f.coord.Join(ctx, "b", "main", "Bob"))

	f.bus.Detach("a")
	f.coord.Disconnect(ctx, "a")

	bEvents := b.received()
	require.NotEmpty(t, bEvents)
	last := bEvents[len(bEvents)-1]
	assert.Equal(t, EventPlayerLeft, last.Name)
	left := payloadOf[PlayerLeft](t, last)
	assert.Equal(t, "a", left.ID)
	assert.Equal(t, "Alice", left.Username)

	for _, ev := range a.received() {
		assert.NotEqual(t, EventPlayerLeft, ev.Name, "the leaver must not receive its own player-left")
	}

	players, err := f.store.List(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "Bob"}, players)
	assert.Equal(t, 1, f.metrics.counts["connections_closed"])
}

func TestCoordinator_DisconnectIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.connect("a")
	b := f.connect("b")
	require.NoError(t, f.coord.Join(ctx, "a", "main", "Alice"))
	require.NoError(t, f.coord.Join(ctx, "b", "main", "Bob"))

	f.bus.Detach("a")
	f.coord.Disconnect(ctx, "a")
	f.coord.Disconnect(ctx, "a")

	var lefts int
	for _, ev := range b.received() {
		if ev.Name == EventPlayerLeft {
			lefts++
		}
	}
	assert.Equal(t, 1, lefts, "player-left must be emitted exactly once")
}

func TestCoordinator_DisconnectCleansEveryLobby(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.connect("a")
	b := f.connect("b")
	c := f.connect("c")
	require.NoError(t, f.coord.Join(ctx, "a", "main", "Alice"))
	require.NoError(t, f.coord.Join(ctx, "a", "arena", "Alice"))
	require.NoError(t, f.coord.Join(ctx, "b", "main", "Bob"))
	require.NoError(t, f.coord.Join(ctx, "c", "arena", "Cara"))

	f.bus.Detach("a")
	f.coord.Disconnect(ctx, "a")

	for _, peer := range []*recordingPeer{b, c} {
		evs := peer.received()
		require.NotEmpty(t, evs, "peer %s", peer.ID())
		assert.Equal(t, EventPlayerLeft, evs[len(evs)-1].Name, "peer %s", peer.ID())
	}

	lobbies, err := f.store.LobbiesOf(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, lobbies)
}

func TestCoordinator_DisconnectStoreFailureDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	bus := NewLocalBus(logger)
	metrics := newCountingMetrics()
	coord := NewCoordinator(failingStore{}, bus, logger, metrics)

	coord.Disconnect(ctx, "a")
	assert.Equal(t, 1, metrics.counts["connections_closed"])
}

// End-to-end walk of the two-player flow: Alice and Bob join, Alice moves,
// Alice disconnects.
func TestCoordinator_TwoPlayerScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.connect("A")
	require.NoError(t, f.coord.Join(ctx, "A", "main", "Alice"))

	b := f.connect("B")
	require.NoError(t, f.coord.Join(ctx, "B", "main", "Bob"))

	bState := payloadOf[LobbyState](t, b.received()[0])
	assert.Equal(t, map[string]string{"A": "Alice"}, bState.Players)

	aJoined := payloadOf[PlayerJoined](t, a.received()[1])
	assert.Equal(t, "B", aJoined.ID)
	assert.Equal(t, "Bob", aJoined.Username)

	f.coord.Action(ctx, "A", "main", "move", nil)
	bAction := payloadOf[PlayerAction](t, b.received()[1])
	assert.Equal(t, "A", bAction.ID)
	assert.Equal(t, "move", bAction.Action)
	assert.Len(t, a.received(), 2, "A receives nothing for its own action")

	f.bus.Detach("A")
	f.coord.Disconnect(ctx, "A")

	bLeft := payloadOf[PlayerLeft](t, b.received()[2])
	assert.Equal(t, "A", bLeft.ID)
	assert.Equal(t, "Alice", bLeft.Username)

	players, err := f.store.List(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"B": "Bob"}, players)
}
