package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"roverswarm/internal/command"
	"roverswarm/internal/fleet"
	"roverswarm/internal/logging"
	"roverswarm/internal/sink"
	"roverswarm/internal/telemetry"
	"roverswarm/internal/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type captured struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (c *captured) OnMessage(topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs[topic] = append(c.msgs[topic], payload)
}

func (c *captured) count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs[topic])
}

type recordSink struct {
	mu    sync.Mutex
	conns []sink.ConnectivityRow
	disp  []sink.DispatchRow
}

func (r *recordSink) WriteConnectivity(row sink.ConnectivityRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, row)
	return nil
}

func (r *recordSink) WriteDispatch(row sink.DispatchRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disp = append(r.disp, row)
	return nil
}

type harness struct {
	coord *Coordinator
	bus   *transport.Bus
	clock *fakeClock
	out   *captured
	sink  *recordSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := fleet.NewRegistry([]string{"robot1.local", "robot2.local", "robot3.local"}, fleet.DefaultSuffix)
	require.NoError(t, err)

	bus := transport.NewBus()
	out := &captured{msgs: make(map[string][][]byte)}
	bus.Subscribe(fleet.BroadcastAddress, out)
	for id := range reg.All() {
		bus.Subscribe(fleet.IndividualAddress(id.TransportAlias), out)
	}

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	rs := &recordSink{}
	c := New(reg, bus.Client(), Options{
		SendTimeout:  200 * time.Millisecond,
		TickInterval: time.Hour,
		Now:          clock.Now,
		Events:       rs,
		Dispatches:   rs,
		Logger:       logging.Discard(),
	})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return &harness{coord: c, bus: bus, clock: clock, out: out, sink: rs}
}

func (h *harness) publishStatus(t *testing.T, alias, body string) {
	t.Helper()
	require.NoError(t, h.bus.Publish(context.Background(), fleet.StatusTopic(alias), []byte(body)))
}

func connectivities(recs []telemetry.Record) []telemetry.Connectivity {
	out := make([]telemetry.Connectivity, len(recs))
	for i, r := range recs {
		out[i] = r.Connectivity
	}
	return out
}

func TestStatusScenario(t *testing.T) {
	h := newHarness(t)
	t0 := h.clock.Now()

	h.publishStatus(t, "robot2", `{"mode":"IDLE"}`)

	recs := h.coord.GetAllSnapshots()
	require.Len(t, recs, 3)
	assert.Equal(t, []telemetry.Connectivity{telemetry.Disconnected, telemetry.Connected, telemetry.Disconnected}, connectivities(recs))
	assert.Equal(t, telemetry.Payload{"mode": "IDLE"}, recs[1].Payload)
	assert.Equal(t, t0, recs[1].LastSeenAt)

	h.coord.Tick(t0.Add(3 * time.Second))
	rec, err := h.coord.GetSnapshot(1)
	require.NoError(t, err)
	assert.Equal(t, telemetry.Stale, rec.Connectivity)

	h.coord.Tick(t0.Add(6 * time.Second))
	rec, err = h.coord.GetSnapshot(1)
	require.NoError(t, err)
	assert.Equal(t, telemetry.Disconnected, rec.Connectivity)

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	require.Len(t, h.sink.conns, 3)
	assert.Equal(t, "connected", h.sink.conns[0].Current)
	assert.Equal(t, "stale", h.sink.conns[1].Current)
	assert.Equal(t, "disconnected", h.sink.conns[2].Current)
}

func TestDropsMalformedAndUnknown(t *testing.T) {
	h := newHarness(t)
	h.publishStatus(t, "robot1", `{"mode":"LINE"}`)
	before, err := h.coord.GetSnapshot(0)
	require.NoError(t, err)

	h.clock.Set(h.clock.Now().Add(time.Second))
	h.publishStatus(t, "robot1", "Connected to MQTT")
	h.publishStatus(t, "robot1", `[1,2,3]`)
	h.coord.OnMessage("telemetry/robot9/status", []byte(`{"mode":"IDLE"}`))
	h.coord.OnMessage("telemetry/robot1/other", []byte(`{"mode":"IDLE"}`))

	after, err := h.coord.GetSnapshot(0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	for _, rec := range h.coord.GetAllSnapshots()[1:] {
		assert.False(t, rec.Seen())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	h := newHarness(t)
	h.publishStatus(t, "robot3", `{"mode":"POLYGON","distances":[1,2,3]}`)

	rec, err := h.coord.GetSnapshot(2)
	require.NoError(t, err)
	rec.Payload["mode"] = "OFF"
	rec.Payload["distances"].([]any)[0] = 99.0

	again, err := h.coord.GetSnapshot(2)
	require.NoError(t, err)
	assert.Equal(t, "POLYGON", again.Payload["mode"])
	assert.Equal(t, 1.0, again.Payload["distances"].([]any)[0])

	_, err = h.coord.GetSnapshot(3)
	assert.ErrorIs(t, err, fleet.ErrOutOfRange)
}

func TestBroadcastPublishesOnce(t *testing.T) {
	h := newHarness(t)

	res, err := h.coord.SubmitStateUpdate(context.Background(), command.StateIntent{Mode: command.ModeOff}, true, 0)
	require.NoError(t, err)
	assert.True(t, res.Broadcast)
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, 0, res.FailureCount)
	assert.Equal(t, 1, h.out.count(fleet.BroadcastAddress))
	assert.Equal(t, 0, h.out.count(fleet.IndividualAddress("robot1")))

	var got map[string]any
	require.NoError(t, json.Unmarshal(h.out.msgs[fleet.BroadcastAddress][0], &got))
	assert.Equal(t, map[string]any{"mode": "OFF"}, got)

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	require.Len(t, h.sink.disp, 3)
	for _, row := range h.sink.disp {
		assert.Equal(t, res.ID, row.DispatchID)
		assert.True(t, row.Success)
	}
}

func TestManualToSelectedRobot(t *testing.T) {
	h := newHarness(t)

	res, err := h.coord.SubmitManual(context.Background(), command.ManualIntent{Left: command.Int(50), Right: command.Int(-50)}, false, 1)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "command/individual/robot2", res.Outcomes[0].Address)
	require.Equal(t, 1, h.out.count("command/individual/robot2"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(h.out.msgs["command/individual/robot2"][0], &got))
	assert.Equal(t, map[string]any{"mode": "MANUAL", "l": 50.0, "r": -50.0}, got)
}

func TestInvalidIntentSendsNothing(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.SubmitStateUpdate(context.Background(), command.StateIntent{
		Mode:   command.ModeIdle,
		Fields: map[string]command.Param{command.FieldIdleThresh: command.Text("abc")},
	}, true, 0)
	require.ErrorIs(t, err, command.ErrInvalidParameter)

	var pe *command.ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, command.FieldIdleThresh, pe.Field)

	// out of range and invalid: the invalid payload is reported first
	_, err = h.coord.SubmitManual(context.Background(), command.ManualIntent{Back: command.Text("x")}, false, 7)
	require.ErrorIs(t, err, command.ErrInvalidParameter)

	assert.Equal(t, 0, h.out.count(fleet.BroadcastAddress))
	h.sink.mu.Lock()
	assert.Empty(t, h.sink.disp)
	h.sink.mu.Unlock()
}

func TestOutOfRangeSelection(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.SubmitStateUpdate(context.Background(), command.StateIntent{Mode: command.ModeOff}, false, 3)
	assert.ErrorIs(t, err, fleet.ErrOutOfRange)
	_, err = h.coord.SubmitStateUpdateTo(context.Background(), command.StateIntent{Mode: command.ModeOff}, []int{0, -1})
	assert.ErrorIs(t, err, fleet.ErrOutOfRange)
}

func TestPartialFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t)
	h.bus.FailTopic("command/individual/robot2", errors.New("queue full"))

	res, err := h.coord.SubmitStateUpdateTo(context.Background(), command.StateIntent{
		Mode:   command.ModeLine,
		Fields: map[string]command.Param{command.FieldLineNodeDist: command.Int(30)},
	}, []int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.ErrorIs(t, res.Outcomes[1].Err, command.ErrTransportFailure)
	assert.Equal(t, 1, h.out.count("command/individual/robot1"))
	assert.Equal(t, 1, h.out.count("command/individual/robot3"))
}

func TestConnectionStatus(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.coord.ConnectionStatus())

	h.bus.SetDown(true)
	assert.False(t, h.coord.ConnectionStatus())
	res, err := h.coord.SubmitStateUpdate(context.Background(), command.StateIntent{Mode: command.ModeOff}, true, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.FailureCount)
	assert.ErrorIs(t, res.Outcomes[0].Err, command.ErrTransportFailure)

	h.bus.SetDown(false)
	assert.True(t, h.coord.ConnectionStatus())
}

func TestStartTwiceAndCloseStopsMonitor(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg, err := fleet.NewRegistry([]string{"solo.local"}, fleet.DefaultSuffix)
	require.NoError(t, err)
	bus := transport.NewBus()
	c := New(reg, bus.Client(), Options{TickInterval: 5 * time.Millisecond, Logger: logging.Discard()})

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)

	c.Close()
	c.Close()
	assert.False(t, c.ConnectionStatus())
}

func TestInboundWrapperSeesTraffic(t *testing.T) {
	reg, err := fleet.NewRegistry([]string{"solo.local"}, fleet.DefaultSuffix)
	require.NoError(t, err)
	bus := transport.NewBus()

	var seen []string
	c := New(reg, bus.Client(), Options{
		TickInterval: time.Hour,
		Logger:       logging.Discard(),
		Inbound: func(next transport.Handler) transport.Handler {
			return transport.HandlerFunc(func(topic string, payload []byte) {
				seen = append(seen, string(payload))
				next.OnMessage(topic, payload)
			})
		},
	})
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	require.NoError(t, bus.Publish(context.Background(), "telemetry/solo/status", []byte(`{"mode":"OFF"}`)))
	assert.Equal(t, []string{`{"mode":"OFF"}`}, seen)
	rec, err := c.GetSnapshot(0)
	require.NoError(t, err)
	assert.True(t, rec.Seen())
}

type countingStore struct {
	telemetry.Store
	mu      sync.Mutex
	updates int
}

func (s *countingStore) Update(id fleet.Identity, p telemetry.Payload, now time.Time) error {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return s.Store.Update(id, p, now)
}

func TestInjectedStore(t *testing.T) {
	reg, err := fleet.NewRegistry([]string{"solo.local"}, fleet.DefaultSuffix)
	require.NoError(t, err)
	bus := transport.NewBus()
	rs := &recordSink{}
	var store *countingStore
	c := New(reg, bus.Client(), Options{
		TickInterval: time.Hour,
		Events:       rs,
		Logger:       logging.Discard(),
		Store: func(reg *fleet.Registry, l telemetry.Listener) telemetry.Store {
			store = &countingStore{Store: telemetry.NewMemoryStore(reg, l)}
			return store
		},
	})
	require.NotNil(t, store)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	require.NoError(t, bus.Publish(context.Background(), "telemetry/solo/status", []byte(`{"mode":"IDLE"}`)))
	assert.Equal(t, 1, store.updates)
	assert.Equal(t, []telemetry.Connectivity{telemetry.Connected}, connectivities(c.GetAllSnapshots()))
	require.Len(t, rs.conns, 1)
	assert.Equal(t, "connected", rs.conns[0].Current)
}

type refusingClient struct {
	transport.Client
	closed int
}

func (c *refusingClient) Connect(ctx context.Context, _ []string, _ transport.Handler) error {
	return ctx.Err()
}

func (c *refusingClient) Close() { c.closed++ }

func TestStartFailureReleasesClient(t *testing.T) {
	reg, err := fleet.NewRegistry([]string{"solo.local"}, fleet.DefaultSuffix)
	require.NoError(t, err)
	client := &refusingClient{}
	c := New(reg, client, Options{Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.Start(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.closed)

	c.Close()
	assert.Equal(t, 1, client.closed)
}
