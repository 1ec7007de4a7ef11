package fleet

import (
	"errors"
	"testing"
)

func newTestResolver(t *testing.T, hosts ...string) (*Registry, *Resolver) {
	t.Helper()
	reg, err := NewRegistry(hosts, DefaultSuffix)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg, NewResolver(reg)
}

func TestResolveRoundTrip(t *testing.T) {
	reg, res := newTestResolver(t, "rover1.local", "rover2", "rover3.local")
	for id := range reg.All() {
		alias := res.OutboundAlias(id)
		if got, err := res.Resolve(alias); err != nil || got != id {
			t.Fatalf("Resolve(%q) = %+v, %v; want %+v", alias, got, err, id)
		}
		if got, err := res.Resolve(alias + DefaultSuffix); err != nil || got != id {
			t.Fatalf("Resolve(%q) = %+v, %v; want %+v", alias+DefaultSuffix, got, err, id)
		}
	}
}

func TestOutboundAliasAlwaysStripped(t *testing.T) {
	reg, res := newTestResolver(t, "rover1.local")
	id, _ := reg.ResolveByIndex(0)
	if got := res.OutboundAlias(id); got != "rover1" {
		t.Fatalf("OutboundAlias = %q, want rover1", got)
	}
}

func TestResolveCaseSensitiveAndUnknown(t *testing.T) {
	_, res := newTestResolver(t, "rover1.local")
	for _, alias := range []string{"Rover1", "rover9", ""} {
		if _, err := res.Resolve(alias); !errors.Is(err, ErrUnresolved) {
			t.Fatalf("Resolve(%q): expected ErrUnresolved, got %v", alias, err)
		}
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	// both entries match alias "rover1"; the first configured one wins
	reg, res := newTestResolver(t, "rover1.local", "rover1")
	got, err := res.Resolve("rover1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want, _ := reg.ResolveByIndex(0)
	if got != want {
		t.Fatalf("Resolve = %+v, want %+v", got, want)
	}
}

func TestParseStatusTopic(t *testing.T) {
	cases := map[string]bool{
		"telemetry/rover1/status":       true,
		"telemetry/rover1/status/extra": false,
		"telemetry//status":             false,
		"command/rover1/status":         false,
		"telemetry/rover1/state":        false,
		"telemetry/rover1":              false,
	}
	for topic, ok := range cases {
		alias, err := ParseStatusTopic(topic)
		if ok && (err != nil || alias != "rover1") {
			t.Errorf("ParseStatusTopic(%q) = %q, %v", topic, alias, err)
		}
		if !ok && !errors.Is(err, ErrBadTopic) {
			t.Errorf("ParseStatusTopic(%q): expected ErrBadTopic, got %v", topic, err)
		}
	}
}

func TestStatusTopicsAndAddresses(t *testing.T) {
	_, res := newTestResolver(t, "rover1.local", "rover2")
	topics := res.StatusTopics()
	want := []string{"telemetry/rover1/status", "telemetry/rover2/status"}
	if len(topics) != len(want) {
		t.Fatalf("StatusTopics = %v", topics)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("StatusTopics[%d] = %q, want %q", i, topics[i], want[i])
		}
	}
	if got := IndividualAddress("rover1"); got != "command/individual/rover1" {
		t.Fatalf("IndividualAddress = %q", got)
	}
}
