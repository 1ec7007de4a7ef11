package fleet

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolved is returned when a topic or alias matches no configured robot.
var ErrUnresolved = errors.New("fleet: unresolved robot")

// ErrBadTopic is returned for topics that do not follow telemetry/<alias>/status.
var ErrBadTopic = errors.New("fleet: unexpected topic")

// Topic layout shared with the robot firmware.
const (
	TelemetryPrefix  = "telemetry"
	StatusLeaf       = "status"
	BroadcastAddress = "command/broadcast"
	individualPrefix = "command/individual/"
)

// StatusTopic returns the telemetry topic a robot publishes on.
func StatusTopic(alias string) string {
	return TelemetryPrefix + "/" + alias + "/" + StatusLeaf
}

// IndividualAddress returns the per-robot command topic.
func IndividualAddress(alias string) string {
	return individualPrefix + alias
}

// ParseStatusTopic extracts the alias segment of telemetry/<alias>/status.
func ParseStatusTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TelemetryPrefix || parts[2] != StatusLeaf || parts[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrBadTopic, topic)
	}
	return parts[1], nil
}

// Resolver maps transport aliases to registry identities and back.
type Resolver struct {
	reg *Registry
}

// NewResolver returns a resolver over reg.
func NewResolver(reg *Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Resolve finds the robot whose canonical name equals the alias with the
// suffix stripped, or that stripped alias with the suffix appended.
func (r *Resolver) Resolve(alias string) (Identity, error) {
	suffix := r.reg.suffix
	candidate := stripSuffix(alias, suffix)
	for _, id := range r.reg.identities {
		if id.CanonicalName == candidate || (suffix != "" && id.CanonicalName == candidate+suffix) {
			return id, nil
		}
	}
	return Identity{}, fmt.Errorf("%w: %q", ErrUnresolved, alias)
}

// ResolveTopic parses a status topic and resolves its alias.
func (r *Resolver) ResolveTopic(topic string) (Identity, error) {
	alias, err := ParseStatusTopic(topic)
	if err != nil {
		return Identity{}, err
	}
	return r.Resolve(alias)
}

// OutboundAlias returns the alias used to build outbound topics for id.
// The suffix is always stripped, whatever form matched on the inbound side.
func (r *Resolver) OutboundAlias(id Identity) string {
	return stripSuffix(id.CanonicalName, r.reg.suffix)
}

// StatusTopics lists the telemetry topics for every configured robot.
func (r *Resolver) StatusTopics() []string {
	topics := make([]string, 0, r.reg.Len())
	for id := range r.reg.All() {
		topics = append(topics, StatusTopic(r.OutboundAlias(id)))
	}
	return topics
}
