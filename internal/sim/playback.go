package sim

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"roverswarm/internal/transport"
)

// Capture is one recorded inbound message.
type Capture struct {
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"ts"`
}

// Recorder wraps a handler and appends every message it sees to a JSONL
// capture.
type Recorder struct {
	next transport.Handler
	now  func() time.Time

	mu  sync.Mutex
	enc *json.Encoder
	err error
}

// NewRecorder records to w and forwards to next.
func NewRecorder(w io.Writer, next transport.Handler) *Recorder {
	return &Recorder{next: next, now: time.Now, enc: json.NewEncoder(w)}
}

// OnMessage implements transport.Handler.
func (r *Recorder) OnMessage(topic string, payload []byte) {
	c := Capture{Topic: topic, Payload: string(payload), Timestamp: r.now().UTC()}
	r.mu.Lock()
	if r.err == nil {
		r.err = r.enc.Encode(c)
	}
	r.mu.Unlock()
	r.next.OnMessage(topic, payload)
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ReplayLog replays captured messages from r into h. A speed >0 reproduces
// the recorded gaps scaled by 1/speed. If speed <= 0, no artificial delay is
// inserted. It returns the number of messages delivered.
func ReplayLog(r io.Reader, h transport.Handler, speed float64) (int, error) {
	dec := json.NewDecoder(r)
	var prev time.Time
	n := 0
	for {
		var c Capture
		if err := dec.Decode(&c); err != nil {
			if err == io.EOF {
				return n, nil
			}
			return n, err
		}
		if !prev.IsZero() && speed > 0 {
			diff := c.Timestamp.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				time.Sleep(diff)
			}
		}
		h.OnMessage(c.Topic, []byte(c.Payload))
		n++
		prev = c.Timestamp
	}
}

// ReplayLogFile opens a file and replays its captures.
func ReplayLogFile(path string, h transport.Handler, speed float64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return ReplayLog(f, h, speed)
}
