package sink

// MultiWriter fans events out to several writers.
type MultiWriter struct {
	eventWriters    []EventWriter
	dispatchWriters []DispatchWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ews []EventWriter, dws []DispatchWriter) *MultiWriter {
	return &MultiWriter{eventWriters: ews, dispatchWriters: dws}
}

// Add appends writers. Either may be nil. It must not race with writes, so
// call it before events start flowing.
func (mw *MultiWriter) Add(ew EventWriter, dw DispatchWriter) {
	if ew != nil {
		mw.eventWriters = append(mw.eventWriters, ew)
	}
	if dw != nil {
		mw.dispatchWriters = append(mw.dispatchWriters, dw)
	}
}

// Len returns the number of event and dispatch writers.
func (mw *MultiWriter) Len() (events, dispatches int) {
	return len(mw.eventWriters), len(mw.dispatchWriters)
}

// WriteConnectivity sends a transition to all event writers.
func (mw *MultiWriter) WriteConnectivity(row ConnectivityRow) error {
	for _, w := range mw.eventWriters {
		if err := w.WriteConnectivity(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteDispatch sends a dispatch row to all dispatch writers.
func (mw *MultiWriter) WriteDispatch(row DispatchRow) error {
	for _, w := range mw.dispatchWriters {
		if err := w.WriteDispatch(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteDispatches sends rows to all dispatch writers, using batch if supported.
func (mw *MultiWriter) WriteDispatches(rows []DispatchRow) error {
	for _, w := range mw.dispatchWriters {
		if err := WriteDispatchRows(w, rows); err != nil {
			return err
		}
	}
	return nil
}
