package events

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

// legacyTimestampLayout is how Python's str(datetime) renders timestamps; older
// producers wrote envelope timestamps in this form.
const legacyTimestampLayout = "2006-01-02 15:04:05.999999"

// listSeparator joins flattened list fields.
const listSeparator = ","

func unknownType(t Type) error {
	return errors.ValidationError("unknown event type").
		WithContext("event_type", string(t)).
		Build()
}

func malformed(t Type, field string, cause error) error {
	return errors.ValidationError("malformed event field").
		WithContext("event_type", string(t)).
		WithContext("field", field).
		WithCause(cause).
		Build()
}

func missing(t Type, field string) error {
	return errors.ValidationError("missing required event field").
		WithContext("event_type", string(t)).
		WithContext("field", field).
		Build()
}

func errTypeMismatch(embedded string) error {
	return fmt.Errorf("embedded event_type %q does not match", embedded)
}

// fieldWriter builds the wire map for one event.
type fieldWriter struct {
	f Fields
}

func newFieldWriter(t Type, env Envelope) *fieldWriter {
	w := &fieldWriter{f: make(Fields, 12)}
	w.f[FieldEventID] = env.EventID.String()
	w.f[FieldTimestamp] = env.Timestamp.UTC().Format(time.RFC3339Nano)
	w.f[FieldEventType] = string(t)
	return w
}

func (w *fieldWriter) str(key, v string) { w.f[key] = v }

func (w *fieldWriter) uuid(key string, v uuid.UUID) { w.f[key] = v.String() }

func (w *fieldWriter) optUUID(key string, v *uuid.UUID) {
	if v != nil {
		w.f[key] = v.String()
	}
}

func (w *fieldWriter) optStr(key string, v *string) {
	if v != nil {
		w.f[key] = *v
	}
}

func (w *fieldWriter) float(key string, v float64) {
	w.f[key] = strconv.FormatFloat(v, 'f', -1, 64)
}

func (w *fieldWriter) optFloat(key string, v *float64) {
	if v != nil {
		w.float(key, *v)
	}
}

func (w *fieldWriter) integer(key string, v int) { w.f[key] = strconv.Itoa(v) }

func (w *fieldWriter) boolean(key string, v bool) { w.f[key] = strconv.FormatBool(v) }

func (w *fieldWriter) optTime(key string, v *time.Time) {
	if v != nil {
		w.f[key] = v.UTC().Format(time.RFC3339Nano)
	}
}

func (w *fieldWriter) uuids(key string, v []uuid.UUID) {
	if len(v) == 0 {
		return
	}
	parts := make([]string, len(v))
	for i, id := range v {
		parts[i] = id.String()
	}
	w.f[key] = strings.Join(parts, listSeparator)
}

func (w *fieldWriter) fields() Fields { return w.f }

// fieldReader extracts typed values from a wire map, keeping the first error.
type fieldReader struct {
	t   Type
	f   Fields
	err error
}

func newFieldReader(t Type, f Fields) *fieldReader {
	return &fieldReader{t: t, f: f}
}

func (r *fieldReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// raw returns the value for key; empty counts as unset.
func (r *fieldReader) raw(key string) (string, bool) {
	v, ok := r.f[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// rawTyped is raw for optional non-text fields, where older producers wrote
// "None" for an unset value. Text fields never get this leniency.
func (r *fieldReader) rawTyped(key string) (string, bool) {
	v, ok := r.raw(key)
	if !ok || v == "None" {
		return "", false
	}
	return v, true
}

func (r *fieldReader) required(key string) (string, bool) {
	v, ok := r.raw(key)
	if !ok {
		r.fail(missing(r.t, key))
	}
	return v, ok
}

func (r *fieldReader) envelope() Envelope {
	var env Envelope
	env.EventID = r.uuid(FieldEventID)
	if v, ok := r.required(FieldTimestamp); ok {
		ts, err := parseTimestamp(v)
		if err != nil {
			r.fail(malformed(r.t, FieldTimestamp, err))
		}
		env.Timestamp = ts
	}
	return env
}

func (r *fieldReader) str(key string) string {
	v, _ := r.required(key)
	return v
}

func (r *fieldReader) strDefault(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *fieldReader) optStr(key string) *string {
	if v, ok := r.raw(key); ok {
		return &v
	}
	return nil
}

func (r *fieldReader) uuid(key string) uuid.UUID {
	v, ok := r.required(key)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		r.fail(malformed(r.t, key, err))
	}
	return id
}

func (r *fieldReader) optUUID(key string) *uuid.UUID {
	v, ok := r.rawTyped(key)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		r.fail(malformed(r.t, key, err))
		return nil
	}
	return &id
}

func (r *fieldReader) float(key string) float64 {
	v, ok := r.required(key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(malformed(r.t, key, err))
	}
	return n
}

func (r *fieldReader) optFloat(key string) *float64 {
	v, ok := r.rawTyped(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(malformed(r.t, key, err))
		return nil
	}
	return &n
}

// boolDefault accepts both Go ("true") and Python ("True") spellings.
func (r *fieldReader) boolDefault(key string, def bool) bool {
	v, ok := r.rawTyped(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(malformed(r.t, key, err))
	}
	return b
}

func (r *fieldReader) optTime(key string) *time.Time {
	v, ok := r.rawTyped(key)
	if !ok {
		return nil
	}
	ts, err := parseTimestamp(v)
	if err != nil {
		r.fail(malformed(r.t, key, err))
		return nil
	}
	return &ts
}

func (r *fieldReader) uuids(key string) []uuid.UUID {
	v, ok := r.rawTyped(key)
	if !ok {
		return nil
	}
	parts := strings.Split(v, listSeparator)
	out := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := uuid.Parse(p)
		if err != nil {
			r.fail(malformed(r.t, key, err))
			return nil
		}
		out = append(out, id)
	}
	return out
}

func parseTimestamp(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02T15:04:05.999999", v); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(legacyTimestampLayout, v)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
