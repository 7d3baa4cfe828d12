package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kvgribko/jobsched/internal/scheduler"
)

// SchemaVersion is written into every encoded snapshot. Decoders reject any
// other version.
const SchemaVersion = 1

// ErrUnsupportedVersion is returned when a snapshot carries an unknown schema version.
var ErrUnsupportedVersion = errors.New("unsupported snapshot schema version")

// stateDoc is the on-disk layout shared by the JSON and YAML codecs.
type stateDoc struct {
	Version       int      `json:"version" yaml:"version"`
	MaxConcurrent int      `json:"max_concurrent" yaml:"max_concurrent"`
	Pending       []jobDoc `json:"pending" yaml:"pending"`
	Running       []jobDoc `json:"running" yaml:"running"`
	Completed     []jobDoc `json:"completed" yaml:"completed"`
	Failed        []jobDoc `json:"failed" yaml:"failed"`
}

type jobDoc struct {
	ID            string   `json:"id" yaml:"id"`
	Task          string   `json:"task" yaml:"task"`
	DurationLimit string   `json:"duration_limit,omitempty" yaml:"duration_limit,omitempty"`
	StartTime     string   `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	MaxRestarts   int      `json:"max_restarts" yaml:"max_restarts"`
	DependsOn     []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Status        string   `json:"status" yaml:"status"`
	Attempts      int      `json:"attempts" yaml:"attempts"`
	LastError     string   `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

func toDoc(st scheduler.State) stateDoc {
	return stateDoc{
		Version:       SchemaVersion,
		MaxConcurrent: st.MaxConcurrent,
		Pending:       toJobDocs(st.Pending),
		Running:       toJobDocs(st.Running),
		Completed:     toJobDocs(st.Completed),
		Failed:        toJobDocs(st.Failed),
	}
}

func toJobDocs(jobs []scheduler.JobState) []jobDoc {
	out := make([]jobDoc, 0, len(jobs))
	for _, js := range jobs {
		d := jobDoc{
			ID:          js.ID,
			Task:        js.Task,
			MaxRestarts: js.MaxRestarts,
			DependsOn:   js.DependsOn,
			Status:      js.Status.String(),
			Attempts:    js.Attempts,
			LastError:   js.LastError,
		}
		if js.DurationLimit > 0 {
			d.DurationLimit = js.DurationLimit.String()
		}
		if js.StartTime != nil {
			d.StartTime = js.StartTime.String()
		}
		out = append(out, d)
	}
	return out
}

func fromDoc(doc stateDoc) (scheduler.State, error) {
	if doc.Version != SchemaVersion {
		return scheduler.State{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	st := scheduler.State{MaxConcurrent: doc.MaxConcurrent}
	var err error
	if st.Pending, err = fromJobDocs("pending", doc.Pending); err != nil {
		return scheduler.State{}, err
	}
	if st.Running, err = fromJobDocs("running", doc.Running); err != nil {
		return scheduler.State{}, err
	}
	if st.Completed, err = fromJobDocs("completed", doc.Completed); err != nil {
		return scheduler.State{}, err
	}
	if st.Failed, err = fromJobDocs("failed", doc.Failed); err != nil {
		return scheduler.State{}, err
	}
	return st, nil
}

func fromJobDocs(collection string, docs []jobDoc) ([]scheduler.JobState, error) {
	out := make([]scheduler.JobState, 0, len(docs))
	for i, d := range docs {
		js, err := fromJobDoc(d)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", collection, i, err)
		}
		out = append(out, js)
	}
	return out, nil
}

func fromJobDoc(d jobDoc) (scheduler.JobState, error) {
	status, err := scheduler.ParseStatus(d.Status)
	if err != nil {
		return scheduler.JobState{}, err
	}
	js := scheduler.JobState{
		ID:          d.ID,
		Task:        d.Task,
		MaxRestarts: d.MaxRestarts,
		Status:      status,
		Attempts:    d.Attempts,
		LastError:   d.LastError,
	}
	if len(d.DependsOn) > 0 {
		js.DependsOn = d.DependsOn
	}
	if d.DurationLimit != "" {
		if js.DurationLimit, err = time.ParseDuration(d.DurationLimit); err != nil {
			return scheduler.JobState{}, fmt.Errorf("job %q: duration_limit: %w", d.ID, err)
		}
	}
	if d.StartTime != "" {
		start, err := scheduler.ParseTimeOfDay(d.StartTime)
		if err != nil {
			return scheduler.JobState{}, fmt.Errorf("job %q: start_time: %w", d.ID, err)
		}
		js.StartTime = &start
	}
	return js, nil
}

// JSONCodec encodes snapshots as JSON.
type JSONCodec struct {
	// Compact disables indentation.
	Compact bool
}

func (c JSONCodec) EncodeState(st scheduler.State) ([]byte, error) {
	doc := toDoc(st)
	if c.Compact {
		return json.Marshal(doc)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeState rejects unknown fields and trailing data.
func (JSONCodec) DecodeState(data []byte) (scheduler.State, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var doc stateDoc
	if err := dec.Decode(&doc); err != nil {
		return scheduler.State{}, fmt.Errorf("decode json snapshot: %w", err)
	}
	if dec.More() {
		return scheduler.State{}, errors.New("decode json snapshot: unexpected trailing data")
	}
	return fromDoc(doc)
}

// YAMLCodec encodes snapshots as YAML.
type YAMLCodec struct{}

func (YAMLCodec) EncodeState(st scheduler.State) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(toDoc(st)); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeState rejects unknown fields.
func (YAMLCodec) DecodeState(data []byte) (scheduler.State, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc stateDoc
	if err := dec.Decode(&doc); err != nil {
		return scheduler.State{}, fmt.Errorf("decode yaml snapshot: %w", err)
	}
	return fromDoc(doc)
}
