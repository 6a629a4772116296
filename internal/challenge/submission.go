package challenge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Submission is one form response. Fields keep the column order of the
// source sheet so the JSON artifact reads like the spreadsheet.
type Submission struct {
	ID     string
	Fields map[string]string
	order  []string
}

func NewSubmission(id string) Submission {
	return Submission{ID: id, Fields: map[string]string{}}
}

// Set stores a field value, remembering first-seen order.
func (s *Submission) Set(key, value string) {
	if s.Fields == nil {
		s.Fields = map[string]string{}
	}
	if _, ok := s.Fields[key]; !ok {
		s.order = append(s.order, key)
	}
	s.Fields[key] = value
}

func (s Submission) Get(key string) string {
	return strings.TrimSpace(s.Fields[key])
}

// Keys returns field names in source order followed by any fields set
// without order information, sorted.
func (s Submission) Keys() []string {
	seen := make(map[string]bool, len(s.Fields))
	keys := make([]string, 0, len(s.Fields))
	for _, k := range s.order {
		if _, ok := s.Fields[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range s.Fields {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// Timestamp picks the completion time, falling back to the start time.
func (s Submission) Timestamp() string {
	if v := s.Get(FieldCompletionTime); v != "" {
		return v
	}
	return s.Get(FieldStartTime)
}

func (s Submission) DemoLink() string {
	if v := s.Get(FieldDemoLink); v != "" {
		return v
	}
	for _, k := range demoLinkFallbacks {
		if v := s.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func (s Submission) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	id, err := json.Marshal(s.ID)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`"id":`)
	buf.Write(id)
	for _, k := range s.Keys() {
		if k == FieldID {
			continue
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(s.Fields[k])
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts any flat object. Numbers and booleans are kept as
// their literal text, nulls are dropped.
func (s *Submission) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("submission: expected object, got %v", tok)
	}
	*s = NewSubmission("")
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("submission field %q: %w", key, err)
		}
		val, ok := scalarText(raw)
		if !ok {
			continue
		}
		if key == FieldID {
			s.ID = NormalizeID(val)
			continue
		}
		s.Set(key, val)
	}
	_, err = dec.Token()
	return err
}

func scalarText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	}
	return string(trimmed), true
}

// IndexSubmissions maps normalised id to submission.
func IndexSubmissions(subs []Submission) map[string]Submission {
	out := make(map[string]Submission, len(subs))
	for _, s := range subs {
		out[NormalizeID(s.ID)] = s
	}
	return out
}
