package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrUnparseable is returned when provider output cannot be decoded.
var ErrUnparseable = fmt.Errorf("%w: unparseable provider output", domain.ErrExternalService)

// StripFences removes a surrounding Markdown code fence (``` or ```json)
// and any text outside it. Text without a fence is returned trimmed.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	open := strings.Index(s, "```")
	if open < 0 {
		return s
	}
	body := s[open+3:]
	// drop the info string (e.g. "json") on the opening line
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if info := strings.TrimSpace(body[:nl]); !strings.ContainsAny(info, "[{") {
			body = body[nl+1:]
		}
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// ParsedCandidate is a decoded candidate plus the type label as received.
type ParsedCandidate struct {
	domain.CandidateQuestion
	RawType        string
	TypeRecognized bool
}

type rawCandidate struct {
	Content     string          `json:"content"`
	Question    string          `json:"question"`
	Stem        string          `json:"stem"`
	Type        json.RawMessage `json:"type"`
	Options     json.RawMessage `json:"options"`
	Answer      json.RawMessage `json:"answer"`
	Explanation string          `json:"explanation"`
	Analysis    string          `json:"analysis"`
	Difficulty  json.RawMessage `json:"difficulty"`
	Tags        []string        `json:"tags"`
}

// ParseCandidates strips fences from text and decodes a JSON array of
// candidate questions. An object with a "questions" array is accepted too.
// Missing options become an empty list; unknown type labels fall back to
// single choice with TypeRecognized false.
func ParseCandidates(text string) ([]ParsedCandidate, error) {
	body := []byte(StripFences(text))
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrUnparseable)
	}

	var raws []rawCandidate
	if err := json.Unmarshal(body, &raws); err != nil {
		var wrapped struct {
			Questions []rawCandidate `json:"questions"`
		}
		if werr := json.Unmarshal(body, &wrapped); werr != nil || wrapped.Questions == nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		raws = wrapped.Questions
	}

	out := make([]ParsedCandidate, 0, len(raws))
	for _, r := range raws {
		label := scalarString(r.Type)
		qt, known := domain.ParseQuestionType(label)
		content := firstNonEmpty(r.Content, r.Question, r.Stem)
		explanation := firstNonEmpty(r.Explanation, r.Analysis)
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, ParsedCandidate{
			CandidateQuestion: domain.CandidateQuestion{
				Content:     strings.TrimSpace(content),
				Type:        qt,
				Options:     decodeOptions(r.Options),
				Answer:      decodeAnswer(r.Answer),
				Explanation: strings.TrimSpace(explanation),
				Difficulty:  scalarString(r.Difficulty),
				Tags:        tags,
			},
			RawType:        label,
			TypeRecognized: known,
		})
	}
	return out, nil
}

// Grade is a decoded grading response.
type Grade struct {
	Score   decimal.Decimal
	Comment string
}

// ParseGrade strips fences from text and decodes a {score, comment} object.
// The score may be a number or a numeric string; the score is not clamped here.
func ParseGrade(text string) (Grade, error) {
	body := []byte(StripFences(text))
	var raw struct {
		Score    json.RawMessage `json:"score"`
		Comment  string          `json:"comment"`
		Feedback string          `json:"feedback"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Grade{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	s := scalarString(raw.Score)
	if s == "" {
		return Grade{}, fmt.Errorf("%w: missing score", ErrUnparseable)
	}
	score, err := decimal.NewFromString(s)
	if err != nil {
		return Grade{}, fmt.Errorf("%w: score %q: %v", ErrUnparseable, s, err)
	}
	return Grade{Score: score, Comment: firstNonEmpty(raw.Comment, raw.Feedback)}, nil
}

// scalarString renders a JSON string, number or boolean as text.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

func decodeOptions(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []string{}
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := scalarString(item); s != "" {
				out = append(out, s)
				continue
			}
			var kv struct {
				Key   string `json:"key"`
				Label string `json:"label"`
				Value string `json:"value"`
				Text  string `json:"text"`
			}
			if err := json.Unmarshal(item, &kv); err == nil {
				key := firstNonEmpty(kv.Key, kv.Label)
				val := firstNonEmpty(kv.Value, kv.Text)
				if key != "" {
					out = append(out, key+". "+val)
				} else if val != "" {
					out = append(out, val)
				}
			}
		}
		return out
	}

	var m map[string]string
	if err := json.Unmarshal(raw, &m); err == nil {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, k+". "+m[k])
		}
		return out
	}

	if s := scalarString(raw); s != "" {
		var out []string
		for _, line := range strings.Split(s, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		if out != nil {
			return out
		}
	}
	return []string{}
}

func decodeAnswer(raw json.RawMessage) string {
	if s := scalarString(raw); s != "" {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, ",")
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// IsUnparseable reports whether err came from decoding provider output.
func IsUnparseable(err error) bool {
	return errors.Is(err, ErrUnparseable)
}
