package pipeline

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"qforge/internal/services/llm"
	"qforge/internal/store"
)

// looseString accepts strings, numbers, booleans, and null, since models are
// inconsistent about quoting answers.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(strings.TrimSpace(v))
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch typed := v.(type) {
	case float64:
		*s = looseString(strconv.FormatFloat(typed, 'f', -1, 64))
	case bool:
		*s = looseString(strconv.FormatBool(typed))
	default:
		*s = looseString(strings.TrimSpace(string(data)))
	}
	return nil
}

// optionList accepts a list of scalars or an object keyed by option label.
type optionList []string

func (o *optionList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	switch data[0] {
	case '[':
		var raw []looseString
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			if item != "" {
				out = append(out, string(item))
			}
		}
		*o = out
	case '{':
		var raw map[string]looseString
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		keys := make([]string, 0, len(raw))
		for key := range raw {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(keys))
		for _, key := range keys {
			if raw[key] != "" {
				out = append(out, string(raw[key]))
			}
		}
		*o = out
	default:
		var single looseString
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		if single != "" {
			*o = []string{string(single)}
		}
	}
	return nil
}

type parsedItem struct {
	QuestionText looseString `json:"question_text"`
	Options      optionList  `json:"options"`
	Answer       looseString `json:"answer"`
}

type generatedVariant struct {
	Question      looseString `json:"question"`
	Options       optionList  `json:"options"`
	CorrectAnswer looseString `json:"correct_answer"`
	Explanation   looseString `json:"explanation"`
	Difficulty    looseString `json:"difficulty"`
	DiagramTikz   looseString `json:"diagram_tikz"`
}

// decodeParents extracts parent items from a parse response. Items without
// question text are dropped.
func decodeParents(response string, job Job) ([]store.Parent, error) {
	var items []parsedItem
	if err := llm.DecodeJSONList(response, &items); err != nil {
		return nil, err
	}
	parents := make([]store.Parent, 0, len(items))
	for _, item := range items {
		text := strings.TrimSpace(string(item.QuestionText))
		if text == "" {
			continue
		}
		parents = append(parents, store.Parent{
			Text:    text,
			Options: []string(item.Options),
			Answer:  string(item.Answer),
			Subject: job.Subject,
			Chapter: job.Chapter,
		})
	}
	return parents, nil
}

// decodeVariants extracts at most limit variants from an augmentation response.
func decodeVariants(response string, limit int) ([]store.Variant, error) {
	var items []generatedVariant
	if err := llm.DecodeJSONList(response, &items); err != nil {
		return nil, err
	}
	variants := make([]store.Variant, 0, min(len(items), limit))
	for _, item := range items {
		if len(variants) >= limit {
			break
		}
		text := strings.TrimSpace(string(item.Question))
		if text == "" {
			continue
		}
		variants = append(variants, store.Variant{
			Text:          text,
			Options:       []string(item.Options),
			CorrectAnswer: string(item.CorrectAnswer),
			Explanation:   string(item.Explanation),
			Difficulty:    normalizeDifficulty(string(item.Difficulty)),
			DiagramMarkup: string(item.DiagramTikz),
		})
	}
	return variants, nil
}

func normalizeDifficulty(value string) string {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "easy", "medium", "hard":
		return v
	case "moderate", "intermediate":
		return "medium"
	case "difficult", "advanced":
		return "hard"
	case "simple", "basic":
		return "easy"
	default:
		return v
	}
}
