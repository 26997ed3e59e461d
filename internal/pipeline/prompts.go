package pipeline

import (
	"fmt"
	"strings"

	"qforge/internal/store"
)

const parsePromptTemplate = `You are extracting exam questions from one page of a textbook.

Subject: %s
Chapter: %s

Read the page text below and return every question-like item it contains
(worked examples, exercises, and multiple-choice questions). Return ONLY a JSON
list. Each element must be an object with these keys:
  "question_text": the full question text, with formulas in plain text or LaTeX
  "options": a list of answer options as strings, or [] when there are none
  "answer": the answer if the page states it, otherwise null

If the page contains no questions, return [].

PAGE TEXT:
"""
%s
"""`

const augmentPromptTemplate = `You are writing new exam questions derived from an original question.

Subject: %s
Chapter: %s

ORIGINAL QUESTION:
%s
%s
Write exactly %d new questions that test the same concept with changed values,
context, or framing. Mix the difficulty: use "easy", "medium", and "hard" in
roughly equal numbers. Return ONLY a JSON list. Each element must be an object
with these keys:
  "question": the new question text
  "options": a list of four answer options as strings
  "correct_answer": the correct option text
  "explanation": a short worked solution
  "difficulty": one of "easy", "medium", "hard"
  "diagram_tikz": TikZ source for a diagram when the question needs one, otherwise null`

const detectPromptTemplate = `Does the following textbook page contain exam questions, exercises, or
worked examples a student could answer?

PAGE TEXT:
"""
%s
"""

Answer with a single word: YES or NO.`

// detectPromptRunes caps the page text sent to the question-page check.
const detectPromptRunes = 2000

// DetectPrompt builds the YES/NO check run before extraction when
// question-page detection is enabled.
func DetectPrompt(pageText string) string {
	text := strings.TrimSpace(pageText)
	if runes := []rune(text); len(runes) > detectPromptRunes {
		text = string(runes[:detectPromptRunes])
	}
	return fmt.Sprintf(detectPromptTemplate, text)
}

// ParsePrompt builds the prompt that extracts items from cleaned page text.
func ParsePrompt(subject, chapter, pageText string) string {
	return fmt.Sprintf(parsePromptTemplate, subject, chapter, strings.TrimSpace(pageText))
}

// AugmentPrompt builds the prompt that asks for n variants of parent.
func AugmentPrompt(subject, chapter string, parent store.Parent, n int) string {
	var opts strings.Builder
	if len(parent.Options) > 0 {
		opts.WriteString("OPTIONS:\n")
		for i, option := range parent.Options {
			fmt.Fprintf(&opts, "  %c) %s\n", 'A'+rune(i%26), option)
		}
	}
	if answer := strings.TrimSpace(parent.Answer); answer != "" {
		fmt.Fprintf(&opts, "ANSWER: %s\n", answer)
	}
	return fmt.Sprintf(augmentPromptTemplate, subject, chapter, strings.TrimSpace(parent.Text), opts.String(), n)
}
