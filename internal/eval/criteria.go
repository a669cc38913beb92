package eval

import (
	"fmt"
	"strings"
)

// Key names an evaluation criterion.
type Key string

const (
	Correctness        Key = "correctness"
	Groundedness       Key = "groundedness"
	Relevance          Key = "relevance"
	RetrievalRelevance Key = "retrieval_relevance"
)

// Input is everything a criterion may look at for one example.
type Input struct {
	Question  string
	Reference *string
	Answer    string
	Contexts  []string
}

// Criterion is one binary check. Precheck returns a comment and true when
// the check must be short-circuited to 0.0 without calling the judge.
type Criterion struct {
	Key      Key
	Prompt   func(in Input) string
	Precheck func(in Input) (string, bool)
}

const responseFormat = `
Respond with a JSON object containing:
- "explanation": a short reason
- "correct": true or false
`

// DefaultCriteria are the four checks in the order they are reported.
func DefaultCriteria() []Criterion {
	return []Criterion{
		{
			Key: Correctness,
			Precheck: func(in Input) (string, bool) {
				if in.Reference == nil || strings.TrimSpace(*in.Reference) == "" {
					return "No reference answer in dataset (expected_output not found)", true
				}
				return "", false
			},
			Prompt: func(in Input) string {
				return fmt.Sprintf(`You are a fair teacher grading a quiz.
QUESTION: %s
GROUND TRUTH ANSWER: %s
STUDENT ANSWER: %s

Grade based ONLY on factual correctness. It is OK if:
- The student uses different wording
- The student provides extra correct facts
- The answer is shorter or longer

Only mark as incorrect if:
- The answer contradicts the ground truth
- The answer contains false information
- The answer is completely unrelated
`, in.Question, *in.Reference, in.Answer) + responseFormat
			},
		},
		{
			Key: Groundedness,
			Precheck: func(in Input) (string, bool) {
				if len(in.Contexts) == 0 {
					return "No retrieved contexts provided for groundedness check", true
				}
				return "", false
			},
			Prompt: func(in Input) string {
				return fmt.Sprintf(`You are a teacher checking if a student's answer is grounded in the provided facts.
CONTEXT: %s
STUDENT ANSWER: %s

Check if the STUDENT ANSWER is supported by the CONTEXT. Answer "True" if the answer is supported by the facts, "False" if it contains hallucinated or unsupported information.
`, strings.Join(in.Contexts, "\n\n"), in.Answer) + responseFormat
			},
		},
		{
			Key: Relevance,
			Precheck: func(in Input) (string, bool) {
				if strings.TrimSpace(in.Question) == "" {
					return "No question provided", true
				}
				return "", false
			},
			Prompt: func(in Input) string {
				return fmt.Sprintf(`You are a teacher checking if a student's answer is relevant to the question.
QUESTION: %s
STUDENT ANSWER: %s

Check if the STUDENT ANSWER is relevant to the QUESTION and helps answer it. Answer "True" if it is, "False" if it is not.
`, in.Question, in.Answer) + responseFormat
			},
		},
		{
			Key: RetrievalRelevance,
			Precheck: func(in Input) (string, bool) {
				if len(in.Contexts) == 0 {
					return "No retrieved contexts provided", true
				}
				return "", false
			},
			Prompt: func(in Input) string {
				return fmt.Sprintf(`You are a teacher checking if the retrieved documents are relevant to the question.
QUESTION: %s
RETRIEVED DOCUMENTS: %s

Check if the RETRIEVED DOCUMENTS are relevant to the QUESTION. Answer "True" if they contain information related to the question, "False" if they are completely unrelated.
`, in.Question, strings.Join(in.Contexts, "\n\n")) + responseFormat
			},
		},
	}
}

// Keys returns the keys of criteria in order.
func Keys(criteria []Criterion) []Key {
	keys := make([]Key, len(criteria))
	for i, c := range criteria {
		keys[i] = c.Key
	}
	return keys
}
