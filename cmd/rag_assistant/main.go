// Command rag_assistant answers questions about internal policy documents
// and evaluates the answers.
//
// Start the browser chat:
//
//	rag_assistant serve --source ./data/hr_policy.txt
//
// Ask from the terminal:
//
//	rag_assistant ask --question "Сколько дней отпуска?"
//	rag_assistant chat
//
// Evaluate on a dataset and compare retrieval depths:
//
//	rag_assistant dataset import questions.yaml --name hr
//	rag_assistant eval --dataset <id> --xlsx report.xlsx
//	rag_assistant abtest --dataset <id> --k 3,5
//
// Settings come from the environment (and .env): OPENROUTER_API_KEY,
// SOURCE_PATH, DATA_DIR, CHUNK_SIZE, CHUNK_OVERLAP, TOP_K, LLM_MODEL,
// JUDGE_MODEL, EMBED_PROVIDER, LOG_LEVEL, LOG_FORMAT and friends.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
