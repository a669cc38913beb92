package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rag_assistant/internal/chat"
)

// Run reads questions from in, one per line, and prints each answer with its
// sources to out. A line naming an existing file is treated as a questions
// file and answered into a markdown report next to it.
func (a *App) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if a.pipeline == nil {
		return errors.New("app is not initialized")
	}
	a.log.Info("application started")
	fmt.Fprintln(out, chat.Greeting)
	fmt.Fprintln(out, "Введите вопрос (одна строка). Ctrl+C или Ctrl+D для выхода.")

	scanner := bufio.NewScanner(in)
	// Увеличим буфер, если строки будут длинные
	const maxLineSize = 1024 * 1024
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxLineSize)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutting down application")
			return nil
		default:
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("stdin error: %w", err)
				}
				a.log.Info("stdin closed")
				return nil
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			a.handleLine(ctx, line, out)
		}
	}
}

func (a *App) handleLine(ctx context.Context, line string, out io.Writer) {
	if info, err := os.Stat(line); err == nil && !info.IsDir() {
		timestamp := time.Now().Format("20060102_150405")
		baseName := strings.TrimSuffix(filepath.Base(line), filepath.Ext(line))
		outputPath := filepath.Join(filepath.Dir(line), fmt.Sprintf("%s_answers_%s.md", baseName, timestamp))

		batch, err := a.AnswerFile(ctx, line, outputPath)
		if err != nil {
			fmt.Fprintln(out, chat.ErrorText(err))
			return
		}
		fmt.Fprintf(out, "Ответы на %d вопросов сохранены в %s (ошибок: %d)\n", len(batch.Results), outputPath, batch.ErrorCount)
		return
	}

	res, err := a.pipeline.Run(ctx, line)
	if err != nil {
		a.log.Warn("answer failed", "error", err)
		fmt.Fprintln(out, chat.ErrorText(err))
		return
	}
	fmt.Fprintf(out, "\n%s\n\n%s\n\n", res.Answer, sourcesLine(res.Chunks))
}
