// Package artifact pulls the generated unit test files out of the model's
// final answer and writes them to disk.
package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoCode is returned when the answer holds no fenced code block.
var ErrNoCode = errors.New("no code blocks in answer")

// Block is one fenced code block.
type Block struct {
	Lang string
	Code string
}

// Files are the two halves of a generated unit test.
type Files struct {
	Source string
	Header string
}

// Blocks returns every fenced block in text, in order. An unterminated
// trailing block is kept.
func Blocks(text string) []Block {
	var (
		blocks []Block
		cur    *Block
		lines  []string
	)
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "```") {
			if cur != nil {
				lines = append(lines, line)
			}
			continue
		}
		if cur == nil {
			cur = &Block{Lang: strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))}
			lines = lines[:0]
			continue
		}
		cur.Code = strings.Join(lines, "\n")
		blocks = append(blocks, *cur)
		cur = nil
	}
	if cur != nil {
		cur.Code = strings.Join(lines, "\n")
		blocks = append(blocks, *cur)
	}
	return blocks
}

func isHeader(b Block) bool {
	switch b.Lang {
	case "h", "hpp":
		return true
	}
	for _, line := range strings.Split(b.Code, "\n") {
		line = strings.TrimSpace(line)
		if line == "#pragma once" {
			return true
		}
		if i := strings.Index(line, "@file"); i >= 0 {
			name := strings.TrimSpace(line[i+len("@file"):])
			return strings.HasSuffix(name, ".h")
		}
	}
	return false
}

// Extract classifies the blocks of an answer into source and header. When
// the model repeats a file, the last version wins.
func Extract(answer string) (Files, error) {
	blocks := Blocks(answer)
	if len(blocks) == 0 {
		return Files{}, ErrNoCode
	}
	var f Files
	for _, b := range blocks {
		if strings.TrimSpace(b.Code) == "" {
			continue
		}
		if isHeader(b) {
			f.Header = b.Code
		} else {
			f.Source = b.Code
		}
	}
	if f.Source == "" && f.Header == "" {
		return Files{}, ErrNoCode
	}
	return f, nil
}

// Write stores f as <dir>/<function>Ut.c and <dir>/<function>Ut.h and
// returns the paths written. Empty halves are skipped.
func Write(dir, function string, f Files, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	var written []string
	for _, out := range []struct {
		ext, code string
	}{
		{".c", f.Source},
		{".h", f.Header},
	} {
		if out.code == "" {
			continue
		}
		path := filepath.Join(dir, function+"Ut"+out.ext)
		if err := os.WriteFile(path, []byte(strings.TrimRight(out.code, "\n")+"\n"), 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		logger.Info("unit test file written", slog.String("path", path), slog.Int("bytes", len(out.code)))
		written = append(written, path)
	}
	return written, nil
}
