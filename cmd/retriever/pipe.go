package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/market-insight/retriever/internal/query"
	"github.com/market-insight/retriever/internal/retrieval"
	appLogger "github.com/market-insight/retriever/pkg/logger"
)

const maxLineBytes = 1 << 20

type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.QueryRequest) (*query.Envelope, error)
}

type pipeError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// servePipe reads one QueryRequest per line and writes one JSON line per
// request: the envelope, or an error object carrying the input line number.
// Blank lines are ignored. It returns when in is exhausted or ctx is done;
// only read and write failures end it early.
func servePipe(ctx context.Context, r Retriever, in io.Reader, out io.Writer) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	// reply writes v, or an error line for it when v cannot be encoded. It
	// reports whether v itself was written.
	reply := func(line int, v any) (bool, error) {
		b, err := encodeLine(v)
		written := err == nil
		if err != nil {
			appLogger.Warn("Failed to encode response", zap.Int("line", line), zap.Error(err))
			if b, err = encodeLine(pipeError{Line: line, Error: "failed to encode response: " + err.Error()}); err != nil {
				return false, err
			}
		}
		if _, err := out.Write(b); err != nil {
			return false, fmt.Errorf("failed to write response: %w", err)
		}
		return written, nil
	}

	processed := 0
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var req retrieval.QueryRequest
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			appLogger.Warn("Skipping malformed request line", zap.Int("line", line), zap.Error(err))
			if _, err := reply(line, pipeError{Line: line, Error: "invalid request: " + err.Error()}); err != nil {
				return processed, err
			}
			continue
		}

		env, err := r.Retrieve(ctx, req)
		if err != nil {
			if _, err := reply(line, pipeError{Line: line, Error: err.Error()}); err != nil {
				return processed, err
			}
			continue
		}

		written, err := reply(line, env)
		if err != nil {
			return processed, err
		}
		if written {
			processed++
		}
	}
	if err := scanner.Err(); err != nil {
		return processed, fmt.Errorf("failed to read requests: %w", err)
	}
	return processed, nil
}

// encodeLine renders v as one newline-terminated JSON line. Nothing is
// written on failure, so a bad value never leaves half a line behind.
func encodeLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
