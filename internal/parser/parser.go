// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccobservatory/core/internal/transcript"
)

// Stats are cumulative counters for lines processed by a Parser. Safe for
// concurrent read via Stats(); increments are serialized internally.
type Stats struct {
	LinesProcessed   int64
	MessagesParsed   int64
	ParseErrors      int64
	ValidationErrors int64
}

// Parser converts JSONL transcript lines into transcript.ParsedMessage and
// whole files into transcript.ConversationData. A Parser instance
// accumulates stats across calls; it holds no per-file state between
// ParseFile invocations.
type Parser struct {
	mu    sync.Mutex
	stats Stats
}

// New creates a Parser with zeroed stats.
func New() *Parser {
	return &Parser{}
}

// Stats returns a snapshot of the cumulative counters.
func (p *Parser) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ResetStats zeroes the cumulative counters.
func (p *Parser) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = Stats{}
}

type rawMessage struct {
	UUID       string          `json:"uuid"`
	ParentUUID string          `json:"parentUuid"`
	SessionID  string          `json:"sessionId"`
	Timestamp  string          `json:"timestamp"`
	Type       string          `json:"type"`
	Message    json.RawMessage `json:"message"`
}

type rawInner struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

// ParseLine parses a single JSONL line into a ParsedMessage. The returned
// session ID (from the raw "sessionId" field) is reported separately since
// ParsedMessage itself carries no session identity.
func (p *Parser) ParseLine(line string) (transcript.ParsedMessage, string, error) {
	p.mu.Lock()
	p.stats.LinesProcessed++
	p.mu.Unlock()

	trimmed := strings.TrimSpace(line)

	var raw rawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		p.mu.Lock()
		p.stats.ParseErrors++
		p.mu.Unlock()
		return transcript.ParsedMessage{}, "", newError(ErrJSONDecode, trimmed, "failed to parse JSON: %v", err)
	}

	msg, err := p.extractMessage(raw, trimmed)
	if err != nil {
		p.mu.Lock()
		p.stats.ValidationErrors++
		p.mu.Unlock()
		return transcript.ParsedMessage{}, "", err
	}

	p.mu.Lock()
	p.stats.MessagesParsed++
	p.mu.Unlock()
	return msg, raw.SessionID, nil
}

func (p *Parser) extractMessage(raw rawMessage, line string) (transcript.ParsedMessage, error) {
	var missing []string
	if raw.UUID == "" {
		missing = append(missing, "uuid")
	}
	if raw.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if raw.Timestamp == "" {
		missing = append(missing, "timestamp")
	}
	if raw.Type == "" {
		missing = append(missing, "type")
	}
	if len(raw.Message) == 0 {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return transcript.ParsedMessage{}, newError(ErrValidation, line, "missing required fields: %v", missing)
	}

	var inner rawInner
	if err := json.Unmarshal(raw.Message, &inner); err != nil || inner.Role == "" {
		return transcript.ParsedMessage{}, newError(ErrValidation, line, "invalid message structure - missing role")
	}

	role := transcript.Role(inner.Role)
	if role != transcript.RoleUser && role != transcript.RoleAssistant {
		return transcript.ParsedMessage{}, newError(ErrValidation, line, "invalid role: %s. Must be 'user' or 'assistant'", inner.Role)
	}

	content, toolUsage := extractContent(inner.Content)

	ts, err := time.Parse(time.RFC3339Nano, normalizeTimestamp(raw.Timestamp))
	if err != nil {
		return transcript.ParsedMessage{}, newError(ErrValidation, line, "invalid timestamp format: %v", err)
	}

	return transcript.ParsedMessage{
		MessageID: raw.UUID,
		ParentID:  raw.ParentUUID,
		Timestamp: ts,
		Role:      role,
		Content:   content,
		ToolUsage: toolUsage,
	}, nil
}

func normalizeTimestamp(ts string) string {
	return strings.Replace(ts, "Z", "+00:00", 1)
}

// extractContent mirrors the original parser's two-pass content handling:
// a plain string is returned as-is; an array of content blocks is reduced
// to its joined text blocks, and its tool_use/tool_result blocks are
// paired by id into ToolUsage records.
func extractContent(raw json.RawMessage) (string, []transcript.ToolUsage) {
	if len(raw) == 0 {
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var blocks []rawContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil
	}

	var textParts []string
	var tools []transcript.ToolUsage
	index := make(map[string]int)

	for _, b := range blocks {
		switch b.Type {
		case "text":
			textParts = append(textParts, b.Text)
		case "tool_use":
			if b.ID == "" || b.Name == "" {
				continue
			}
			tools = append(tools, transcript.ToolUsage{
				ToolName:  b.Name,
				ToolInput: b.Input,
				Status:    transcript.ToolStatusPending,
			})
			index[b.ID] = len(tools) - 1
		case "tool_result":
			if i, ok := index[b.ToolUseID]; ok {
				tools[i].ToolOutput = b.Content
				if b.IsError {
					tools[i].Status = transcript.ToolStatusError
				} else {
					tools[i].Status = transcript.ToolStatusSuccess
				}
			}
		}
	}

	return strings.Join(textParts, "\n"), tools
}

// ParseFile parses an entire transcript file into a ConversationData.
// session_id is resolved from the first successfully-parsed line's
// sessionId field (never derived from the file path or its hash);
// project_id is supplied by the caller, since it is determined by
// filesystem layout rather than anything in the transcript itself.
func (p *Parser) ParseFile(path string, projectID string) (transcript.ConversationData, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return transcript.ConversationData{}, newError(ErrFileNotFound, "", "file not found: %s", path)
		}
		if errors.Is(err, os.ErrPermission) {
			return transcript.ConversationData{}, newError(ErrPermissionDenied, "", "permission denied reading file: %s", path)
		}
		return transcript.ConversationData{}, newError(ErrFileProcessing, "", "error processing file %s: %v", path, err)
	}
	defer f.Close()

	var messages []transcript.ParsedMessage
	sessionID := ""

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		msg, lineSessionID, parseErr := p.ParseLine(line)
		if parseErr != nil {
			continue
		}
		if sessionID == "" && lineSessionID != "" {
			sessionID = lineSessionID
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return transcript.ConversationData{}, newError(ErrFileProcessing, "", "error processing file %s: %v", path, err)
	}

	if len(messages) == 0 {
		return transcript.ConversationData{}, newError(ErrEmptyFile, "", "no valid messages found in %s", path)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})

	if sessionID == "" {
		sessionID = "unknown"
	}

	conversationID := uuid.New()
	for i := range messages {
		messages[i].ConversationID = conversationID
	}

	return transcript.ConversationData{
		ID:           conversationID,
		ProjectID:    projectID,
		SessionID:    sessionID,
		FilePath:     path,
		Title:        fmt.Sprintf("Conversation from %s", path),
		MessageCount: len(messages),
		Messages:     messages,
	}, nil
}
