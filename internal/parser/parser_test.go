// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccobservatory/core/internal/transcript"
)

func TestParseLine_SimpleUserMessage(t *testing.T) {
	p := New()
	line := `{"uuid":"msg-1","sessionId":"sess-1","timestamp":"2026-01-15T10:00:00Z","type":"user","message":{"role":"user","content":"hello"}}`

	msg, sessionID, err := p.ParseLine(line)

	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)
	assert.Equal(t, "msg-1", msg.MessageID)
	assert.Equal(t, transcript.RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, int64(1), p.Stats().MessagesParsed)
}

func TestParseLine_ContentBlocksJoinedWithNewline(t *testing.T) {
	p := New()
	line := `{"uuid":"msg-1","sessionId":"sess-1","timestamp":"2026-01-15T10:00:00Z","type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"first"},{"type":"text","text":"second"}]}}`

	msg, _, err := p.ParseLine(line)

	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", msg.Content)
}

func TestParseLine_ToolUsePairedWithToolResult(t *testing.T) {
	p := New()
	line := `{"uuid":"msg-1","sessionId":"sess-1","timestamp":"2026-01-15T10:00:00Z","type":"assistant","message":{"role":"assistant","content":[
		{"type":"tool_use","id":"t1","name":"Read","input":{"path":"/tmp/a"}},
		{"type":"tool_result","tool_use_id":"t1","content":"file contents","is_error":false}
	]}}`

	msg, _, err := p.ParseLine(line)

	require.NoError(t, err)
	require.Len(t, msg.ToolUsage, 1)
	assert.Equal(t, "Read", msg.ToolUsage[0].ToolName)
	assert.Equal(t, transcript.ToolStatusSuccess, msg.ToolUsage[0].Status)
}

func TestParseLine_ToolUseUnmatchedStaysPending(t *testing.T) {
	p := New()
	line := `{"uuid":"msg-1","sessionId":"sess-1","timestamp":"2026-01-15T10:00:00Z","type":"assistant","message":{"role":"assistant","content":[
		{"type":"tool_use","id":"t1","name":"Read","input":{}}
	]}}`

	msg, _, err := p.ParseLine(line)

	require.NoError(t, err)
	require.Len(t, msg.ToolUsage, 1)
	assert.Equal(t, transcript.ToolStatusPending, msg.ToolUsage[0].Status)
}

func TestParseLine_ToolResultIsError(t *testing.T) {
	p := New()
	line := `{"uuid":"msg-1","sessionId":"sess-1","timestamp":"2026-01-15T10:00:00Z","type":"assistant","message":{"role":"assistant","content":[
		{"type":"tool_use","id":"t1","name":"Bash","input":{}},
		{"type":"tool_result","tool_use_id":"t1","content":"boom","is_error":true}
	]}}`

	msg, _, err := p.ParseLine(line)

	require.NoError(t, err)
	assert.Equal(t, transcript.ToolStatusError, msg.ToolUsage[0].Status)
}

func TestParseLine_InvalidJSON(t *testing.T) {
	p := New()

	_, _, err := p.ParseLine(`{not json`)

	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrJSONDecode, perr.Type)
	assert.Equal(t, int64(1), p.Stats().ParseErrors)
}

func TestParseLine_MissingRequiredFields(t *testing.T) {
	p := New()

	_, _, err := p.ParseLine(`{"uuid":"msg-1"}`)

	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrValidation, perr.Type)
	assert.Equal(t, int64(1), p.Stats().ValidationErrors)
}

func TestParseLine_InvalidRole(t *testing.T) {
	p := New()

	_, _, err := p.ParseLine(`{"uuid":"msg-1","sessionId":"sess-1","timestamp":"2026-01-15T10:00:00Z","type":"user","message":{"role":"system","content":"hi"}}`)

	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrValidation, perr.Type)
}

func TestParseLine_InvalidTimestamp(t *testing.T) {
	p := New()

	_, _, err := p.ParseLine(`{"uuid":"msg-1","sessionId":"sess-1","timestamp":"not-a-date","type":"user","message":{"role":"user","content":"hi"}}`)

	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrValidation, perr.Type)
}

func TestParseFile_SessionIDFromFirstMessage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	content := `{"uuid":"msg-1","sessionId":"sess-42","timestamp":"2026-01-15T10:00:00Z","type":"user","message":{"role":"user","content":"hi"}}
{"uuid":"msg-2","sessionId":"sess-42","timestamp":"2026-01-15T10:00:01Z","type":"assistant","message":{"role":"assistant","content":"hello"}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p := New()
	conv, err := p.ParseFile(path, "proj-1")

	require.NoError(t, err)
	assert.Equal(t, "sess-42", conv.SessionID)
	assert.Equal(t, "proj-1", conv.ProjectID)
	assert.Len(t, conv.Messages, 2)
	assert.Equal(t, conv.ID, conv.Messages[0].ConversationID)
}

func TestParseFile_SkipsBadLinesKeepsGood(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	content := `not json at all
{"uuid":"msg-2","sessionId":"sess-1","timestamp":"2026-01-15T10:00:01Z","type":"assistant","message":{"role":"assistant","content":"hello"}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p := New()
	conv, err := p.ParseFile(path, "proj-1")

	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)
}

func TestParseFile_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	p := New()
	_, err := p.ParseFile(path, "proj-1")

	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrEmptyFile, perr.Type)
}

func TestParseFile_SortsMessagesByTimestampStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	// Lines are out of timestamp order on disk; msg-2 and msg-3 share a
	// timestamp, so a stable sort must keep msg-2 before msg-3.
	content := `{"uuid":"msg-1","sessionId":"sess-1","timestamp":"2026-01-15T10:00:02Z","type":"user","message":{"role":"user","content":"third"}}
{"uuid":"msg-2","sessionId":"sess-1","timestamp":"2026-01-15T10:00:00Z","type":"user","message":{"role":"user","content":"first"}}
{"uuid":"msg-3","sessionId":"sess-1","timestamp":"2026-01-15T10:00:00Z","type":"assistant","message":{"role":"assistant","content":"also first"}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p := New()
	conv, err := p.ParseFile(path, "proj-1")

	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "msg-2", conv.Messages[0].MessageID)
	assert.Equal(t, "msg-3", conv.Messages[1].MessageID)
	assert.Equal(t, "msg-1", conv.Messages[2].MessageID)
}

func TestParseFile_NotFound(t *testing.T) {
	p := New()

	_, err := p.ParseFile("/nonexistent/path.jsonl", "proj-1")

	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrFileNotFound, perr.Type)
}
