// Package store implements the persistent markdown store for memories and
// tasks: per-project directories, front-matter serialization, serial
// assignment, in-memory indexes, search, and cascade rules for the
// bidirectional task↔memory connections.
package store

import (
	"regexp"
	"strings"
	"time"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/frontmatter"
)

// Memory categories.
const (
	CategoryPersonal      = "personal"
	CategoryWork          = "work"
	CategoryCode          = "code"
	CategoryResearch      = "research"
	CategoryConversations = "conversations"
	CategoryPreferences   = "preferences"
)

// Priorities. Urgent is valid for tasks only.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Memory statuses.
const (
	MemoryActive    = "active"
	MemoryArchived  = "archived"
	MemoryReference = "reference"
)

// Task statuses.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusBlocked    = "blocked"
)

// Connection types. Manual is never auto-assigned by the linker.
const (
	ConnectionResearch       = "research"
	ConnectionImplementation = "implementation"
	ConnectionReference      = "reference"
	ConnectionManual         = "manual"
)

// Content types derived from the memory body.
const (
	ContentText       = "text"
	ContentCode       = "code"
	ContentStructured = "structured"
)

// Memory is a single note: structured header plus freeform markdown body.
type Memory struct {
	ID              string                     `yaml:"id" json:"id"`
	Serial          string                     `yaml:"serial,omitempty" json:"serial,omitempty"`
	Title           string                     `yaml:"title,omitempty" json:"title,omitempty"`
	Summary         string                     `yaml:"summary,omitempty" json:"summary,omitempty"`
	Timestamp       string                     `yaml:"timestamp" json:"timestamp"`
	Complexity      int                        `yaml:"complexity" json:"complexity"`
	Category        string                     `yaml:"category,omitempty" json:"category,omitempty"`
	Project         string                     `yaml:"project,omitempty" json:"project,omitempty"`
	Tags            frontmatter.StringList     `yaml:"tags,omitempty" json:"tags,omitempty"`
	Priority        string                     `yaml:"priority,omitempty" json:"priority,omitempty"`
	Status          string                     `yaml:"status" json:"status"`
	RelatedMemories frontmatter.StringList     `yaml:"related_memories,omitempty" json:"related_memories,omitempty"`
	TaskConnections []TaskConnection           `yaml:"task_connections,omitempty" json:"task_connections,omitempty"`
	AccessCount     int                        `yaml:"access_count" json:"access_count"`
	LastAccessed    string                     `yaml:"last_accessed,omitempty" json:"last_accessed,omitempty"`
	Metadata        MemoryMetadata             `yaml:"metadata" json:"metadata"`
	Extra           map[string]any             `yaml:",inline" json:"-"`

	Body string `yaml:"-" json:"content"`
	File string `yaml:"-" json:"file"`
}

// MemoryMetadata is the nested one-level metadata map in the header.
type MemoryMetadata struct {
	ContentType    string `yaml:"content_type" json:"content_type"`
	Language       string `yaml:"language,omitempty" json:"language,omitempty"`
	Size           int    `yaml:"size" json:"size"`
	MermaidDiagram bool   `yaml:"mermaid_diagram,omitempty" json:"mermaid_diagram,omitempty"`
}

// Task is a work item with status, hierarchy, and memory connections.
type Task struct {
	ID                string                 `yaml:"id" json:"id"`
	Serial            string                 `yaml:"serial" json:"serial"`
	Title             string                 `yaml:"title" json:"title"`
	Description       string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Project           string                 `yaml:"project,omitempty" json:"project,omitempty"`
	Category          string                 `yaml:"category,omitempty" json:"category,omitempty"`
	Priority          string                 `yaml:"priority,omitempty" json:"priority,omitempty"`
	Status            string                 `yaml:"status" json:"status"`
	ParentTask        string                 `yaml:"parent_task,omitempty" json:"parent_task,omitempty"`
	Subtasks          frontmatter.StringList `yaml:"subtasks,omitempty" json:"subtasks,omitempty"`
	Tags              frontmatter.StringList `yaml:"tags,omitempty" json:"tags,omitempty"`
	MemoryConnections []MemoryConnection     `yaml:"memory_connections,omitempty" json:"memory_connections,omitempty"`
	ManualMemories    frontmatter.StringList `yaml:"manual_memories,omitempty" json:"manual_memories,omitempty"`
	Created           string                 `yaml:"created" json:"created"`
	Updated           string                 `yaml:"updated" json:"updated"`
	Completed         string                 `yaml:"completed,omitempty" json:"completed,omitempty"`
	Extra             map[string]any         `yaml:",inline" json:"-"`

	Body string `yaml:"-" json:"body,omitempty"`
	File string `yaml:"-" json:"file"`
}

// MemoryConnection is the task-side half of a task↔memory link.
type MemoryConnection struct {
	MemoryID       string                 `yaml:"memory_id" json:"memory_id"`
	MemorySerial   string                 `yaml:"memory_serial,omitempty" json:"memory_serial,omitempty"`
	ConnectionType string                 `yaml:"connection_type" json:"connection_type"`
	Relevance      float64                `yaml:"relevance" json:"relevance"`
	MatchedTerms   frontmatter.StringList `yaml:"matched_terms,omitempty" json:"matched_terms,omitempty"`
}

// TaskConnection is the memory-side half of a task↔memory link.
type TaskConnection struct {
	TaskID         string `yaml:"task_id" json:"task_id"`
	TaskSerial     string `yaml:"task_serial,omitempty" json:"task_serial,omitempty"`
	ConnectionType string `yaml:"connection_type" json:"connection_type"`
	Created        string `yaml:"created,omitempty" json:"created,omitempty"`
}

// Enum validity checks. Empty values are allowed where the field is optional.

func ValidMemoryCategory(c string) bool {
	switch c {
	case "", CategoryPersonal, CategoryWork, CategoryCode, CategoryResearch,
		CategoryConversations, CategoryPreferences:
		return true
	}
	return false
}

func ValidTaskCategory(c string) bool {
	switch c {
	case "", CategoryPersonal, CategoryWork, CategoryCode, CategoryResearch:
		return true
	}
	return false
}

func ValidMemoryPriority(p string) bool {
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func ValidTaskPriority(p string) bool {
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ValidMemoryStatus(s string) bool {
	switch s {
	case "", MemoryActive, MemoryArchived, MemoryReference:
		return true
	}
	return false
}

func ValidTaskStatus(s string) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusBlocked:
		return true
	}
	return false
}

func ValidConnectionType(t string) bool {
	switch t {
	case ConnectionResearch, ConnectionImplementation, ConnectionReference, ConnectionManual:
		return true
	}
	return false
}

var (
	fenceRe    = regexp.MustCompile("(?s)```")
	mermaidRe  = regexp.MustCompile("(?s)```mermaid")
	fenceLang  = regexp.MustCompile("```([a-zA-Z0-9+#-]+)")
	sqlRe      = regexp.MustCompile(`(?is)\bSELECT\b.+\bFROM\b`)
	codeTokens = []string{"function ", "class ", "import ", "def ", "const ", "=> {", "func "}
)

// DeriveMetadata computes content_type, language, size, and the mermaid flag
// from a memory body. languageHint wins over fence detection when set.
func DeriveMetadata(body, languageHint string) MemoryMetadata {
	md := MemoryMetadata{
		ContentType: deriveContentType(body),
		Size:        len(body),
	}
	if mermaidRe.MatchString(body) {
		md.MermaidDiagram = true
	}
	switch {
	case languageHint != "":
		md.Language = languageHint
	case md.ContentType == ContentCode:
		if m := fenceLang.FindStringSubmatch(body); m != nil && m[1] != "mermaid" {
			md.Language = strings.ToLower(m[1])
		}
	}
	return md
}

func deriveContentType(body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ContentText
	}
	if mermaidRe.MatchString(body) || strings.HasPrefix(trimmed, "{") ||
		strings.HasPrefix(trimmed, "[") || looksLikeYAML(trimmed) {
		return ContentStructured
	}
	if fenceRe.MatchString(body) || sqlRe.MatchString(body) {
		return ContentCode
	}
	for _, tok := range codeTokens {
		if strings.Contains(body, tok) {
			return ContentCode
		}
	}
	return ContentText
}

// looksLikeYAML reports whether the first lines read as a YAML mapping.
func looksLikeYAML(s string) bool {
	lines := strings.SplitN(s, "\n", 4)
	if len(lines) < 2 {
		return false
	}
	matched := 0
	for _, line := range lines {
		if yamlLineRe.MatchString(line) {
			matched++
		}
	}
	return matched >= 2
}

var yamlLineRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*:\s`)

// DeriveComplexity buckets a memory 1–4 for UI and sorting. The highest
// matching bucket wins.
func DeriveComplexity(m *Memory) int {
	complexity := 1
	if m.Category != "" || len(m.Tags) > 2 {
		complexity = 2
	}
	if hasProject(m.Project) || len(m.RelatedMemories) > 0 {
		complexity = 3
	}
	if len(m.Body) > 1000 || len(m.Tags) > 5 || m.Metadata.MermaidDiagram || len(m.RelatedMemories) > 2 {
		complexity = 4
	}
	return complexity
}

func hasProject(p string) bool {
	return p != "" && p != "default"
}

// Clone returns a deep copy so callers cannot mutate indexed state.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	out := *m
	out.Tags = append(frontmatter.StringList(nil), m.Tags...)
	out.RelatedMemories = append(frontmatter.StringList(nil), m.RelatedMemories...)
	out.TaskConnections = append([]TaskConnection(nil), m.TaskConnections...)
	out.Extra = cloneExtra(m.Extra)
	return &out
}

// Clone returns a deep copy so callers cannot mutate indexed state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Subtasks = append(frontmatter.StringList(nil), t.Subtasks...)
	out.Tags = append(frontmatter.StringList(nil), t.Tags...)
	out.ManualMemories = append(frontmatter.StringList(nil), t.ManualMemories...)
	out.MemoryConnections = make([]MemoryConnection, len(t.MemoryConnections))
	for i, c := range t.MemoryConnections {
		c.MatchedTerms = append(frontmatter.StringList(nil), c.MatchedTerms...)
		out.MemoryConnections[i] = c
	}
	out.Extra = cloneExtra(t.Extra)
	return &out
}

func cloneExtra(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Stamp formats t the way all header timestamps are stored. RFC 3339 UTC
// sorts lexicographically, which listing and rotation rely on.
func Stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseStamp parses a stored timestamp, returning the zero time on failure.
func ParseStamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
