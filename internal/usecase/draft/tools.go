package draft

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"docchat/internal/domain"
)

// Edit tool names.
const (
	ToolWriteFile   = "writeFile"
	ToolEditFile    = "editFile"
	ToolDeleteFile  = "deleteFile"
	ToolMoveFile    = "moveFile"
	ToolDeleteFiles = "deleteFiles"
	ToolMoveFiles   = "moveFiles"
)

// ErrNothingToApply is returned by Apply when a partial input does not yet
// carry enough to produce an effect.
var ErrNothingToApply = errors.New("nothing to apply yet")

type writeFileInput struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}

type editFileInput struct {
	Path       string  `json:"path"`
	OldString  *string `json:"oldString"`
	NewString  *string `json:"newString"`
	ReplaceAll bool    `json:"replaceAll,omitempty"`
}

type deleteFileInput struct {
	Path string `json:"path"`
}

type moveFileInput struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

type deleteFilesInput struct {
	Paths []string `json:"paths"`
}

type moveFilesInput struct {
	Moves []domain.FileMove `json:"moves"`
}

// editTool is one file editing tool. optimistic tools may be applied to a
// scratch map while their input is still streaming.
type editTool struct {
	schema     domain.ToolSchema
	optimistic bool
	apply      func(fs domain.FileSystem, input json.RawMessage, partial bool) error
	compiled   *jsonschema.Schema
}

// Effects applies edit-tool invocations to a file system.
type Effects struct {
	tools  map[string]*editTool
	logger *slog.Logger
}

// NewEffects compiles the schemas of the edit tools.
func NewEffects(logger *slog.Logger) (*Effects, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Effects{tools: make(map[string]*editTool), logger: logger}
	for _, t := range builtinTools() {
		compiled, err := compileSchema(t.schema)
		if err != nil {
			return nil, err
		}
		t.compiled = compiled
		e.tools[t.schema.Name] = t
	}
	return e, nil
}

func compileSchema(s domain.ToolSchema) (*jsonschema.Schema, error) {
	name := s.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(s.Parameters)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", s.Name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", s.Name, err)
	}
	return compiled, nil
}

// Schemas lists the edit tools for a generation request, sorted by name.
func (e *Effects) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(e.tools))
	for _, t := range e.tools {
		out = append(out, t.schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Handles reports whether toolName is an edit tool.
func (e *Effects) Handles(toolName string) bool {
	_, ok := e.tools[toolName]
	return ok
}

// Optimistic reports whether toolName may be previewed from partial input.
func (e *Effects) Optimistic(toolName string) bool {
	t, ok := e.tools[toolName]
	return ok && t.optimistic
}

// Validate checks input against the tool's schema.
func (e *Effects) Validate(toolName string, input json.RawMessage) error {
	t, ok := e.tools[toolName]
	if !ok {
		return domain.NewDomainError("Effects.Validate", domain.ErrUnknownTool, toolName)
	}
	var v interface{}
	if err := json.Unmarshal(input, &v); err != nil {
		return domain.NewDomainError("Effects.Validate", domain.ErrToolInputInvalid, fmt.Sprintf("invalid JSON: %v", err))
	}
	if err := t.compiled.Validate(v); err != nil {
		return domain.NewDomainError("Effects.Validate", domain.ErrToolInputInvalid, fmt.Sprintf("schema validation failed: %v", err))
	}
	return nil
}

// Apply runs the effect of part against fs. With partial set the part's
// best-effort input is used and tools that cannot be previewed return
// ErrNothingToApply; otherwise the input is validated first.
func (e *Effects) Apply(fs domain.FileSystem, part *domain.ToolPart, partial bool) error {
	t, ok := e.tools[part.ToolName]
	if !ok {
		return domain.NewDomainError("Effects.Apply", domain.ErrUnknownTool, part.ToolName)
	}
	if partial {
		if !t.optimistic || len(part.Input) == 0 {
			return ErrNothingToApply
		}
		return t.apply(fs, part.Input, true)
	}
	if err := e.Validate(part.ToolName, part.Input); err != nil {
		return err
	}
	if err := t.apply(fs, part.Input, false); err != nil {
		return err
	}
	e.logger.Debug("edit applied", "tool", part.ToolName, "tool_call_id", part.ToolCallID)
	return nil
}

func decodeInput[T any](input json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(input, &v); err != nil {
		return v, domain.NewDomainError("Effects.Apply", domain.ErrToolInputInvalid, err.Error())
	}
	return v, nil
}

func builtinTools() []*editTool {
	return []*editTool{
		{
			schema: domain.ToolSchema{
				Name:        ToolWriteFile,
				Description: "Create or overwrite a documentation file with the given content",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"path": {"type": "string", "minLength": 1, "description": "Repository path of the file"},
						"content": {"type": "string", "description": "Full file content"}
					},
					"required": ["path", "content"],
					"additionalProperties": false
				}`),
			},
			optimistic: true,
			apply:      applyWriteFile,
		},
		{
			schema: domain.ToolSchema{
				Name:        ToolEditFile,
				Description: "Replace an exact string in an existing file",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"path": {"type": "string", "minLength": 1},
						"oldString": {"type": "string", "minLength": 1, "description": "Exact text to replace"},
						"newString": {"type": "string", "description": "Replacement text"},
						"replaceAll": {"type": "boolean", "description": "Replace every occurrence instead of exactly one"}
					},
					"required": ["path", "oldString", "newString"],
					"additionalProperties": false
				}`),
			},
			optimistic: true,
			apply:      applyEditFile,
		},
		{
			schema: domain.ToolSchema{
				Name:        ToolDeleteFile,
				Description: "Delete a file",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {"path": {"type": "string", "minLength": 1}},
					"required": ["path"],
					"additionalProperties": false
				}`),
			},
			apply: func(fs domain.FileSystem, input json.RawMessage, _ bool) error {
				in, err := decodeInput[deleteFileInput](input)
				if err != nil {
					return err
				}
				return fs.Delete(in.Path)
			},
		},
		{
			schema: domain.ToolSchema{
				Name:        ToolMoveFile,
				Description: "Rename or move a file",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"oldPath": {"type": "string", "minLength": 1},
						"newPath": {"type": "string", "minLength": 1}
					},
					"required": ["oldPath", "newPath"],
					"additionalProperties": false
				}`),
			},
			apply: func(fs domain.FileSystem, input json.RawMessage, _ bool) error {
				in, err := decodeInput[moveFileInput](input)
				if err != nil {
					return err
				}
				return fs.Move(in.OldPath, in.NewPath)
			},
		},
		{
			schema: domain.ToolSchema{
				Name:        ToolDeleteFiles,
				Description: "Delete several files",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"paths": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}}
					},
					"required": ["paths"],
					"additionalProperties": false
				}`),
			},
			apply: func(fs domain.FileSystem, input json.RawMessage, _ bool) error {
				in, err := decodeInput[deleteFilesInput](input)
				if err != nil {
					return err
				}
				return fs.DeleteBatch(in.Paths)
			},
		},
		{
			schema: domain.ToolSchema{
				Name:        ToolMoveFiles,
				Description: "Rename or move several files",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"moves": {
							"type": "array",
							"minItems": 1,
							"items": {
								"type": "object",
								"properties": {
									"oldPath": {"type": "string", "minLength": 1},
									"newPath": {"type": "string", "minLength": 1}
								},
								"required": ["oldPath", "newPath"]
							}
						}
					},
					"required": ["moves"],
					"additionalProperties": false
				}`),
			},
			apply: func(fs domain.FileSystem, input json.RawMessage, _ bool) error {
				in, err := decodeInput[moveFilesInput](input)
				if err != nil {
					return err
				}
				return fs.MoveBatch(in.Moves)
			},
		},
	}
}

// applyWriteFile writes whatever content has streamed so far. While
// streaming, nothing is written until the content key has started, since the
// path may still be growing before that.
func applyWriteFile(fs domain.FileSystem, input json.RawMessage, partial bool) error {
	in, err := decodeInput[writeFileInput](input)
	if err != nil {
		return err
	}
	if in.Path == "" || in.Content == nil {
		if partial {
			return ErrNothingToApply
		}
		return domain.NewDomainError("writeFile", domain.ErrToolInputInvalid, "path and content are required")
	}
	return fs.Write(in.Path, *in.Content)
}

// applyEditFile needs every field; while streaming, newString may still be
// incomplete and the preview shows the replacement growing.
func applyEditFile(fs domain.FileSystem, input json.RawMessage, partial bool) error {
	in, err := decodeInput[editFileInput](input)
	if err != nil {
		return err
	}
	if in.Path == "" || in.OldString == nil || in.NewString == nil {
		if partial {
			return ErrNothingToApply
		}
		return domain.NewDomainError("editFile", domain.ErrToolInputInvalid, "path, oldString and newString are required")
	}
	content, ok := fs.Read(in.Path)
	if !ok {
		return domain.NewDomainError("editFile", domain.ErrNotFound, in.Path)
	}
	old, repl := *in.OldString, *in.NewString
	n := strings.Count(content, old)
	switch {
	case old == "" || n == 0:
		return domain.NewDomainError("editFile", domain.ErrToolInputInvalid, "oldString not found in "+in.Path)
	case n > 1 && !in.ReplaceAll:
		return domain.NewDomainError("editFile", domain.ErrToolInputInvalid,
			fmt.Sprintf("oldString matches %d times in %s; set replaceAll or add context", n, in.Path))
	}
	if in.ReplaceAll {
		content = strings.ReplaceAll(content, old, repl)
	} else {
		content = strings.Replace(content, old, repl, 1)
	}
	return fs.Write(in.Path, content)
}
