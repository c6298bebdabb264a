package tools

import (
	"github.com/notedock/notedock/pkg/provider"
	"github.com/notedock/notedock/pkg/scope"
)

// Parameter defines one parameter of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Definition describes one tool. The visible set is derived from the
// agent's capability flags at catalog time, never stored.
type Definition struct {
	Name                 string       `json:"name"`
	Description          string       `json:"description"`
	Action               scope.Action `json:"action"`
	Parameters           []Parameter  `json:"parameters"`
	RequiresConfirmation bool         `json:"requires_confirmation"`
}

// builtins is the full tool set before capability filtering. Mutating
// tools carry the confirmation flag.
var builtins = []Definition{
	{
		Name:        "read_file",
		Description: "Read the content of a notebook file",
		Action:      scope.ActionRead,
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Notebook path of the file to read", Required: true},
		},
	},
	{
		Name:        "list_files",
		Description: "List the files of a notebook folder, optionally filtered by a glob pattern",
		Action:      scope.ActionRead,
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Notebook folder to list", Required: true},
			{Name: "pattern", Type: "string", Description: "Glob pattern applied to file names", Required: false},
		},
	},
	{
		Name:        "search_content",
		Description: "Search all notebook files for a text query",
		Action:      scope.ActionRead,
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Text to search for", Required: true},
		},
	},
	{
		Name:        "get_file_metadata",
		Description: "Get size and modification time of a notebook file",
		Action:      scope.ActionRead,
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Notebook path of the file", Required: true},
		},
	},
	{
		Name:        "write_file",
		Description: "Overwrite the content of a notebook file, creating it when absent",
		Action:      scope.ActionWrite,
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Notebook path of the file to write", Required: true},
			{Name: "content", Type: "string", Description: "Full new file content", Required: true},
		},
		RequiresConfirmation: true,
	},
	{
		Name:        "create_file",
		Description: "Create a new notebook file; fails when the file already exists",
		Action:      scope.ActionCreate,
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Notebook path of the new file", Required: true},
			{Name: "content", Type: "string", Description: "Initial file content", Required: true},
		},
		RequiresConfirmation: true,
	},
	{
		Name:        "delete_file",
		Description: "Delete a notebook file",
		Action:      scope.ActionDelete,
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Notebook path of the file to delete", Required: true},
		},
		RequiresConfirmation: true,
	},
}

// inputSchema builds the JSON-schema map adapters expect.
func (d Definition) inputSchema() map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range d.Parameters {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ProviderTool converts a definition to the provider wire shape.
func (d Definition) ProviderTool() provider.Tool {
	return provider.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.inputSchema(),
	}
}
