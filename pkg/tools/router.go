package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/notedock/notedock/internal/metrics"
	"github.com/notedock/notedock/pkg/notebook"
	"github.com/notedock/notedock/pkg/provider"
	"github.com/notedock/notedock/pkg/scope"
	"github.com/notedock/notedock/pkg/store"
)

// summaryLimit caps the audit summaries so a large file body never
// lands in the action log.
const summaryLimit = 200

// Auditor records one row per guard-reaching dispatch.
type Auditor interface {
	AppendActionLog(ctx context.Context, entry store.ActionLog) (*store.ActionLog, error)
}

// Result is the outcome of a single dispatch.
type Result struct {
	Success             bool   `json:"success"`
	Output              string `json:"output,omitempty"`
	Error               string `json:"error,omitempty"`
	PendingConfirmation bool   `json:"pending_confirmation,omitempty"`
	Denied              bool   `json:"denied,omitempty"`
	Mutated             bool   `json:"mutated,omitempty"`
}

// Config wires a router for one running session.
type Config struct {
	Guard     *scope.Guard
	Notebook  notebook.Store
	Audit     Auditor
	SessionID string
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Router exposes the capability-filtered tool catalog and executes
// tool calls against the notebook behind the permission guard.
type Router struct {
	cfg     Config
	catalog []Definition
	byName  map[string]Definition
}

// New builds a router whose catalog contains only the tools the
// agent's capability flags enable. Capability-disabled tools stay
// known to Dispatch so that a model calling one still produces a
// denied audit row instead of an unknown-tool error.
func New(cfg Config) *Router {
	r := &Router{
		cfg:    cfg,
		byName: make(map[string]Definition, len(builtins)),
	}
	for _, def := range builtins {
		r.byName[def.Name] = def
		if cfg.Guard.Scope().Capability(def.Action) {
			r.catalog = append(r.catalog, def)
		}
	}
	return r
}

// Catalog returns the tool definitions visible to the model.
func (r *Router) Catalog() []Definition {
	out := make([]Definition, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// ProviderTools returns the catalog in the provider wire shape.
func (r *Router) ProviderTools() []provider.Tool {
	out := make([]provider.Tool, 0, len(r.catalog))
	for _, def := range r.catalog {
		out = append(out, def.ProviderTool())
	}
	return out
}

// Dispatch executes one tool call. Unknown tools and unconfirmed
// mutating tools return before the guard and leave no audit trace;
// every other call produces exactly one action log row, allowed or
// not.
func (r *Router) Dispatch(ctx context.Context, name string, args map[string]interface{}, confirmed bool) Result {
	def, ok := r.byName[name]
	if !ok {
		r.observe(name, "unknown")
		return Result{Error: fmt.Sprintf("unknown tool: %s", name)}
	}

	if def.RequiresConfirmation && !confirmed {
		r.observe(name, "pending")
		return Result{
			PendingConfirmation: true,
			Output:              fmt.Sprintf("%s requires confirmation before it runs", name),
		}
	}

	if err := r.validateArgs(def, args); err != nil {
		r.observe(name, "invalid_args")
		return Result{Error: err.Error()}
	}

	target := r.targetOf(def, args)
	input := encodeArgs(args)

	if violation := r.guardCheck(def, target); violation != nil {
		r.audit(ctx, def, target, input, violation.Error(), false, 0)
		r.observe(name, "denied")
		r.cfg.Logger.Warn().
			Str("tool", name).
			Str("target", target).
			Str("reason", violation.Reason).
			Msg("tool call denied by scope")
		return Result{Denied: true, Error: violation.Error()}
	}

	start := time.Now()
	output, err := r.execute(ctx, def, args)
	elapsed := time.Since(start)

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ToolDispatchDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}

	if err != nil {
		r.audit(ctx, def, target, input, err.Error(), true, elapsed)
		r.observe(name, "error")
		return Result{Error: err.Error()}
	}

	r.audit(ctx, def, target, input, output, true, elapsed)
	r.observe(name, "allowed")
	r.cfg.Logger.Debug().
		Str("tool", name).
		Str("target", target).
		Dur("duration", elapsed).
		Msg("tool call executed")

	return Result{
		Success: true,
		Output:  output,
		Mutated: def.RequiresConfirmation,
	}
}

func (r *Router) validateArgs(def Definition, args map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(def.inputSchema())
	docLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("validating %s arguments: %w", def.Name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid arguments for %s: %s", def.Name, strings.Join(msgs, "; "))
	}
	return nil
}

// guardCheck runs the scope decision for one dispatch. Search carries
// no path of its own, so only the capability flag is checked here and
// the individual matches are filtered after execution. The notebook
// dimension applies only when a caller supplies a real notebook
// identifier; targets are plain paths, so none is passed here.
func (r *Router) guardCheck(def Definition, target string) *scope.Violation {
	if def.Name == "search_content" {
		if !r.cfg.Guard.Scope().Capability(def.Action) {
			return &scope.Violation{
				Action: def.Action,
				Target: target,
				Reason: fmt.Sprintf("capability %q not granted", def.Action),
			}
		}
		return nil
	}
	return r.cfg.Guard.Validate(def.Action, target, "")
}

// targetOf picks the path the guard rules on. search_content has no
// single target, so the query stands in for visibility in the log.
func (r *Router) targetOf(def Definition, args map[string]interface{}) string {
	if path, ok := args["path"].(string); ok {
		return path
	}
	if query, ok := args["query"].(string); ok {
		return "search:" + query
	}
	return ""
}

func (r *Router) execute(ctx context.Context, def Definition, args map[string]interface{}) (string, error) {
	nb := r.cfg.Notebook
	path, _ := args["path"].(string)

	switch def.Name {
	case "read_file":
		file, err := nb.ReadFile(ctx, path)
		if err != nil {
			return "", err
		}
		return file.Content, nil

	case "write_file":
		content, _ := args["content"].(string)
		res, err := nb.WriteFile(ctx, path, content, nil)
		if err != nil {
			return "", err
		}
		verb := "updated"
		if res.Created {
			verb = "created"
		}
		return fmt.Sprintf("%s %s (%d bytes)", verb, res.Path, res.Bytes), nil

	case "create_file":
		content, _ := args["content"].(string)
		res, err := nb.CreateFile(ctx, path, content)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("created %s (%d bytes)", res.Path, res.Bytes), nil

	case "delete_file":
		if err := nb.DeleteFile(ctx, path); err != nil {
			return "", err
		}
		return fmt.Sprintf("deleted %s", path), nil

	case "list_files":
		pattern, _ := args["pattern"].(string)
		entries, err := nb.ListFiles(ctx, path, pattern)
		if err != nil {
			return "", err
		}
		return encodeJSON(entries), nil

	case "search_content":
		query, _ := args["query"].(string)
		matches, err := nb.SearchContent(ctx, query)
		if err != nil {
			return "", err
		}
		visible := matches[:0]
		for _, m := range matches {
			if r.cfg.Guard.Allowed(scope.ActionRead, m.Path, "") {
				visible = append(visible, m)
			}
		}
		return encodeJSON(visible), nil

	case "get_file_metadata":
		meta, err := nb.Metadata(ctx, path)
		if err != nil {
			return "", err
		}
		return encodeJSON(meta), nil
	}

	return "", fmt.Errorf("tool %s has no executor", def.Name)
}

// audit writes the single action log row for a guard-reaching
// dispatch. A failed insert is logged and swallowed so the tool
// result still reaches the model.
func (r *Router) audit(ctx context.Context, def Definition, target, input, output string, allowed bool, elapsed time.Duration) {
	_, err := r.cfg.Audit.AppendActionLog(ctx, store.ActionLog{
		SessionID:     r.cfg.SessionID,
		Action:        def.Name,
		Target:        target,
		InputSummary:  summarize(input),
		OutputSummary: summarize(output),
		WasAllowed:    allowed,
		Duration:      elapsed,
	})
	if err != nil {
		r.cfg.Logger.Error().Err(err).
			Str("tool", def.Name).
			Str("session_id", r.cfg.SessionID).
			Msg("failed to append action log")
	}
}

func (r *Router) observe(name, decision string) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ToolDispatchesTotal.WithLabelValues(name, decision).Inc()
	}
}

// summarize truncates on a byte budget, keeping valid output for the
// common ASCII case and marking the cut.
func summarize(s string) string {
	if len(s) <= summaryLimit {
		return s
	}
	return s[:summaryLimit-3] + "..."
}

func encodeArgs(args map[string]interface{}) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(raw)
}

func encodeJSON(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
