// Package hookio implements the two invocation boundaries the host calls
// around every tool use. The pre boundary fails closed: any internal error
// resolves to a block, never a silent allow. The post boundary fails open:
// nothing it does may abort the host's normal flow.
package hookio

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/modeguard/modeguard/internal/audit"
	"github.com/modeguard/modeguard/internal/engine"
	"github.com/modeguard/modeguard/internal/gatecfg"
	"github.com/modeguard/modeguard/internal/identity"
	"github.com/modeguard/modeguard/internal/inputcheck"
	"github.com/modeguard/modeguard/internal/policy"
)

// Exit codes the host interprets.
const (
	ExitAllow = 0
	ExitBlock = 2
)

// PreInput is the payload arriving at the pre-invocation boundary.
type PreInput struct {
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	CWD       string         `json:"cwd"`
}

// PostInput is the payload arriving at the post-invocation boundary.
// Best effort; malformed input is tolerated.
type PostInput struct {
	SessionID string `json:"session_id"`
	ToolName  string `json:"tool_name"`
	Success   bool   `json:"success"`
	CWD       string `json:"cwd"`
}

// BlockPayload is the structured response surfaced to the host on a block.
type BlockPayload struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// WriteStartupBlock emits the block payload used when the runner itself
// cannot be constructed; the pre boundary still fails closed in that case.
func WriteStartupBlock(w io.Writer, err error) {
	_ = json.NewEncoder(w).Encode(BlockPayload{
		Decision: "block",
		Reason:   fmt.Sprintf("gate initialization failed: %v", err),
	})
}

// Runner wires the validator, store, engine and audit logger into the two
// boundary handlers.
type Runner struct {
	env    *gatecfg.Env
	store  *policy.Store
	engine *engine.Engine
	log    *audit.Logger
	now    func() time.Time
	getwd  func() (string, error)
}

// New builds a runner from the runtime environment, loading the pattern
// overlay as part of construction so a broken overlay surfaces immediately.
func New(env *gatecfg.Env) (*Runner, error) {
	rules, err := gatecfg.LoadRules(env.RulesPath())
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(rules)
	if err != nil {
		return nil, err
	}
	return &Runner{
		env:    env,
		store:  policy.NewStore(env.StatusDir()),
		engine: eng,
		log:    audit.New(env.LogDir(), env.LogRotateBytes, env.LogRetentionDays),
		now:    time.Now,
		getwd:  os.Getwd,
	}, nil
}

// RunPre handles one pre-invocation call: stdin payload in, verdict out.
// It returns the exit code for the host; a block additionally writes the
// structured payload to stdout. Every failure path resolves to a block.
func (r *Runner) RunPre(stdin io.Reader, stdout io.Writer) int {
	start := r.now()

	in, params, err := r.readPre(stdin)
	if err != nil {
		r.logValidationFailure(in, err)
		return r.block(stdout, fmt.Sprintf("request rejected: %v", err), in, start)
	}

	id, err := r.liveIdentity(in.CWD)
	if err != nil {
		r.logValidationFailure(in, err)
		return r.block(stdout, fmt.Sprintf("project context rejected: %v", err), in, start)
	}

	rec, err := r.store.LoadEffective(id)
	if err != nil {
		// Cannot know the policy, so assume the restrictive answer.
		return r.block(stdout, fmt.Sprintf("policy state unreadable: %v", err), in, start)
	}

	d := r.engine.Decide(engine.Request{ToolName: in.ToolName, Parameters: params}, rec)
	if d.Allowed() {
		r.record(in, id.Name, audit.OutcomeAllowed, d, start)
		return ExitAllow
	}

	r.record(in, id.Name, audit.OutcomeBlocked, d, start)
	r.log.DetectBurst(id.Name, in.ToolName,
		time.Duration(r.env.BurstWindowSec)*time.Second, r.env.BurstThreshold)
	return r.blockDecision(stdout, d)
}

// RunPost handles one post-invocation call. It always returns ExitAllow;
// all input problems and internal failures are swallowed after best-effort
// logging.
func (r *Runner) RunPost(stdin io.Reader) int {
	blob, err := io.ReadAll(io.LimitReader(stdin, int64(r.env.MaxInputBytes)+1))
	if err != nil {
		return ExitAllow
	}
	var in PostInput
	if err := json.Unmarshal(blob, &in); err != nil {
		return ExitAllow
	}

	project := "unknown"
	if id, err := r.liveIdentity(in.CWD); err == nil {
		project = id.Name
	}
	outcome := audit.OutcomeCompleted
	if !in.Success {
		outcome = audit.OutcomeFailed
	}
	r.log.Record(audit.Event{
		SessionID: in.SessionID,
		ToolName:  in.ToolName,
		Project:   project,
		Outcome:   outcome,
	})
	return ExitAllow
}

// readPre reads and validates the raw payload. Shell payloads skip the
// suspicious-content scan, since their command field legitimately carries
// metacharacters and the engine judges it separately.
func (r *Runner) readPre(stdin io.Reader) (PreInput, map[string]any, error) {
	var in PreInput
	blob, err := io.ReadAll(io.LimitReader(stdin, int64(r.env.MaxInputBytes)+1))
	if err != nil {
		return in, nil, fmt.Errorf("read payload: %w", err)
	}

	if _, err := inputcheck.CheckJSONLoose(blob, r.env.MaxInputBytes); err != nil {
		return in, nil, err
	}
	if err := json.Unmarshal(blob, &in); err != nil {
		return in, nil, fmt.Errorf("%w: %v", inputcheck.ErrMalformed, err)
	}
	if in.ToolName == "" {
		return in, nil, errors.New("payload missing tool_name")
	}
	if in.ToolName != engine.ShellTool {
		if _, err := inputcheck.CheckJSON(blob, r.env.MaxInputBytes); err != nil {
			return in, nil, err
		}
	}
	return in, in.ToolInput, nil
}

func (r *Runner) liveIdentity(cwd string) (identity.ProjectIdentity, error) {
	if cwd == "" {
		wd, err := r.getwd()
		if err != nil {
			return identity.ProjectIdentity{}, fmt.Errorf("resolve working directory: %w", err)
		}
		cwd = wd
	}
	return identity.FromPath(cwd)
}

// logValidationFailure records the security event for a rejected payload.
// Traversal and injection findings are CRITICAL, the rest ERROR.
func (r *Runner) logValidationFailure(in PreInput, err error) {
	sev := audit.SevError
	if errors.Is(err, identity.ErrTraversal) || errors.Is(err, inputcheck.ErrSuspicious) {
		sev = audit.SevCritical
	}
	project := "unknown"
	if id, idErr := r.liveIdentity(in.CWD); idErr == nil {
		project = id.Name
	}
	r.log.Security(project, sev, err.Error())
}

func (r *Runner) record(in PreInput, project string, outcome string, d engine.Decision, start time.Time) {
	r.log.Record(audit.Event{
		SessionID: in.SessionID,
		ToolName:  in.ToolName,
		Project:   project,
		Outcome:   outcome,
		ModeType:  d.ModeType,
		LatencyMS: r.now().Sub(start).Milliseconds(),
	})
}

func (r *Runner) block(stdout io.Writer, reason string, in PreInput, start time.Time) int {
	project := "unknown"
	if id, err := r.liveIdentity(in.CWD); err == nil {
		project = id.Name
	}
	r.log.Record(audit.Event{
		SessionID: in.SessionID,
		ToolName:  in.ToolName,
		Project:   project,
		Outcome:   audit.OutcomeBlocked,
		LatencyMS: r.now().Sub(start).Milliseconds(),
		Detail:    reason,
	})
	return r.blockDecision(stdout, engine.Decision{Reason: reason})
}

func (r *Runner) blockDecision(stdout io.Writer, d engine.Decision) int {
	payload := BlockPayload{Decision: "block", Reason: d.Reason}
	if err := json.NewEncoder(stdout).Encode(payload); err != nil {
		// The non-zero exit still signals the host to abort.
		fmt.Fprintln(os.Stderr, "modeguard: write block payload:", err)
	}
	return ExitBlock
}
