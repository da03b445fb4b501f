// Package engine renders the allow/block verdict for one tool invocation
// against the effective policy record. It is pure with respect to the
// filesystem; callers load records and log events around it.
//
// # Threat Model
//
// The engine (together with the validators feeding it) addresses the
// following threat categories:
//
// T1 - Silent test subversion: an agent asked to make tests pass can do so
// by editing the tests, the fixtures, or the code under a mode that forbids
// it. Mitigation: the file-mutation tools (Edit, Write, MultiEdit,
// NotebookEdit) are blocked unconditionally whenever any record is
// effective. No scope or strict setting weakens this floor.
//
// T2 - Destructive shell commands: recursive/forced remove, output
// redirection over tracked files, privilege escalation, piping downloads
// into a shell, raw device writes. Mitigation: a regex deny-list over the
// command string, extensible through the rules overlay. This is pattern
// matching, not a shell grammar, and is documented as best-effort; T1's
// hard floor is the actual guarantee.
//
// T3 - Capability smuggling: an unrecognized tool name whose effect the
// gate cannot predict. Mitigation: strict mode blocks every tool that is
// neither a known read-only tool nor an allow-listed shell command.
// Pipelines are split into simple commands and each segment must be
// allow-listed on its own; input that does not parse as shell is refused
// outright in strict mode.
//
// T4 - Injection through the envelope: shell metacharacters hidden in a
// non-shell tool's parameters, or traversal sequences in the project path.
// Mitigations live upstream in the inputcheck and identity packages and
// are logged as CRITICAL security events.
package engine
