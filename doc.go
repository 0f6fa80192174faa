// Package runcore is the Run Execution Core of a local Agent OS: a durable
// queue of typed tasks ("runs") leased by worker processes, executed through
// a typed tool/skill catalog, and completed with a strictly-shaped
// task_result_v0 envelope.
//
// # Core Interfaces
//
// The root package defines the domain types and contracts every other
// package builds on:
//
//   - [Run], [Store] — the durable run record and its atomic claim/heartbeat/
//     complete operations (queue package drives the claim protocol).
//   - [TaskResult], [Step], [ErrorInfo] — the task_result_v0 envelope
//     (taskctx builds these per run).
//   - [ToolDefinition] — the LLM-facing tool shape (toolcatalog adds
//     provider resolution and per-call step recording on top).
//   - [Decision] — the orchestrator's reply/run/reply-and-run union.
//   - [Patch] — the edit_docs two-phase patch fingerprint.
//   - [Fact] — the active-facts merge unit (facts package computes snapshots).
//   - [Provider], [LLM], [EmbeddingProvider] — LLM collaborators.
//
// # Subpackages
//
//   - store/postgres, store/sqlite — Store implementations.
//   - queue — FIFO-by-updated_at claim + lease reclaim.
//   - worker — the poll/claim/dispatch/finalize loop.
//   - taskctx — the task_result_v0 builder handlers use.
//   - toolcatalog — provider resolution + invoke-as-a-step.
//   - providers/{web,skills,builtin,mcpprovider} — tool providers.
//   - handlers — sleep, summarize_conversation, research_report,
//     run_code_snippet, edit_docs_*, agent_turn.
//   - orchestrator — the agent loop turn.
//   - sandbox — the container-based skill runner.
//   - facts — active-facts fetch + snapshot id.
//   - settings — effective-settings merge + health probe.
//   - api — the Run API / Skill API HTTP surface.
package runcore
