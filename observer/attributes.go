package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for run-core observability spans and metrics.
var (
	AttrRunID     = attribute.Key("run.id")
	AttrRunType   = attribute.Key("run.type")
	AttrRunStatus = attribute.Key("run.status")
	AttrAttempt   = attribute.Key("run.attempt")
	AttrWorkerID  = attribute.Key("worker.id")

	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrToolCount = attribute.Key("llm.tool_count")
	AttrToolNames = attribute.Key("llm.tool_names")

	AttrStreamChunks = attribute.Key("llm.stream_chunks")
)
