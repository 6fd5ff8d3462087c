// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package observability

// Standard span names used across the runtime.
const (
	SpanInferenceInfer   = "inference.infer"
	SpanTaskRun          = "tasks.run"
	SpanLLMChat          = "llm.chat"
	SpanLLMRetry         = "llm.retry"
	SpanPluginLoad       = "plugin.native.load"
	SpanPluginReload     = "plugin.native.reload"
	SpanWasmCompile      = "plugin.wasm.compile"
	SpanWasmCall         = "plugin.wasm.call"
	SpanWorkflowNode     = "workflow.node"
	SpanCircuitExecution = "circuit_breaker.execute"
	SpanSchedulerJob     = "scheduler.job"
)

// Standard metric names for consistency.
const (
	MetricLLMRequests     = "llm.requests.total"
	MetricLLMTokensInput  = "llm.tokens.input"  // #nosec G101 -- not a credential, just metric name
	MetricLLMTokensOutput = "llm.tokens.output" // #nosec G101 -- not a credential, just metric name
	MetricLLMCost         = "llm.cost"
	MetricLLMErrors       = "llm.errors.total"
	MetricLLMRetries      = "llm.retries.total"
	MetricLLMLatency      = "llm.latency_ms"

	MetricInferenceRouted   = "inference.routed.total"
	MetricInferenceMemoryMB = "inference.pool.memory_mb"

	MetricTasksSpawned   = "tasks.spawned.total"
	MetricTasksCompleted = "tasks.completed.total"
	MetricTasksFailed    = "tasks.failed.total"

	MetricCircuitTransitions = "circuit_breaker.transitions.total"
	MetricCircuitRejected    = "circuit_breaker.rejected.total"

	MetricPluginReloads  = "plugin.reloads.total"
	MetricWasmCalls      = "plugin.wasm.calls.total"
	MetricWasmFuelUsed   = "plugin.wasm.fuel_consumed"
	MetricWasmCallTimeMs = "plugin.wasm.call_ms"

	MetricSchedulerRuns = "scheduler.runs.total"
)

// Standard attribute names. The identifiers below double as zap field names
// so logs and spans can be joined on them.
const (
	AttrTaskID      = "task_id"
	AttrAttempt     = "attempt"
	AttrPluginID    = "plugin_id"
	AttrWorkflowID  = "workflow_id"
	AttrExecutionID = "execution_id"

	AttrLLMProvider = "llm.provider"
	AttrLLMModel    = "llm.model"

	AttrModelID       = "inference.model_id"
	AttrRoutedTo      = "inference.routed_to"
	AttrAdmission     = "inference.admission"
	AttrRoutingPolicy = "inference.policy"

	AttrNodeID   = "workflow.node_id"
	AttrToolName = "tool.name"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)
