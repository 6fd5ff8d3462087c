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
package wasm

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"maps"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mofa-org/mofa/pkg/types"
)

// MaxRandomBytes bounds a single random_bytes request.
const MaxRandomBytes = 64 * 1024

// LogLevel is the level a guest passes to host_log.
type LogLevel uint32

const (
	LogTrace LogLevel = iota
	LogDebug
	LogInfo
	LogWarn
	LogError
)

// LogLevelFromU32 maps the raw guest value; anything above LogError is an error.
func LogLevelFromU32(v uint32) LogLevel {
	if v > uint32(LogError) {
		return LogError
	}
	return LogLevel(v)
}

func (l LogLevel) String() string {
	switch l {
	case LogTrace:
		return "trace"
	case LogDebug:
		return "debug"
	case LogInfo:
		return "info"
	case LogWarn:
		return "warn"
	default:
		return "error"
	}
}

// HostMessage is a message a guest queued for another agent.
type HostMessage struct {
	From      string
	Target    string
	Payload   []byte
	Timestamp time.Time
}

// HostMetrics counts host function use by one plugin.
type HostMetrics struct {
	LogCalls           uint64
	ConfigReads        uint64
	ConfigWrites       uint64
	MessagesSent       uint64
	ToolCalls          uint64
	StorageReads       uint64
	StorageWrites      uint64
	CustomCalls        uint64
	TotalExecutionTime time.Duration
}

// HostFunc is a custom host function callable through call_custom.
type HostFunc func(ctx context.Context, args []byte) ([]byte, error)

// HostConfig configures a HostContext.
type HostConfig struct {
	Capabilities []Capability
	Config       map[string][]byte
	Tools        types.ToolExecutor
	Logger       *zap.Logger
	Clock        func() time.Time
}

// HostContext is the host side of one plugin: its capabilities, config,
// key-value storage, outgoing message queue and custom functions.
type HostContext struct {
	pluginID string
	caps     map[Capability]struct{}
	tools    types.ToolExecutor
	logger   *zap.Logger
	clock    func() time.Time

	mu      sync.RWMutex
	config  map[string][]byte
	storage map[string][]byte
	outbox  []HostMessage
	custom  map[string]HostFunc
	metrics HostMetrics
}

// NewHostContext creates the host context for pluginID.
func NewHostContext(pluginID string, cfg HostConfig) *HostContext {
	h := &HostContext{
		pluginID: pluginID,
		caps:     make(map[Capability]struct{}, len(cfg.Capabilities)),
		tools:    cfg.Tools,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		config:   make(map[string][]byte, len(cfg.Config)),
		storage:  make(map[string][]byte),
		custom:   make(map[string]HostFunc),
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	for _, c := range cfg.Capabilities {
		h.caps[c] = struct{}{}
	}
	for k, v := range cfg.Config {
		h.config[k] = append([]byte(nil), v...)
	}
	return h
}

// PluginID returns the owning plugin.
func (h *HostContext) PluginID() string { return h.pluginID }

// HasCapability reports whether the plugin holds c.
func (h *HostContext) HasCapability(c Capability) bool {
	_, ok := h.caps[c]
	return ok
}

// Capabilities returns the granted capabilities, sorted.
func (h *HostContext) Capabilities() []Capability {
	out := make([]Capability, 0, len(h.caps))
	for c := range h.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RequireCapability fails with a host function error when c is missing.
func (h *HostContext) RequireCapability(c Capability) error {
	if h.HasCapability(c) {
		return nil
	}
	return newError(KindHostFunction, fmt.Sprintf("plugin %s lacks required capability: %s", h.pluginID, c))
}

// Log writes a guest log line through the host logger.
func (h *HostContext) Log(level LogLevel, msg string) {
	h.count(func(m *HostMetrics) { m.LogCalls++ })
	fields := []zap.Field{zap.String("plugin_id", h.pluginID), zap.String("message", msg)}
	switch level {
	case LogTrace, LogDebug:
		h.logger.Debug("wasm_guest_log", fields...)
	case LogInfo:
		h.logger.Info("wasm_guest_log", fields...)
	case LogWarn:
		h.logger.Warn("wasm_guest_log", fields...)
	default:
		h.logger.Error("wasm_guest_log", fields...)
	}
}

// GetConfig returns the config value for key.
func (h *HostContext) GetConfig(key string) ([]byte, bool, error) {
	if err := h.RequireCapability(CapReadConfig); err != nil {
		return nil, false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics.ConfigReads++
	v, ok := h.config[key]
	return append([]byte(nil), v...), ok, nil
}

// SetConfig stores a config value.
func (h *HostContext) SetConfig(key string, value []byte) error {
	if err := h.RequireCapability(CapWriteConfig); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics.ConfigWrites++
	h.config[key] = append([]byte(nil), value...)
	return nil
}

// Config returns a copy of the plugin config.
func (h *HostContext) Config() map[string][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return maps.Clone(h.config)
}

// SendMessage queues payload for target. The host drains the queue with
// DrainMessages.
func (h *HostContext) SendMessage(target string, payload []byte) error {
	if err := h.RequireCapability(CapSendMessage); err != nil {
		return err
	}
	if target == "" {
		return &Error{Kind: KindHostFunction, Message: "message target is empty", Err: types.ErrInvalidInput}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics.MessagesSent++
	h.outbox = append(h.outbox, HostMessage{
		From:      h.pluginID,
		Target:    target,
		Payload:   append([]byte(nil), payload...),
		Timestamp: h.clock(),
	})
	return nil
}

// DrainMessages removes and returns every queued message in send order.
func (h *HostContext) DrainMessages() []HostMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.outbox
	h.outbox = nil
	return out
}

// PendingMessages returns the queue length.
func (h *HostContext) PendingMessages() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.outbox)
}

// CallTool runs a host tool. args must be valid JSON.
func (h *HostContext) CallTool(ctx context.Context, name string, args []byte) ([]byte, error) {
	if err := h.RequireCapability(CapCallTool); err != nil {
		return nil, err
	}
	if h.tools == nil {
		return nil, &Error{Kind: KindHostFunction, Message: "no tool executor configured", Err: types.ErrCapabilityUnavailable}
	}
	if len(args) == 0 {
		args = []byte("null")
	}
	if !json.Valid(args) {
		return nil, &Error{Kind: KindSerialization, Message: fmt.Sprintf("tool %s: arguments are not valid JSON", name)}
	}
	h.count(func(m *HostMetrics) { m.ToolCalls++ })
	out, err := h.tools.Execute(ctx, name, json.RawMessage(args))
	if err != nil {
		return nil, &Error{Kind: KindHostFunction, Message: fmt.Sprintf("tool %s failed", name), Err: err}
	}
	return out, nil
}

// StorageGet reads a key from the plugin's private storage.
func (h *HostContext) StorageGet(key string) ([]byte, bool, error) {
	if err := h.RequireCapability(CapStorage); err != nil {
		return nil, false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics.StorageReads++
	v, ok := h.storage[key]
	return append([]byte(nil), v...), ok, nil
}

// StorageSet writes a key to the plugin's private storage.
func (h *HostContext) StorageSet(key string, value []byte) error {
	if err := h.RequireCapability(CapStorage); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics.StorageWrites++
	h.storage[key] = append([]byte(nil), value...)
	return nil
}

// StorageDelete removes a key and reports whether it existed.
func (h *HostContext) StorageDelete(key string) (bool, error) {
	if err := h.RequireCapability(CapStorage); err != nil {
		return false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics.StorageWrites++
	_, ok := h.storage[key]
	delete(h.storage, key)
	return ok, nil
}

// NowMs returns the host clock in Unix milliseconds.
func (h *HostContext) NowMs() int64 {
	return h.clock().UnixMilli()
}

// RandomBytes returns n bytes from the system CSPRNG.
func (h *HostContext) RandomBytes(n uint32) ([]byte, error) {
	if err := h.RequireCapability(CapRandom); err != nil {
		return nil, err
	}
	if n > MaxRandomBytes {
		return nil, newError(KindResourceLimit, fmt.Sprintf("random_bytes request of %d exceeds %d", n, MaxRandomBytes))
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, wrapError(KindInternal, "read random bytes", err)
	}
	return buf, nil
}

// SleepMs blocks for ms milliseconds or until ctx is done.
func (h *HostContext) SleepMs(ctx context.Context, ms uint64) error {
	if err := h.RequireCapability(CapTimer); err != nil {
		return err
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return wrapError(KindHostFunction, "sleep interrupted", ctx.Err())
	}
}

// RegisterFunction installs a custom host function. Guests need the
// Custom(name) capability to call it.
func (h *HostContext) RegisterFunction(name string, fn HostFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.custom[name] = fn
}

// CallCustom runs a registered custom host function. A panic inside fn is
// returned as an error.
func (h *HostContext) CallCustom(ctx context.Context, name string, args []byte) (out []byte, err error) {
	if err := h.RequireCapability(Custom(name)); err != nil {
		return nil, err
	}
	h.mu.Lock()
	fn, ok := h.custom[name]
	if ok {
		h.metrics.CustomCalls++
	}
	h.mu.Unlock()
	if !ok {
		return nil, &Error{Kind: KindHostFunction, Message: "custom function not found: " + name, Err: types.ErrNotFound}
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("wasm_host_function_panic",
				zap.String("plugin_id", h.pluginID),
				zap.String("function", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			out, err = nil, &Error{Kind: KindHostFunction, Message: fmt.Sprintf("custom function %s panicked: %v", name, r), Err: types.ErrFatal}
		}
	}()
	return fn(ctx, args)
}

// Metrics returns a snapshot of the host function counters.
func (h *HostContext) Metrics() HostMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.metrics
}

func (h *HostContext) addExecutionTime(d time.Duration) {
	h.count(func(m *HostMetrics) { m.TotalExecutionTime += d })
}

func (h *HostContext) count(fn func(*HostMetrics)) {
	h.mu.Lock()
	fn(&h.metrics)
	h.mu.Unlock()
}

// HostFunctionSpec describes one function in the "env" import module.
// An empty Capability means the function is always allowed.
type HostFunctionSpec struct {
	Name        string
	Params      []string
	Results     []string
	Capability  Capability
	Description string
}

// HostModule is the import module every host function lives in.
const HostModule = "env"

var hostFunctions = []HostFunctionSpec{
	{"host_log", []string{"i32", "i32", "i32"}, nil, "", "log(level, msg_ptr, msg_len)"},
	{"host_get_config", []string{"i32", "i32", "i32", "i32"}, []string{"i32"}, CapReadConfig, "get_config(key_ptr, key_len, out_ptr, out_cap) -> len or -1"},
	{"host_set_config", []string{"i32", "i32", "i32", "i32"}, []string{"i32"}, CapWriteConfig, "set_config(key_ptr, key_len, val_ptr, val_len) -> 0"},
	{"host_send_message", []string{"i32", "i32", "i32", "i32"}, []string{"i32"}, CapSendMessage, "send_message(target_ptr, target_len, payload_ptr, payload_len) -> 0"},
	{"host_call_tool", []string{"i32", "i32", "i32", "i32", "i32", "i32"}, []string{"i32"}, CapCallTool, "call_tool(name_ptr, name_len, args_ptr, args_len, out_ptr, out_cap) -> len"},
	{"host_storage_get", []string{"i32", "i32", "i32", "i32"}, []string{"i32"}, CapStorage, "storage_get(key_ptr, key_len, out_ptr, out_cap) -> len or -1"},
	{"host_storage_set", []string{"i32", "i32", "i32", "i32"}, []string{"i32"}, CapStorage, "storage_set(key_ptr, key_len, val_ptr, val_len) -> 0"},
	{"host_storage_delete", []string{"i32", "i32"}, []string{"i32"}, CapStorage, "storage_delete(key_ptr, key_len) -> 1 if removed"},
	{"host_now_ms", nil, []string{"i64"}, "", "now_ms() -> unix millis"},
	{"host_random_bytes", []string{"i32", "i32"}, []string{"i32"}, CapRandom, "random_bytes(out_ptr, len) -> 0"},
	{"host_sleep_ms", []string{"i64"}, []string{"i32"}, CapTimer, "sleep_ms(ms) -> 0"},
	{"host_call_custom", []string{"i32", "i32", "i32", "i32", "i32", "i32"}, []string{"i32"}, "", "call_custom(name_ptr, name_len, args_ptr, args_len, out_ptr, out_cap) -> len; needs custom:<name>"},
	{"host_alloc", []string{"i32"}, []string{"i32"}, "", "alloc(size) -> ptr"},
	{"host_free", []string{"i32"}, nil, "", "free(ptr)"},
}

// HostFunctions returns the host function registry.
func HostFunctions() []HostFunctionSpec {
	out := make([]HostFunctionSpec, len(hostFunctions))
	copy(out, hostFunctions)
	return out
}

func lookupHostFunction(name string) (HostFunctionSpec, bool) {
	for _, f := range hostFunctions {
		if f.Name == name {
			return f, true
		}
	}
	return HostFunctionSpec{}, false
}
