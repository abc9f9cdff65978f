package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"driftwatch/config"
	"driftwatch/divergence"
	"driftwatch/logger"
	"driftwatch/scanner"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// Record types emitted to the collector.
const (
	RecordFingerprint = "fingerprint"
	RecordDivergence  = "divergence"
	RecordMetrics     = "metrics"
)

// Exporter ships scan results to an OTLP log collector. A nil *Exporter is
// valid and drops everything.
type Exporter struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
	policy   otelPolicy
}

type otelPolicy struct {
	includePaths bool
}

// NewExporter returns nil when no endpoint is configured.
func NewExporter(cfg *config.Config) (*Exporter, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	provider := newProvider(sdklog.NewBatchProcessor(exp), cfg.OtelServiceName)
	return newExporter(provider, endpoint, cfg.OtelTimeout, otelPolicy{includePaths: cfg.OtelExportPaths}), nil
}

func newProvider(processor sdklog.Processor, serviceName string) *sdklog.LoggerProvider {
	if serviceName == "" {
		serviceName = "driftwatch"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(processor),
		sdklog.WithResource(res),
	)
}

func newExporter(provider *sdklog.LoggerProvider, endpoint string, timeout time.Duration, policy otelPolicy) *Exporter {
	return &Exporter{
		provider: provider,
		logger:   provider.Logger("driftwatch"),
		timeout:  timeout,
		endpoint: endpoint,
		policy:   policy,
	}
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (e *Exporter) Endpoint() string {
	if e == nil {
		return ""
	}
	return e.endpoint
}

// ExportScan emits one fingerprint record per file followed by the scan
// metrics.
func (e *Exporter) ExportScan(c *scanner.Collection, m *scanner.Metrics) {
	if e == nil || c == nil {
		return
	}
	for i := range c.Files {
		e.Emit(RecordFingerprint, c.Files[i])
	}
	if m != nil {
		e.Emit(RecordMetrics, m)
	}
}

// ExportReport emits the check verdict.
func (e *Exporter) ExportReport(r divergence.Report) {
	if e == nil {
		return
	}
	e.Emit(RecordDivergence, r)
}

func (e *Exporter) Emit(recordType string, payload interface{}) {
	if e == nil || e.logger == nil {
		return
	}
	safePayload := sanitizePayload(recordType, payload, e.policy)

	var record otelLog.Record
	now := time.Now()
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetEventName("driftwatch.record")
	record.AddAttributes(
		otelLog.String("record_type", recordType),
		otelLog.String("schema_version", scanner.SchemaVersion),
	)
	if attrs := semanticAttributes(recordType, safePayload, e.policy); len(attrs) > 0 {
		record.AddAttributes(attrs...)
	}

	if value := toLogValue(safePayload); value.Kind() != otelLog.KindEmpty {
		record.SetBody(value)
	} else if data, err := json.Marshal(safePayload); err == nil {
		record.SetBody(otelLog.StringValue(string(data)))
	}

	e.logger.Emit(context.Background(), record)
}

// Shutdown flushes pending records.
func (e *Exporter) Shutdown() {
	if e == nil || e.provider == nil {
		return
	}
	timeout := e.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

// sanitizePayload converts payload to a generic map and strips paths unless
// the policy allows them.
func sanitizePayload(recordType string, payload interface{}, policy otelPolicy) interface{} {
	data := payloadToMap(payload)
	if len(data) == 0 {
		return payload
	}
	if policy.includePaths {
		return data
	}

	switch recordType {
	case RecordFingerprint:
		sanitized := cloneMap(data)
		delete(sanitized, "path")
		return sanitized
	case RecordDivergence:
		sanitized := cloneMap(data)
		if changed, ok := data["changed_paths"].([]interface{}); ok {
			stripped := make([]interface{}, 0, len(changed))
			for _, item := range changed {
				delta, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				delta = cloneMap(delta)
				delete(delta, "path")
				for _, side := range []string{"before", "after"} {
					if rec, ok := delta[side].(map[string]interface{}); ok {
						rec = cloneMap(rec)
						delete(rec, "path")
						delta[side] = rec
					}
				}
				stripped = append(stripped, delta)
			}
			sanitized["changed_paths"] = stripped
		}
		return sanitized
	default:
		return data
	}
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func toLogValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case []byte:
		return otelLog.BytesValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case float64:
		return otelLog.Float64Value(v)
	case map[string]interface{}:
		return otelLog.MapValue(toLogKeyValues(v)...)
	case map[string]string:
		kvs := make([]otelLog.KeyValue, 0, len(v))
		for k, val := range v {
			kvs = append(kvs, otelLog.String(k, val))
		}
		return otelLog.MapValue(kvs...)
	case []string:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.StringValue(item))
		}
		return otelLog.SliceValue(values...)
	case []interface{}:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.Value{}
	}
}

func toLogKeyValues(values map[string]interface{}) []otelLog.KeyValue {
	kvs := make([]otelLog.KeyValue, 0, len(values))
	for key, value := range values {
		kvs = append(kvs, otelLog.KeyValue{Key: key, Value: toLogValue(value)})
	}
	return kvs
}

func semanticAttributes(recordType string, payload interface{}, policy otelPolicy) []otelLog.KeyValue {
	data := payloadToMap(payload)
	if len(data) == 0 {
		return nil
	}

	switch recordType {
	case RecordFingerprint:
		return fingerprintSemanticAttributes(data, policy)
	case RecordDivergence:
		return divergenceSemanticAttributes(data)
	case RecordMetrics:
		return metricsSemanticAttributes(data)
	default:
		return nil
	}
}

var digestKeys = []string{"MD5", "SHA1", "SHA256", "SHA512", "BLAKE3", "XXH64"}

func fingerprintSemanticAttributes(data map[string]interface{}, policy otelPolicy) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	if path := getStringField(data, "path"); policy.includePaths && path != "" {
		kvs = append(kvs, otelLog.String(string(semconv.FilePathKey), path))
		kvs = append(kvs, otelLog.String(string(semconv.FileDirectoryKey), filepath.Dir(path)))
		kvs = append(kvs, otelLog.String(string(semconv.FileNameKey), filepath.Base(path)))
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			kvs = append(kvs, otelLog.String(string(semconv.FileExtensionKey), ext))
		}
	}
	if size, ok := getInt64Field(data, "size"); ok {
		kvs = append(kvs, otelLog.Int64(string(semconv.FileSizeKey), size))
	}

	kvs = appendStringAttr(kvs, "driftwatch.file.last_modified", getStringField(data, "last_modified"))
	kvs = appendStringAttr(kvs, "driftwatch.file.created", getStringField(data, "created"))
	kvs = appendStringAttr(kvs, "driftwatch.file.owner", getStringField(data, "owner"))
	kvs = appendStringAttr(kvs, "driftwatch.file.group", getStringField(data, "group"))
	kvs = appendStringAttr(kvs, "driftwatch.file.mime_type", getStringField(data, "mime_type"))
	if mode, ok := getInt64Field(data, "mode"); ok {
		kvs = append(kvs, otelLog.String("driftwatch.file.mode", fmt.Sprintf("%04o", mode)))
	}
	for _, algo := range digestKeys {
		kvs = appendStringAttr(kvs, "driftwatch.file.hash."+strings.ToLower(algo), getStringField(data, algo))
	}
	kvs = appendStringAttr(kvs, "driftwatch.file.fuzzy_hash.tlsh", getStringField(data, "TLSH"))
	kvs = appendStringAttr(kvs, "driftwatch.file.error_kind", getStringField(data, "error_kind"))
	return kvs
}

func divergenceSemanticAttributes(data map[string]interface{}) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	kvs = appendStringAttr(kvs, "driftwatch.check.state", getStringField(data, "state"))
	kvs = appendStringAttr(kvs, "driftwatch.check.error_kind", getStringField(data, "error_kind"))
	kvs = appendStringAttr(kvs, "driftwatch.check.baseline_scan_id", getStringField(data, "baseline_scan_id"))
	kvs = appendStringAttr(kvs, "driftwatch.check.current_scan_id", getStringField(data, "current_scan_id"))
	if changed, ok := data["changed_paths"].([]interface{}); ok {
		kvs = append(kvs, otelLog.Int64("driftwatch.check.changed_paths_count", int64(len(changed))))
	}
	if summary, ok := data["summary"].(map[string]interface{}); ok {
		for _, key := range []string{"added", "removed", "modified", "errored", "unchanged"} {
			if count, ok := getInt64Field(summary, key); ok {
				kvs = append(kvs, otelLog.Int64("driftwatch.check."+key, count))
			}
		}
	}
	if _, ok := data["ports"].(map[string]interface{}); ok {
		kvs = append(kvs, otelLog.Bool("driftwatch.check.ports_changed", true))
	}
	return kvs
}

func metricsSemanticAttributes(data map[string]interface{}) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue

	kvs = appendStringAttr(kvs, "driftwatch.metrics.start_time", getStringField(data, "start_time"))
	kvs = appendStringAttr(kvs, "driftwatch.metrics.end_time", getStringField(data, "end_time"))
	for _, key := range []string{"total_files", "files_fingerprinted", "files_errored"} {
		if value, ok := getInt64Field(data, key); ok {
			kvs = append(kvs, otelLog.Int64("driftwatch.metrics."+key, value))
		}
	}
	return kvs
}

func payloadToMap(payload interface{}) map[string]interface{} {
	switch v := payload.(type) {
	case map[string]interface{}:
		return v
	case map[string]string:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			out[key] = value
		}
		return out
	default:
		data, err := jsonMarshal(payload)
		if err != nil {
			return nil
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil
		}
		return decoded
	}
}

func getStringField(values map[string]interface{}, key string) string {
	value, ok := values[key]
	if !ok || value == nil {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	return fmt.Sprint(value)
}

func getInt64Field(values map[string]interface{}, key string) (int64, bool) {
	value, ok := values[key]
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func appendStringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}
