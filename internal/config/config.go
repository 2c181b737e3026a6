package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FlexibleStringSlice accepts ["str"], [123] and a single "space separated"
// string in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = strings.Fields(s)
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for larkbridge.
type Config struct {
	Lark       LarkConfig       `json:"lark"`
	Queue      QueueConfig      `json:"queue"`
	Ingest     IngestConfig     `json:"ingest,omitempty"`
	Worker     WorkerConfig     `json:"worker,omitempty"`
	Connection ConnectionConfig `json:"connection,omitempty"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
	mu         sync.RWMutex
}

type QueueConfig struct {
	File string `json:"file"` // markdown queue file (default "tasks/queue.md")
}

type IngestConfig struct {
	AckText         string `json:"ack_text,omitempty"`          // reply sent on first receipt; empty disables
	StripBotMention *bool  `json:"strip_bot_mention,omitempty"` // drop the bot's own @mention from text (default true)
}

// StripMention reports whether the bot's own mention is removed from bodies.
func (ic IngestConfig) StripMention() bool {
	return ic.StripBotMention == nil || *ic.StripBotMention
}

// WorkerConfig configures the optional worker launched on new tasks.
type WorkerConfig struct {
	Command  FlexibleStringSlice `json:"command,omitempty"`  // argv; empty disables the trigger
	Dir      string              `json:"dir,omitempty"`      // working directory (default: current)
	Cooldown string              `json:"cooldown,omitempty"` // Go duration between launches (default "15s")
}

// CooldownDuration parses Cooldown, falling back to def.
func (wc WorkerConfig) CooldownDuration(def time.Duration) time.Duration {
	return parseDuration(wc.Cooldown, def)
}

// ConnectionConfig configures long-connection reconnects.
type ConnectionConfig struct {
	Backoff  string `json:"backoff,omitempty"`   // "fixed" (default) or "exponential"
	Delay    string `json:"delay,omitempty"`     // fixed delay, or exponential base (default "30s")
	MaxDelay string `json:"max_delay,omitempty"` // exponential cap (default "5m")
}

func (cc ConnectionConfig) DelayDuration() time.Duration {
	return parseDuration(cc.Delay, 30*time.Second)
}

func (cc ConnectionConfig) MaxDelayDuration() time.Duration {
	return parseDuration(cc.MaxDelay, 5*time.Minute)
}

// DefaultServiceName is the OTEL service name when none is configured.
const DefaultServiceName = "larkbridge"

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext, for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "larkbridge"
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
