// Package logfields defines canonical slog attribute keys so log lines from
// the orchestrator, stages and storage layers stay queryable.
package logfields

import (
	"log/slog"
	"time"
)

const (
	KeyStageID    = "stage_id"
	KeyStageType  = "stage_type"
	KeyStageKind  = "stage_kind"
	KeyProducer   = "producer"
	KeyURL        = "url"
	KeyQueueKey   = "queue_key"
	KeyAttempt    = "attempt"
	KeyItems      = "items"
	KeyDurationMS = "duration_ms"
	KeyDelay      = "delay"
	KeyPath       = "path"
	KeyStore      = "store"
	KeyTrigger    = "trigger"
	KeyTool       = "tool"
	KeyVersion    = "version"
	KeyError      = "error"
)

func StageID(id string) slog.Attr          { return slog.String(KeyStageID, id) }
func StageType(name string) slog.Attr      { return slog.String(KeyStageType, name) }
func StageKind(kind string) slog.Attr      { return slog.String(KeyStageKind, kind) }
func Producer(id string) slog.Attr         { return slog.String(KeyProducer, id) }
func URL(u string) slog.Attr               { return slog.String(KeyURL, u) }
func QueueKey(k string) slog.Attr          { return slog.String(KeyQueueKey, k) }
func Attempt(n int) slog.Attr              { return slog.Int(KeyAttempt, n) }
func Items(n int) slog.Attr                { return slog.Int(KeyItems, n) }
func Path(p string) slog.Attr              { return slog.String(KeyPath, p) }
func Store(s string) slog.Attr             { return slog.String(KeyStore, s) }
func Trigger(t string) slog.Attr           { return slog.String(KeyTrigger, t) }
func Tool(name string) slog.Attr           { return slog.String(KeyTool, name) }
func Version(v string) slog.Attr           { return slog.String(KeyVersion, v) }
func Delay(d time.Duration) slog.Attr      { return slog.Duration(KeyDelay, d) }
func DurationMS(d time.Duration) slog.Attr { return slog.Int64(KeyDurationMS, d.Milliseconds()) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
