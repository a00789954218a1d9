package app

import (
	"context"
	"encoding/json"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	"alarmd/internal/notifier"
	"alarmd/internal/storage"
	"alarmd/internal/timer"
	logx "alarmd/pkg/logx"
)

// runAudit appends every alarm, timer delivery and notification event read
// from ch to the store until ctx is done or ch is closed.
func runAudit(ctx context.Context, ch <-chan eventbus.Event, st storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			entry, ok := auditEntry(e)
			if !ok {
				continue
			}
			if err := st.AppendAudit(ctx, entry); err != nil {
				log.Warn("audit append failed", logx.String("action", entry.Action), logx.Err(err))
			}
		}
	}
}

// auditEntry maps a bus event to its audit row. Timer arming is skipped: it
// always follows an alarm.scheduled entry.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	entry := storage.AuditEntry{At: e.Time, Action: e.Type, OK: true}
	switch d := e.Data.(type) {
	case alarm.Event:
		entry.Source = d.Source
		entry.ActorID = d.ActorID
		entry.Kind = d.Kind.String()
		entry.Slot = d.SlotID
		entry.FireAt = d.FireAt
		entry.OK = d.Error == ""
		entry.Error = d.Error
		if d.Message != "" {
			entry.MetaJSON = metaJSON(map[string]string{"message": d.Message})
		}
	case timer.Event:
		if e.Type != eventbus.TimerDelivered {
			return storage.AuditEntry{}, false
		}
		entry.Source = "timer"
		entry.Slot = d.Slot
		entry.FireAt = d.At
		if k, ok := alarm.KindForSlot(d.Slot); ok {
			entry.Kind = k.String()
		}
		entry.MetaJSON = metaJSON(map[string]string{"mode": string(d.Mode), "token": d.Token})
	case notifier.Event:
		entry.Source = "notifier"
		entry.Slot = d.SlotID
		entry.Kind = d.Title
		entry.OK = d.Error == ""
		entry.Error = d.Error
		entry.MetaJSON = metaJSON(map[string]string{"sink": d.Sink})
	default:
		return storage.AuditEntry{}, false
	}
	return entry, true
}

func metaJSON(m map[string]string) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
