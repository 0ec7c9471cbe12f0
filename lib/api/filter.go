package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/lib/vault"
)

// filter holds the optional post-decryption filters of a type query
type filter struct {
	minData  *int64
	start    *time.Time
	end      *time.Time
	startRaw string
	endRaw   string
}

func parseFilter(q url.Values) (filter, error) {
	var f filter
	if v := strings.TrimSpace(q.Get("minData")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return f, store.NewError(store.RetCValidation, "minData must be a positive number")
		}
		f.minData = &n
	}
	if v := strings.TrimSpace(q.Get("startTime")); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return f, store.NewError(store.RetCValidation, "startTime must be a valid ISO 8601 timestamp")
		}
		f.start, f.startRaw = &t, v
	}
	if v := strings.TrimSpace(q.Get("endTime")); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return f, store.NewError(store.RetCValidation, "endTime must be a valid ISO 8601 timestamp")
		}
		f.end, f.endRaw = &t, v
	}
	if f.start != nil && f.end != nil && f.start.After(*f.end) {
		return f, store.NewError(store.RetCValidation, "startTime must be before endTime")
	}
	return f, nil
}

// apply keeps the entities matching every configured filter
func (f filter) apply(entities []vault.ReadEntity) []vault.ReadEntity {
	out := make([]vault.ReadEntity, 0, len(entities))
	for _, e := range entities {
		if f.minData != nil && !exceeds(e, *f.minData) {
			continue
		}
		if (f.start != nil || f.end != nil) && !f.inRange(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// exceeds compares the decrypted value numerically if it is a number, otherwise by length
func exceeds(e vault.ReadEntity, threshold int64) bool {
	if e.DecryptedField == nil {
		return false
	}
	plain := *e.DecryptedField
	if n, err := strconv.ParseFloat(strings.TrimSpace(plain), 64); err == nil {
		return n > float64(threshold)
	}
	return int64(len(plain)) > threshold
}

func (f filter) inRange(e vault.ReadEntity) bool {
	ts, _ := e.Data["timestamp"].(string)
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return false
	}
	if f.start != nil && t.Before(*f.start) {
		return false
	}
	if f.end != nil && t.After(*f.end) {
		return false
	}
	return true
}

func (f filter) echo() map[string]any {
	out := map[string]any{"minData": nil, "startTime": nil, "endTime": nil}
	if f.minData != nil {
		out["minData"] = *f.minData
	}
	if f.startRaw != "" {
		out["startTime"] = f.startRaw
	}
	if f.endRaw != "" {
		out["endTime"] = f.endRaw
	}
	return out
}
