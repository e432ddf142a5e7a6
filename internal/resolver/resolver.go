package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"
)

const (
	DefaultRetries    = 5
	DefaultRetryDelay = 500 * time.Millisecond
)

// Helper runs the external interface-listing script and returns its stdout.
type Helper interface {
	Output(ctx context.Context, script string) ([]byte, error)
}

type helperEntry struct {
	Name *string `json:"name"`
	IPv4 *string `json:"ipv4"`
}

// Resolver builds the NameIndex once at startup.
type Resolver struct {
	helper  Helper
	script  string
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

func New(helper Helper, script string, retries int, delay time.Duration, logger *slog.Logger) *Resolver {
	if retries < 0 {
		retries = 0
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &Resolver{helper: helper, script: script, retries: retries, delay: delay, logger: logger}
}

// Resolve runs the helper, retrying on empty or failed output. Exhausting the
// retries is not an error: the returned index is empty and no worker will start.
func (r *Resolver) Resolve(ctx context.Context) *NameIndex {
	entries := r.attempt(ctx)
	for retry := 0; len(entries) == 0 && retry < r.retries; retry++ {
		r.logger.Warn("interface name map empty, retrying", "retry", retry+1, "max_retries", r.retries, "delay", r.delay)
		if !sleepWithContext(ctx, r.delay) {
			break
		}
		entries = r.attempt(ctx)
	}

	if len(entries) == 0 {
		r.logger.Error("could not load interface name map, workers will not start")
	} else {
		r.logger.Info("interface name map loaded", "entries", len(entries), "map", entries)
	}
	return NewNameIndex(entries)
}

func (r *Resolver) attempt(ctx context.Context) map[string]string {
	out, err := r.helper.Output(ctx, r.script)
	if err != nil {
		r.logger.Warn("interface helper failed", "script", r.script, "error", err)
		return nil
	}
	entries, err := ParseHelperOutput(out)
	if err != nil {
		r.logger.Warn("interface helper output invalid", "script", r.script, "error", err)
		return nil
	}
	return entries
}

// ParseHelperOutput decodes the helper's JSON array of {name, ipv4} objects into
// an address -> name map. Entries missing either field are skipped.
func ParseHelperOutput(data []byte) (map[string]string, error) {
	var list []helperEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode helper output: %w", err)
	}
	out := make(map[string]string, len(list))
	for _, e := range list {
		if e.Name == nil || e.IPv4 == nil {
			continue
		}
		name := strings.TrimSpace(*e.Name)
		ip := strings.TrimSpace(*e.IPv4)
		if name == "" || ip == "" {
			continue
		}
		if addr, err := netip.ParseAddr(ip); err == nil && addr.IsUnspecified() {
			continue
		}
		out[ip] = name
	}
	return out, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
