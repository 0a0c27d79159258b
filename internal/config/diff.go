package config

import (
	"reflect"
	"sort"
	"strings"

	"deadman/pkg/logx"
)

// WatchdogChange pairs the old and new definition of a watchdog kept across a reload.
type WatchdogChange struct {
	Old, New WatchdogConfig
}

// PeriodOnly reports whether only the period differs, which can be applied
// to a running timer without rebuilding it.
func (c WatchdogChange) PeriodOnly() bool {
	o, n := c.Old, c.New
	o.Period, n.Period = "", ""
	return o == n && strings.TrimSpace(c.Old.Period) != strings.TrimSpace(c.New.Period)
}

// Change summarizes what a reload alters. Disabled watchdogs count as absent.
type Change struct {
	Added   []WatchdogConfig
	Removed []string
	Changed []WatchdogChange

	Logging  bool
	Systemd  bool
	Storage  bool
	Notifier bool
	HTTP     bool
}

func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0 &&
		!c.Logging && !c.Systemd && !c.Storage && !c.Notifier && !c.HTTP
}

// Sections lists the changed top-level sections in a stable order.
func (c Change) Sections() []string {
	out := make([]string, 0, 6)
	if c.Logging {
		out = append(out, "logging")
	}
	if c.Systemd {
		out = append(out, "systemd")
	}
	if c.Storage {
		out = append(out, "storage")
	}
	if c.Notifier {
		out = append(out, "notifier")
	}
	if c.HTTP {
		out = append(out, "http")
	}
	if len(c.Added)+len(c.Removed)+len(c.Changed) > 0 {
		out = append(out, "watchdogs")
	}
	return out
}

// Fields returns log attributes for the change. Secrets such as bot tokens
// are never included.
func (c Change) Fields() []logx.Field {
	names := func(ws []WatchdogConfig) []string {
		out := make([]string, 0, len(ws))
		for _, w := range ws {
			out = append(out, w.Name)
		}
		return out
	}
	changed := make([]string, 0, len(c.Changed))
	for _, ch := range c.Changed {
		changed = append(changed, ch.New.Name)
	}
	return []logx.Field{
		logx.String("sections", strings.Join(c.Sections(), ",")),
		logx.String("watchdogs.added", strings.Join(names(c.Added), ",")),
		logx.String("watchdogs.removed", strings.Join(c.Removed, ",")),
		logx.String("watchdogs.changed", strings.Join(changed, ",")),
	}
}

// Diff compares two configs. Either side may be nil.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change
	ch.Logging = oldCfg.Logging.ToLogx() != newCfg.Logging.ToLogx()
	ch.Systemd = oldCfg.Systemd != newCfg.Systemd
	ch.Storage = !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage)
	ch.Notifier = !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier)
	ch.HTTP = !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP)

	prev := make(map[string]WatchdogConfig)
	for _, w := range oldCfg.Enabled() {
		prev[strings.TrimSpace(w.Name)] = w
	}
	next := make(map[string]struct{})
	for _, w := range newCfg.Enabled() {
		name := strings.TrimSpace(w.Name)
		next[name] = struct{}{}
		o, ok := prev[name]
		switch {
		case !ok:
			ch.Added = append(ch.Added, w)
		case o != w:
			ch.Changed = append(ch.Changed, WatchdogChange{Old: o, New: w})
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			ch.Removed = append(ch.Removed, name)
		}
	}
	sort.Strings(ch.Removed)
	return ch
}
