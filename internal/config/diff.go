package config

import (
	"reflect"
	"strings"
)

// hotSections apply without a restart.
var hotSections = map[string]bool{
	"logging":   true,
	"scheduler": true, // timings only; timezone is checked separately
	"economy":   true,
	"draw":      true,
	"reminders": true,
	"ops":       true,
}

// ChangedSections lists the top-level sections (by JSON name) that differ.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	ov := reflect.ValueOf(*oldCfg)
	nv := reflect.ValueOf(*newCfg)
	t := ov.Type()

	var out []string
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			continue
		}
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		out = append(out, name)
	}
	return out
}

// RestartRequired returns the changed sections a running process cannot apply.
func RestartRequired(oldCfg, newCfg *Config) []string {
	var out []string
	for _, s := range ChangedSections(oldCfg, newCfg) {
		if !hotSections[s] {
			out = append(out, s)
		}
	}
	if oldCfg != nil && newCfg != nil &&
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		out = append(out, "scheduler.timezone")
	}
	if oldCfg != nil && newCfg != nil && oldCfg.Reminders.Enabled != newCfg.Reminders.Enabled {
		out = append(out, "reminders.enabled")
	}
	return out
}
