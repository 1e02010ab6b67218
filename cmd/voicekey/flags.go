package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the running instance for client commands.
type APIFlags struct {
	APIUrl     string
	APIToken   string
	APICA      string
	APITimeout time.Duration
	JSON       bool
	Limit      int
}

// ConfigSetFlags holds flags for "config set". Empty values leave the
// stored setting unchanged.
type ConfigSetFlags struct {
	APIKey    string
	Hotkey    string
	ProjectID string
}

// RunFlags holds flags for the run command.
type RunFlags struct {
	ConfigPath string
	NoHotkey   bool
	Listen     string
}
