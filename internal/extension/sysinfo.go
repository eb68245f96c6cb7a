package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/gosuda/tether/internal/command"
)

const (
	SysInfoName   = "sysinfo"
	MethodSysInfo = "sys_info"
)

// SysInfoConfig is the sysinfo payload config.
type SysInfoConfig struct {
	Label string `json:"label,omitempty"`
}

// SysInfo answers sys_info with basic host facts.
type SysInfo struct {
	cfg SysInfoConfig
}

// SysInfoResult is the sys_info result.
type SysInfoResult struct {
	Host  string `json:"host"`
	OS    string `json:"os"`
	Arch  string `json:"arch"`
	PID   int    `json:"pid"`
	Label string `json:"label,omitempty"`
}

func NewSysInfo(config json.RawMessage) (Extension, error) {
	var cfg SysInfoConfig
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("extension.NewSysInfo: %w", err)
		}
	}
	return &SysInfo{cfg: cfg}, nil
}

func (s *SysInfo) Name() string { return SysInfoName }

func (s *SysInfo) Init(_ context.Context, table *command.Table) error {
	if err := table.Add(MethodSysInfo, s.handle); err != nil {
		return fmt.Errorf("extension.SysInfo.Init: %w", err)
	}
	return nil
}

func (s *SysInfo) handle(context.Context, command.Request) (any, command.Action, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, command.ActionContinue, fmt.Errorf("hostname: %w", err)
	}
	return SysInfoResult{
		Host:  host,
		OS:    runtime.GOOS,
		Arch:  runtime.GOARCH,
		PID:   os.Getpid(),
		Label: s.cfg.Label,
	}, command.ActionContinue, nil
}
