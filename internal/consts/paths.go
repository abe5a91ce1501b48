package consts

import (
	"os"
	"path/filepath"
)

const (
	CadenceDirName = ".cadence"
	ConfigFileName = "config.yaml"
	TaskStoreName  = "tasks.json"
)

func CadenceHomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, CadenceDirName)
}

func DefaultConfigPath() string {
	return filepath.Join(CadenceHomeDir(), ConfigFileName)
}

func DefaultTaskStorePath() string {
	return filepath.Join(CadenceHomeDir(), TaskStoreName)
}

func DefaultWorkspaceDir() string {
	return filepath.Join(CadenceHomeDir(), "workspaces", "default")
}
