package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/tab_mon/internal/config"
	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/infra"
)

var autostartCmd = &cobra.Command{
	Use:   "autostart",
	Short: "Manage starting the daemon at login",
}

var autostartInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Start the daemon at login (launchd on macOS, systemd elsewhere)",
	RunE:  runAutostartInstall,
}

var autostartUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop starting the daemon at login",
	RunE:  runAutostartUninstall,
}

var autostartStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon starts at login",
	RunE:  runAutostartStatus,
}

func init() {
	autostartCmd.AddCommand(autostartInstallCmd)
	autostartCmd.AddCommand(autostartUninstallCmd)
	autostartCmd.AddCommand(autostartStatusCmd)
	rootCmd.AddCommand(autostartCmd)
}

// autostartTargets resolves the manager plus the executable and config
// paths baked into the service definition.
func autostartTargets() (*infra.LaunchdManagerImpl, string, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", "", err
	}
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, "", "", err
	}

	mgr, err := infra.NewAutostartManager(filepath.Join(dataDir, "tabmon.err"))
	if err != nil {
		return nil, "", "", err
	}

	execPath, err := os.Executable()
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}

	cfgPath, err := config.ExpandPath(configPath)
	if err != nil {
		return nil, "", "", err
	}
	return mgr, execPath, cfgPath, nil
}

func runAutostartInstall(cmd *cobra.Command, args []string) error {
	mgr, execPath, cfgPath, err := autostartTargets()
	if err != nil {
		return err
	}
	return installAutostart(mgr, execPath, cfgPath)
}

func installAutostart(mgr domain.AutostartManager, execPath, cfgPath string) error {
	if mgr.IsInstalled() && !mgr.NeedsUpdate(execPath, cfgPath) {
		fmt.Printf("Autostart already installed: %s\n", mgr.Path())
		return nil
	}
	if err := mgr.Install(execPath, cfgPath); err != nil {
		return fmt.Errorf("failed to install autostart: %w", err)
	}
	fmt.Printf("Autostart installed: %s\n", mgr.Path())
	return nil
}

func runAutostartUninstall(cmd *cobra.Command, args []string) error {
	mgr, _, _, err := autostartTargets()
	if err != nil {
		return err
	}
	if err := mgr.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall autostart: %w", err)
	}
	fmt.Println("Autostart removed")
	return nil
}

func runAutostartStatus(cmd *cobra.Command, args []string) error {
	mgr, execPath, cfgPath, err := autostartTargets()
	if err != nil {
		return err
	}

	fmt.Println("\n=== tabmon Autostart ===")
	fmt.Printf("Manager: %s\n", mgr.Kind())
	fmt.Printf("Definition: %s\n", mgr.Path())
	switch {
	case !mgr.IsInstalled():
		fmt.Println("Installed: no")
	case mgr.NeedsUpdate(execPath, cfgPath):
		fmt.Println("Installed: yes (stale, run 'tabmon autostart install')")
	default:
		fmt.Println("Installed: yes")
	}
	return nil
}
