package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/Xractz/whatsapp-assistant/internal/audit"
	"github.com/Xractz/whatsapp-assistant/internal/provider"
	"github.com/Xractz/whatsapp-assistant/internal/sticker"
	"github.com/Xractz/whatsapp-assistant/internal/whatsapp"
)

func doctorCmd() *cobra.Command {
	var skipNetwork bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your wabot installation",
		Long: `Verifies that the configuration, WhatsApp session, command log database and
AI providers are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("wabot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists and validates
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, defaults apply", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}
			cfg, _, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 2. WhatsApp session
			sessionPath := whatsapp.SessionPath(cfg.Session.Dir)
			if info, err := os.Stat(sessionPath); err != nil {
				printWarn("Session", "not paired yet; 'wabot run' will show a QR code")
				warned++
			} else {
				printPass("Session", fmt.Sprintf("%s (%s)", sessionPath, humanSize(info.Size())))
				passed++
			}

			// 3. Command log database writable and migrated
			if cfg.Audit.Enabled {
				if err := checkDatabase(cfg.Audit.DBPath); err != nil {
					printFail("Command log", err.Error())
					failed++
				} else {
					printPass("Command log", cfg.Audit.DBPath)
					passed++
				}
			} else {
				printWarn("Command log", "disabled")
				warned++
			}

			// 4. Sticker settings
			if _, err := sticker.ParseBackground(cfg.Sticker.Background); err != nil {
				printFail("Sticker background", err.Error())
				failed++
			} else {
				printPass("Sticker", fmt.Sprintf("quality %d, background %s", cfg.Sticker.Quality, cfg.Sticker.Background))
				passed++
			}

			// 5. AI providers
			providerCount := 0
			for name, p := range cfg.AI.Providers {
				if !p.Enabled {
					continue
				}
				providerCount++
				switch {
				case p.Kind != "ollama" && (p.APIKey == "" || strings.HasPrefix(p.APIKey, "${")):
					printWarn("Provider: "+name, "enabled but no API key (set API_KEY or ai.providers."+name+".apiKey)")
					warned++
				default:
					printPass("Provider: "+name, p.Kind+" configured")
					passed++
				}
			}
			if providerCount == 0 {
				printWarn("Providers", "no providers enabled; .ai will reply with an error")
				warned++
			} else if !skipNetwork {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				factory := provider.NewFactory(cfg.AI, logger)
				if p := factory.HealthyProvider(ctx); p != nil {
					printPass("Provider health", p.Name()+" reachable")
					passed++
				} else {
					printFail("Provider health", "no enabled provider responded")
					failed++
				}
				cancel()
			}

			// 6. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics", cfg.Metrics.Listen+" available")
					passed++
				}
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// 8. Owner alerts
			if cfg.Notify.Telegram.Enabled {
				if len(cfg.Notify.Telegram.ChatIDs) == 0 {
					printFail("Telegram alerts", "enabled but notify.telegram.chatIds is empty")
					failed++
				} else {
					printPass("Telegram alerts", fmt.Sprintf("%d chat(s)", len(cfg.Notify.Telegram.ChatIDs)))
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running wabot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nwabot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! wabot is ready to run.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipNetwork, "offline", false, "skip provider health requests")
	return cmd
}

// checkDatabase opens the command log and applies pending migrations.
func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if err := audit.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
