package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Xractz/whatsapp-assistant/internal/bus"
	"github.com/Xractz/whatsapp-assistant/internal/whatsapp"
)

func logoutCmd() *cobra.Command {
	var localOnly bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Unlink this device from the WhatsApp account",
		Long: `Unlinks the companion device on the phone and deletes the stored session.
With --local the session file is removed without contacting WhatsApp.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			sessionPath := whatsapp.SessionPath(cfg.Session.Dir)
			if _, err := os.Stat(sessionPath); os.IsNotExist(err) {
				fmt.Println("No session found, nothing to do.")
				return nil
			}

			if !localOnly {
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				messageBus := bus.New(1, logger)
				defer messageBus.Close()
				client, err := whatsapp.New(ctx, whatsapp.Config{
					SessionDir: cfg.Session.Dir,
					Bus:        messageBus,
					Logger:     logger,
				})
				if err != nil {
					return err
				}
				err = client.Logout(ctx)
				client.Close()
				if err != nil {
					return fmt.Errorf("%w (retry, or use --local to only delete the session)", err)
				}
			}

			for _, suffix := range []string{"", "-wal", "-shm"} {
				if err := os.Remove(sessionPath + suffix); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove session: %w", err)
				}
			}
			fmt.Println("Logged out. Run 'wabot run' to pair again.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&localOnly, "local", false, "only delete the local session")
	return cmd
}
