package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// NewLocksCmd создаёт группу команд для работы с блокировками.
func NewLocksCmd(storeFn func(*cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and release assignment locks",
	}

	cmd.AddCommand(
		newLocksListCmd(storeFn, outputFn),
		newLocksReleaseCmd(storeFn, outputFn),
	)

	return cmd
}

func newLocksListCmd(storeFn func(*cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List held locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			kinds := []domain.LockKind{domain.LockDriver, domain.LockOrder}
			if kind != "" {
				kinds = []domain.LockKind{domain.LockKind(kind)}
			}

			var all []domain.Lock
			for _, k := range kinds {
				held, err := store.Locks.List(cmd.Context(), k)
				if err != nil {
					return err
				}
				all = append(all, held...)
			}

			headers := []string{"KIND", "KEY", "OWNER", "ORDERS", "EXPIRES"}
			rows := make([][]string, len(all))
			for i, l := range all {
				rows[i] = []string{
					string(l.Kind),
					l.Key,
					l.Owner,
					fmt.Sprintf("%d", len(l.OrderIDs)),
					l.ExpiresAt.Format(time.RFC3339),
				}
			}

			out.Print(headers, rows, all)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by lock kind (driver|order)")

	return cmd
}

func newLocksReleaseCmd(storeFn func(*cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "release KIND KEY",
		Short: "Force-release a stuck lock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("releasing a lock bypasses ownership checks; pass --force to confirm")
			}

			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			kind := domain.LockKind(args[0])
			key := args[1]
			if err := store.Locks.ForceRelease(cmd.Context(), kind, key); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Lock released: %s/%s", kind, key))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm forced release")

	return cmd
}
