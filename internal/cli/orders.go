package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// NewOrdersCmd создаёт группу команд для просмотра заказов.
func NewOrdersCmd(storeFn func(*cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect orders",
	}

	cmd.AddCommand(
		newOrdersListCmd(storeFn, outputFn),
		newOrdersShowCmd(storeFn, outputFn),
		newOrdersCreateCmd(storeFn, outputFn),
	)

	return cmd
}

func newOrdersListCmd(storeFn func(*cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			var orders []domain.Order
			if status != "" {
				orders, err = store.Orders.ListByStatus(cmd.Context(), domain.OrderStatus(status), limit)
			} else {
				orders, err = store.Orders.List(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			headers := []string{"ID", "STATUS", "DISPATCH", "PROVIDER", "DRIVER", "AREA", "CREATED"}
			rows := make([][]string, len(orders))
			for i, o := range orders {
				rows[i] = []string{
					o.ID.String(),
					string(o.Status),
					string(o.DispatchStatus),
					o.Provider,
					o.DriverID,
					o.AreaID,
					o.CreatedAt.Format(time.RFC3339),
				}
			}

			out.Print(headers, rows, orders)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by lifecycle status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of orders")

	return cmd
}

func newOrdersShowCmd(storeFn func(*cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show order details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id: %w", err)
			}

			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			order, err := store.Orders.GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}

			headers := []string{"FIELD", "VALUE"}
			rows := [][]string{
				{"ID", order.ID.String()},
				{"Status", string(order.Status)},
				{"DispatchStatus", string(order.DispatchStatus)},
				{"DispatchMode", string(order.DispatchMode)},
				{"Provider", order.Provider},
				{"FailedProviders", fmt.Sprintf("%v", order.FailedProviders)},
				{"SearchAttempts", fmt.Sprintf("%d", order.SearchAttempts)},
				{"DriverID", order.DriverID},
				{"AreaID", order.AreaID},
				{"Reason", order.Reason},
				{"CreatedAt", order.CreatedAt.Format(time.RFC3339)},
				{"UpdatedAt", order.UpdatedAt.Format(time.RFC3339)},
			}

			out.Print(headers, rows, order)
			return nil
		},
	}
}

func newOrdersCreateCmd(storeFn func(*cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	var restaurantID, customerID, areaID string
	var originLat, originLon, destLat, destLon float64

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Inject a test order",
		Long: `Inject a test order directly into the database.

The lifecycle orchestrator picks the order up on its next polling pass
and starts the restaurant acknowledgement flow.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			order := domain.NewOrder(restaurantID, customerID, areaID,
				domain.Coordinate{Lat: originLat, Lon: originLon},
				domain.Coordinate{Lat: destLat, Lon: destLon},
			)
			if err := store.Orders.Create(cmd.Context(), order); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Order %s created", order.ID))
			out.Print([]string{"ID", "STATUS", "AREA"}, [][]string{
				{order.ID.String(), string(order.Status), order.AreaID},
			}, order)
			return nil
		},
	}

	cmd.Flags().StringVar(&restaurantID, "restaurant", "", "Restaurant ID")
	cmd.Flags().StringVar(&customerID, "customer", "", "Customer ID")
	cmd.Flags().StringVar(&areaID, "area", "", "Demographic area ID")
	cmd.Flags().Float64Var(&originLat, "origin-lat", 0, "Pickup latitude")
	cmd.Flags().Float64Var(&originLon, "origin-lon", 0, "Pickup longitude")
	cmd.Flags().Float64Var(&destLat, "dest-lat", 0, "Drop-off latitude")
	cmd.Flags().Float64Var(&destLon, "dest-lon", 0, "Drop-off longitude")
	_ = cmd.MarkFlagRequired("restaurant")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("area")

	return cmd
}
