// Dispatch CLI — инструмент командной строки для операционных задач:
// просмотр заказов, просмотр и принудительное снятие блокировок,
// загрузка правил демографических зон.
//
// Использование:
//
//	dispatch [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	orders  Просмотр заказов
//	locks   Управление блокировками водителей и заказов
//	rules   Управление правилами зон
//
// CLI работает напрямую с Postgres (DB_URL).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperlocal-delivery/dispatch/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "dispatch",
		Short:         "Dispatch CLI — delivery dispatch ops tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	storeFn := func(cmd *cobra.Command) (*cli.Store, error) {
		return cli.OpenStore(cmd.Context())
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewOrdersCmd(storeFn, outputFn),
		cli.NewLocksCmd(storeFn, outputFn),
		cli.NewRulesCmd(storeFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
