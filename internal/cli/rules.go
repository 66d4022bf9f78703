package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperlocal-delivery/dispatch/internal/domain"
)

// NewRulesCmd создаёт группу команд для настроек демографических зон.
func NewRulesCmd(storeFn func(*cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage demographic area routing rules",
	}

	cmd.AddCommand(
		newRulesListCmd(storeFn, outputFn),
		newRulesSeedCmd(storeFn, outputFn),
	)

	return cmd
}

func newRulesListCmd(storeFn func(*cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured areas and rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			areas, err := store.Areas.GetAll(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"AREA", "RULE", "PROVIDER", "PRIORITY"}
			var rows [][]string
			for _, area := range areas {
				for _, rule := range area.Rules {
					rows = append(rows, []string{
						area.AreaID,
						rule.Name,
						rule.Provider,
						fmt.Sprintf("%d", rule.Priority),
					})
				}
			}

			out.Print(headers, rows, areas)
			return nil
		},
	}
}

func newRulesSeedCmd(storeFn func(*cobra.Command) (*Store, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Load area rules from a JSON file",
		Long: `Загружает настройки демографических зон из JSON-файла.

Файл — массив зон:

  [{"area_id": "downtown",
    "rules": [{"name": "canary", "provider": "NewProvider",
               "condition": {"op": "fact",
                             "fact": {"kind": "percentage", "min": 0, "max": 10}}}]}]

Существующие зоны с теми же area_id перезаписываются. Процессы
подхватывают настройки при следующем старте.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read rules file: %w", err)
			}

			var areas []domain.DemographicArea
			if err := json.Unmarshal(raw, &areas); err != nil {
				return fmt.Errorf("parse rules file: %w", err)
			}
			if len(areas) == 0 {
				return fmt.Errorf("rules file contains no areas")
			}
			for _, area := range areas {
				if area.AreaID == "" {
					return fmt.Errorf("area without area_id")
				}
			}

			store, err := storeFn(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			out := outputFn()

			if err := store.Areas.Seed(cmd.Context(), areas); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Seeded %d area(s)", len(areas)))
			return nil
		},
	}
}
