package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veil-im/veil/veil/algo"
)

func algorithmsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "algorithms",
		Short: "List the supported algorithms by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			categories := []algo.Category{
				algo.CategoryKeyExchange,
				algo.CategoryCipher,
				algo.CategoryAEAD,
				algo.CategoryHash,
			}
			for _, cat := range categories {
				fmt.Printf("%s:\n", cat)
				for _, id := range registry.IDs(cat) {
					fmt.Printf("  %s\n", id)
				}
			}
			return nil
		},
	}
}
