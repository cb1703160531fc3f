package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/peerly/internal/marketplace"
)

func newListingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listing",
		Short: "Marketplace listing commands",
	}

	cmd.AddCommand(newListingBrowseCmd())
	cmd.AddCommand(newListingShowCmd())
	return cmd
}

func newListingBrowseCmd() *cobra.Command {
	var (
		configPath string
		filter     marketplace.Filter
	)

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse active listings",
		Long:  "Lists active, unsold listings with the same filters and sort orders as the browse API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromConfig(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			page, err := a.market.Browse(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(page.Listings) == 0 {
				fmt.Fprintln(out, "No listings found")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tPRICE\tCONDITION\tVIEWS\tCREATED")
			for _, l := range page.Listings {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%d\t%s\n",
					l.ID, truncate(l.Title, 40), l.Price, l.Condition, l.ViewsCount,
					l.CreatedAt.Format("2006-01-02"))
			}
			w.Flush()
			fmt.Fprintf(out, "\n%d of %d listings\n", len(page.Listings), page.Total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	cmd.Flags().StringVar(&filter.Category, "category", "", "category slug")
	cmd.Flags().StringVar(&filter.Condition, "condition", "", "item condition")
	cmd.Flags().StringVar(&filter.College, "college", "", "college slug")
	cmd.Flags().StringVarP(&filter.Query, "query", "q", "", "search title and description")
	cmd.Flags().StringVar(&filter.Sort, "sort", marketplace.SortNewest, "newest, oldest, price_low, price_high or popular")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "page offset")
	return cmd
}

func newListingShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <listing-id>",
		Short: "Show a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromConfig(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			l, err := a.market.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:         %s\n", l.ID)
			fmt.Fprintf(out, "Title:      %s\n", l.Title)
			fmt.Fprintf(out, "Price:      %.2f\n", l.Price)
			fmt.Fprintf(out, "Condition:  %s\n", l.Condition)
			if l.Category != nil {
				fmt.Fprintf(out, "Category:   %s\n", l.Category.Name)
			}
			if l.Seller != nil {
				fmt.Fprintf(out, "Seller:     %s (%s)\n", l.Seller.FullName, l.SellerID)
			}
			if l.Location != nil {
				fmt.Fprintf(out, "Location:   %s\n", *l.Location)
			}
			status := "active"
			switch {
			case l.IsSold:
				status = "sold"
			case !l.IsActive:
				status = "inactive"
			}
			fmt.Fprintf(out, "Status:     %s\n", status)
			fmt.Fprintf(out, "Views:      %d\n", l.ViewsCount)
			fmt.Fprintf(out, "Images:     %d\n", len(l.Images))
			if l.Description != nil && *l.Description != "" {
				fmt.Fprintf(out, "\n%s\n", *l.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	return cmd
}
