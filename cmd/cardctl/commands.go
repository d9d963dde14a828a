package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"card_shop/internal/fulfillment"
	"card_shop/internal/payment"
	"card_shop/internal/reaper"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, _, err := openStore(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrated")
		return nil
	},
}

var importProductID uint

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import card codes (one per line) for a product; reads stdin without a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if importProductID == 0 {
			return fmt.Errorf("--product is required")
		}
		var in io.Reader = cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		lines, err := readLines(in)
		if err != nil {
			return err
		}

		s, _, err := openStore()
		if err != nil {
			return err
		}
		if _, err := s.Products.Get(cmd.Context(), importProductID); err != nil {
			return fmt.Errorf("product %d: %w", importProductID, err)
		}
		n, err := s.Cards.Provision(cmd.Context(), importProductID, lines)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d cards for product %d\n", n, importProductID)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue pending orders once and release their cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, cfg, err := openStore()
		if err != nil {
			return err
		}
		engine := fulfillment.New(s, payment.MD5Verifier{}, cfg.Payment, cfg.Order)
		n, err := reaper.New(s.Orders, engine, cfg.Order).SweepOnce(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d orders\n", n)
		return nil
	},
}

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Print card counts per status for every product",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		products, err := s.Products.List(cmd.Context(), false)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-6s %-32s %10s %8s %8s\n", "ID", "NAME", "AVAILABLE", "LOCKED", "SOLD")
		for _, p := range products {
			c, err := s.Cards.Stock(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%-6d %-32s %10d %8d %8d\n", p.ID, p.Name, c.Available, c.Locked, c.Sold)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().UintVar(&importProductID, "product", 0, "product id")
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
