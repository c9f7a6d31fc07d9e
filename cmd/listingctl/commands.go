package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sudo-init-do/repairnet/internal/listing"
	"github.com/sudo-init-do/repairnet/internal/wallet"
)

// --- list ---

func newListCmd(a *app) *cobra.Command {
	var (
		status, search string
		limit, offset  int
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List listings, newest first",
		Long: `List listings, newest first.

Examples:
  listingctl list
  listingctl list --status available --q oven
  listingctl list --json --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && status != "all" && !listing.Status(status).Valid() {
				return fmt.Errorf("--status must be all, available, matched or completed")
			}
			ctrl, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := ctrl.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			page := snap.Query(listing.Query{Search: search, Status: status, Limit: limit, Offset: offset})
			if asJSON {
				return printJSON(cmd.OutOrStdout(), page)
			}
			if page.Total == 0 {
				printWarning(cmd.ErrOrStderr(), "no listings")
				return nil
			}
			return printListings(cmd.OutOrStdout(), page.Listings)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (all, available, matched, completed)")
	cmd.Flags().StringVar(&search, "q", "", "search service type or provider")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// --- create ---

func newCreateCmd(a *app) *cobra.Command {
	var req listing.CreateRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a listing on behalf of a provider",
		Long: `Create a listing on behalf of a provider. The new id is printed on stdout.

Example:
  listingctl create --as 0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed --type Oven --description "door seal"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := ctrl.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
			printSuccess(cmd.ErrOrStderr(), "created %s listing %s", rec.ServiceType, rec.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Creator, "as", "", "provider wallet address")
	cmd.Flags().StringVar(&req.ServiceType, "type", "", "service type")
	cmd.Flags().StringVar(&req.Description, "description", "", "problem description")
	cmd.Flags().StringVar(&req.Availability, "availability", "", "availability window")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// --- match / complete ---

func newTransitionCmd(a *app, use, short string, target listing.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := ctrl.Transition(cmd.Context(), args[0], target)
			if err != nil {
				return err
			}
			printSuccess(cmd.ErrOrStderr(), "listing %s is now %s (reputation %d)", rec.ID, rec.Status, rec.Reputation)
			return nil
		},
	}
}

// --- stats ---

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show listing counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := ctrl.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			st := snap.Stats()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "total:          %d\n", st.Total)
			fmt.Fprintf(out, "available:      %d\n", st.Available)
			fmt.Fprintf(out, "matched:        %d\n", st.Matched)
			fmt.Fprintf(out, "completed:      %d\n", st.Completed)
			fmt.Fprintf(out, "avg reputation: %.2f\n", st.AvgReputation)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// --- token ---

func newTokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token <address>",
		Short: "Issue an API bearer token for a wallet address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := wallet.NewTokens(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}
