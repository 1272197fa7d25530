package main

import (
	"fmt"
	"strconv"

	"lucledger/internal/cli"
	"lucledger/internal/model"
	"lucledger/internal/repository"

	"github.com/spf13/cobra"
)

var (
	flagUser  string
	flagLimit int
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect LUC sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		s, err := repository.NewSessionRepository(db).GetByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd, s)
		}
		printSession(cmd, s)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagUser == "" {
			return fmt.Errorf("--user is required")
		}
		_, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		sessions, err := repository.NewSessionRepository(db).ListByUserID(cmd.Context(), flagUser, flagLimit, 0)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd, sessions)
		}

		r := renderer(cmd)
		rows := make([][]string, 0, len(sessions))
		for _, s := range sessions {
			rows = append(rows, []string{
				s.SessionID,
				string(s.CurrentPhase),
				cli.FormatTokens(s.ChatTokens()),
				cli.FormatTokens(s.IterationTokens()),
				cli.FormatOptionalCents(s.TotalChargeCents),
				cli.FormatTime(&s.CreatedAt),
			})
		}
		r.Table(cli.Table{
			Title:   "Sessions for " + flagUser,
			Headers: []string{"session", "phase", "chat", "iteration", "charged", "created"},
			Rows:    rows,
		})
		return nil
	},
}

var receiptCmd = &cobra.Command{
	Use:   "receipt <session-id>",
	Short: "Show the receipt of a finalized session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		rc, err := repository.NewReceiptRepository(db).GetBySessionID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd, rc)
		}
		r := renderer(cmd)
		r.KeyValues("Receipt "+rc.ReceiptID, [][2]string{
			{"session", rc.SessionID},
			{"user", rc.UserID},
			{"chat tokens", strconv.FormatInt(rc.ChatTokens, 10)},
			{"iteration tokens", strconv.FormatInt(rc.IterationTokens, 10)},
			{"chat cost", r.Cost(rc.ChatCostCents)},
			{"iteration cost", r.Cost(rc.IterationCostCents)},
			{"refund", r.Cost(rc.RefundCents)},
			{"total charge", r.Cost(rc.TotalChargeCents)},
			{"finalized", cli.FormatTime(&rc.FinalizedAt)},
		})
		return nil
	},
}

var meterEventsCmd = &cobra.Command{
	Use:   "meter-events <session-id>",
	Short: "Show the meter audit trail of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		events, err := repository.NewMeterEventRepository(db).ListBySessionID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd, events)
		}

		r := renderer(cmd)
		rows := make([][]string, 0, len(events))
		unconfirmed := 0
		for _, e := range events {
			id := "-"
			if e.ProviderEventID != nil {
				id = *e.ProviderEventID
			} else {
				unconfirmed++
			}
			rows = append(rows, []string{
				string(e.Phase),
				e.Provider,
				cli.FormatCents(e.ValueCents),
				strconv.FormatBool(e.Refunded),
				id,
				cli.FormatTime(&e.CreatedAt),
			})
		}
		r.Table(cli.Table{
			Title:   "Meter events for " + args[0],
			Headers: []string{"phase", "provider", "value", "refund", "provider id", "at"},
			Rows:    rows,
		})
		if unconfirmed > 0 {
			r.Warn(fmt.Sprintf("%d attempt(s) not confirmed by a metering backend", unconfirmed))
		}
		return nil
	},
}

func printSession(cmd *cobra.Command, s *model.Session) {
	r := renderer(cmd)
	r.KeyValues("Session "+s.SessionID, [][2]string{
		{"user", s.UserID},
		{"status", string(s.Status)},
		{"phase", string(s.CurrentPhase)},
		{"transitioned", cli.FormatTime(s.PhaseTransitionAt)},
		{"chat tokens", fmt.Sprintf("%d in / %d out", s.ChatInputTokens, s.ChatOutputTokens)},
		{"chat cost", r.Cost(s.ChatCostCents)},
		{"iteration tokens", fmt.Sprintf("%d in / %d out", s.IterationInputTokens, s.IterationOutputTokens)},
		{"iteration cost", r.Cost(s.IterationCostCents)},
		{"refund", cli.FormatOptionalCents(s.RefundCents)},
		{"total charge", cli.FormatOptionalCents(s.TotalChargeCents)},
		{"finalized", cli.FormatTime(s.FinalizedAt)},
	})
}

func init() {
	sessionListCmd.Flags().StringVarP(&flagUser, "user", "u", "", "Owner user id")
	sessionListCmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "Maximum sessions to list")
	sessionCmd.AddCommand(sessionShowCmd, sessionListCmd)
}
