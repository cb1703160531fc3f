package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/peerly/internal/messaging"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Messaging commands",
	}

	cmd.AddCommand(newMessageSendCmd())
	cmd.AddCommand(newInboxCmd())
	cmd.AddCommand(newConversationsCmd())
	cmd.AddCommand(newMessageThreadCmd())
	cmd.AddCommand(newMessageReadCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var (
		configPath     string
		from           string
		conversationID string
		body           string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message in a conversation",
		Long:  "Sends a message as a participant of a conversation. Open message streams receive it like any other send.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromConfig(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			msg, err := messaging.Send(cmd.Context(), a.store, a.log, conversationID, from, body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s in %s\n", msg.ID, conversationID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	cmd.Flags().StringVar(&from, "from", "", "sender user ID (required)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation ID (required)")
	cmd.Flags().StringVar(&body, "body", "", "message text (required)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("conversation")
	cmd.MarkFlagRequired("body")
	return cmd
}

func newInboxCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "View a user's unread messages",
		Long:  "Lists unread messages addressed to a user across all of their conversations, oldest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			msgs, err := messaging.Inbox(cmd.Context(), gormDB, user)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "No unread messages for %s\n", user)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCONVERSATION\tFROM\tCONTENT\tCREATED")
			for _, m := range msgs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					m.ID, m.ConversationID, m.SenderID, truncate(m.Content, 40),
					m.CreatedAt.Format("2006-01-02 15:04"))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	cmd.Flags().StringVar(&user, "user", "", "user ID to check (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newConversationsCmd() *cobra.Command {
	var (
		configPath string
		user       string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List a user's conversations",
		Long:  "Lists a user's conversations, most recently active first, with the other party and unread count.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromConfig(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := messaging.Conversations(cmd.Context(), a.store, user, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No conversations for %s\n", user)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWITH\tLISTING\tUNREAD\tUPDATED")
			for _, e := range entries {
				with, listing := "-", "-"
				if e.OtherParty != nil {
					with = e.OtherParty.FullName
				}
				if e.Listing != nil {
					listing = truncate(e.Listing.Title, 30)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					e.ID, with, listing, e.UnreadCount,
					e.UpdatedAt.Format("2006-01-02 15:04"))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum conversations to list")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newMessageThreadCmd() *cobra.Command {
	var (
		configPath string
		user       string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "thread <conversation-id>",
		Short: "View a conversation",
		Long:  "Displays the latest messages of a conversation as seen by one of its participants, oldest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromConfig(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			msgs, err := messaging.Thread(cmd.Context(), a.store, args[0], user, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "No messages in conversation %s\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FROM\tREAD\tCREATED\tCONTENT")
			for _, m := range msgs {
				from := m.SenderID
				if from == user {
					from = "you"
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n",
					from, m.IsRead, m.CreatedAt.Format("2006-01-02 15:04"), m.Content)
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	cmd.Flags().StringVar(&user, "user", "", "participant user ID (required)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum messages to show")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newMessageReadCmd() *cobra.Command {
	var (
		configPath string
		user       string
	)

	cmd := &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation read",
		Long:  "Marks every unread message from the other party in a conversation as read for a participant.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromConfig(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := messaging.MarkConversationRead(cmd.Context(), a.store, args[0], user, a.cfg.Messaging.HistoryLimit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d messages read\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to PeeRly config file")
	cmd.Flags().StringVar(&user, "user", "", "participant user ID (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
