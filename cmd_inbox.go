package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/koresolucoes/pontog-sub001/crypto"
	"github.com/koresolucoes/pontog-sub001/storage"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List conversations, most recent first, with unread counts",
	Args:  cobra.NoArgs,
	RunE:  runInbox,
}

var historyCmd = &cobra.Command{
	Use:   "history <peer-id>",
	Short: "Print the messages exchanged with a peer without opening the conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the local identity",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func runInbox(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summaries, err := a.store.ListConversations(ctx, a.cfg.UserID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPEER\tUNREAD\tLAST MESSAGE")
	for _, summary := range summaries {
		if err := a.unread.Set(ctx, summary.Conversation.ID, summary.UnreadCount); err != nil {
			return fmt.Errorf("update unread counter: %w", err)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", summary.Conversation.ID, summary.Peer, summary.UnreadCount, lastLine(summary))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	total, err := a.unread.Total(ctx)
	if err != nil {
		return fmt.Errorf("read unread total: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d conversations, %d unread\n", len(summaries), total)
	return nil
}

func lastLine(summary storage.ConversationSummary) string {
	if summary.LastMessage == nil {
		return "-"
	}
	preview := summary.LastMessage.Body().Preview()
	if preview == "" && summary.LastMessage.HasImage() {
		preview = "[image]"
	}
	return preview
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	peerID := strings.TrimSpace(args[0])
	conversationID, err := findConversation(ctx, a.store, a.cfg.UserID, peerID)
	if err != nil {
		return err
	}

	messages, err := a.store.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}

	view := newTranscript(cmd.OutOrStdout(), a.cfg.UserID)
	view.Reset(peerID)
	for _, message := range messages {
		fmt.Fprintln(cmd.OutOrStdout(), view.format(message))
	}
	return nil
}

func findConversation(ctx context.Context, store *storage.Store, userID, peerID string) (int64, error) {
	summaries, err := store.ListConversations(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, summary := range summaries {
		if summary.Peer == peerID {
			return summary.Conversation.ID, nil
		}
	}
	return 0, fmt.Errorf("no conversation with %s", peerID)
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User ID:         %s\n", a.cfg.UserID)
	fmt.Fprintf(out, "Display Name:    %s\n", a.cfg.DisplayName)
	fmt.Fprintf(out, "Fingerprint:     %s\n", crypto.FormatFingerprint(crypto.Fingerprint(a.keys.Public)))
	fmt.Fprintf(out, "Feed:            %s\n", a.cfg.Feed)
	fmt.Fprintf(out, "Config File:     %s\n", a.cfgPath)
	fmt.Fprintf(out, "Data Directory:  %s\n", a.dataDir)
	return nil
}
