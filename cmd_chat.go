package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koresolucoes/pontog-sub001/chat"
	"github.com/koresolucoes/pontog-sub001/models"
)

var chatCmd = &cobra.Command{
	Use:   "chat <peer-id>",
	Short: "Open an interactive conversation with a peer",
	Long: `Open the conversation with a peer and follow it live.

Plain lines are sent as messages. Commands:
  /edit <id> <text>      edit one of your text messages
  /delete <id>           delete one of your messages (asks for /confirm)
  /delete-conversation   delete the whole conversation (asks for /confirm)
  /confirm               confirm the pending delete
  /cancel                leave edit mode and drop pending deletes
  /image <ref> [caption] send an image reference
  /location              share the configured location
  /album <id> [name]     grant access to a private album and share it
  /open <peer-id>        switch to another conversation
  /quit                  leave`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	view := newTranscript(out, a.cfg.UserID)

	base := chat.Options{
		LocalUserID: a.cfg.UserID,
		Backend:     a.store,
		Unread:      a.unread,
		Albums:      a.store.NewAlbumGrants(a.cfg.UserID, a.keys),
		Locator:     a.cfg.Locator(),
		Logger:      a.log.Named("chat"),
		Metrics:     a.metrics,
		OnChange:    view.Render,
		OnConversationDeleted: func(conversationID int64) {
			fmt.Fprintf(out, "conversation %d deleted\n", conversationID)
		},
	}
	if a.push != nil {
		base.Notifier = a.push
	}

	window := chat.NewWindow(base)
	defer window.Close()

	if err := openPeer(ctx, window, view, args[0]); err != nil {
		return err
	}

	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, window, view, line)
			if err != nil {
				fmt.Fprintln(out, "!", describe(err))
			}
			if quit {
				return nil
			}
		}
	}
}

func openPeer(ctx context.Context, window *chat.Window, view *transcript, peerID string) error {
	window.Close()
	view.Reset(peerID)
	session, err := window.Show(ctx, peerID)
	if err != nil {
		return err
	}
	fmt.Fprintf(view.out, "conversation %d with %s\n", session.ConversationID(), peerID)
	return nil
}

func handleLine(ctx context.Context, window *chat.Window, view *transcript, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	if command == "/quit" {
		return true, nil
	}
	if command == "/open" {
		if rest == "" {
			return false, errors.New("usage: /open <peer-id>")
		}
		return false, openPeer(ctx, window, view, rest)
	}

	session := window.Current()
	if session == nil {
		return false, errors.New("no open conversation, use /open <peer-id>")
	}

	switch command {
	case "/edit":
		idText, text, _ := strings.Cut(rest, " ")
		id, err := parseID(idText)
		if err != nil {
			return false, err
		}
		if err := session.BeginEdit(id); err != nil {
			return false, err
		}
		return false, session.SubmitEdit(ctx, text)
	case "/delete":
		id, err := parseID(rest)
		if err != nil {
			return false, err
		}
		if err := session.RequestDelete(id); err != nil {
			return false, err
		}
		fmt.Fprintf(view.out, "delete message %d? /confirm or /cancel\n", id)
		return false, nil
	case "/delete-conversation":
		if err := session.RequestConversationDelete(); err != nil {
			return false, err
		}
		fmt.Fprintln(view.out, "delete the whole conversation? /confirm or /cancel")
		return false, nil
	case "/confirm":
		if session.State().ConversationDeletePending {
			return false, session.ConfirmConversationDelete(ctx)
		}
		return false, session.ConfirmDelete(ctx)
	case "/cancel":
		session.CancelEdit()
		session.CancelDelete()
		session.CancelConversationDelete()
		return false, nil
	case "/image":
		ref, caption, _ := strings.Cut(rest, " ")
		return false, session.Send(ctx, caption, ref)
	case "/location":
		return false, session.ShareLocation(ctx)
	case "/album":
		albumID, name, _ := strings.Cut(rest, " ")
		return false, session.ShareAlbum(ctx, albumID, name)
	}

	if strings.HasPrefix(command, "/") {
		return false, fmt.Errorf("unknown command %s", command)
	}
	return false, session.Send(ctx, line, "")
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid message id %q", raw)
	}
	return id, nil
}

// describe maps session errors to short user-facing text.
func describe(err error) string {
	var (
		setup    *chat.SetupError
		mutation *chat.MutationError
	)
	switch {
	case errors.As(err, &setup):
		return fmt.Sprintf("could not open the conversation (%s): %v", setup.Stage, setup.Err)
	case errors.As(err, &mutation):
		return fmt.Sprintf("%s failed: %v", mutation.Op, mutation.Err)
	case errors.Is(err, chat.ErrNotEditable):
		return "only your own text messages can be edited"
	case errors.Is(err, chat.ErrNotDeletable):
		return "only your own messages can be deleted, shares excepted"
	case errors.Is(err, chat.ErrUnavailable):
		return "not available in this client"
	default:
		return err.Error()
	}
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// transcript prints new, changed and removed messages as session state evolves.
type transcript struct {
	out     io.Writer
	localID string

	mu    sync.Mutex
	peer  string
	shown map[int64]string
	ended bool
}

func newTranscript(out io.Writer, localID string) *transcript {
	return &transcript{out: out, localID: localID, shown: make(map[int64]string)}
}

// Reset forgets what was printed, before switching conversations.
func (t *transcript) Reset(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peer = peer
	t.shown = make(map[int64]string)
	t.ended = false
}

// Render is the session change callback.
func (t *transcript) Render(state chat.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	present := make(map[int64]struct{}, len(state.Messages))
	for _, message := range state.Messages {
		present[message.ID] = struct{}{}
		line := t.format(message)
		previous, seen := t.shown[message.ID]
		if seen && previous == line {
			continue
		}
		t.shown[message.ID] = line
		fmt.Fprintln(t.out, line)
	}
	for id := range t.shown {
		if _, ok := present[id]; !ok {
			delete(t.shown, id)
			fmt.Fprintf(t.out, "[%d] deleted\n", id)
		}
	}

	if state.FeedClosed && !t.ended {
		t.ended = true
		fmt.Fprintf(t.out, "%s closed the conversation\n", t.peer)
	}
}

func (t *transcript) format(message models.Message) string {
	author := "you"
	if message.SenderID != t.localID {
		author = t.peer
	}

	var parts []string
	body := message.Body()
	switch body.Kind {
	case models.KindLocation:
		parts = append(parts, fmt.Sprintf("📍 %.5f, %.5f", body.Location.Latitude, body.Location.Longitude))
	case models.KindAlbumShare:
		parts = append(parts, body.Preview())
	default:
		if body.Text != "" {
			parts = append(parts, body.Text)
		}
	}
	if message.HasImage() {
		parts = append(parts, "[image "+*message.ImageRef+"]")
	}
	if message.UpdatedAt != nil {
		parts = append(parts, "(edited)")
	}
	if message.SenderID == t.localID && message.IsRead() {
		parts = append(parts, "✓✓")
	}
	return fmt.Sprintf("[%d] %s: %s", message.ID, author, strings.Join(parts, " "))
}
