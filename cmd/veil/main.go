package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/veilchat/veil-go/internal/api"
	"github.com/veilchat/veil-go/internal/chat"
	"github.com/veilchat/veil-go/internal/config"
	"github.com/veilchat/veil-go/internal/history"
	"github.com/veilchat/veil-go/internal/logger"
	"github.com/veilchat/veil-go/internal/reconciler"
	"github.com/veilchat/veil-go/internal/state"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	client := api.New(cfg.Backend)
	store := state.NewStore()

	ctx := context.Background()

	// Persistence mode is probed once at startup; local-only operation is the
	// fallback for a missing or broken history store.
	status := client.HistoryEnsure(ctx)
	store.Dispatch(state.SetDBStatus{Status: status})
	logger.L.Info("history backend probed", "available", status.Available, "status", status.Status)
	remote := status.Working()

	if info, err := client.GetUserInfo(ctx); err == nil && len(info) > 0 {
		store.Dispatch(state.SetLoggedIn{})
	}
	if menus, err := client.Menus(ctx); err == nil {
		store.Dispatch(state.SetMenus{Menus: menus})
	}

	adapter := history.New(status, client, store, cfg.History)
	restoreLocalHistory(ctx, adapter, store)

	reconcilers := map[chat.Family]*reconciler.Reconciler{
		chat.FamilyPrivate: reconciler.New(chat.FamilyPrivate, client, adapter, store),
		chat.FamilyPublic:  reconciler.New(chat.FamilyPublic, client, adapter, store),
	}
	for _, r := range reconcilers {
		r.OnDelta = deltaPrinter(os.Stdout)
	}

	family := chat.Family(cfg.Chat.Filter)
	if _, ok := reconcilers[family]; !ok {
		family = chat.FamilyPrivate
	}

	out := os.Stdout
	fmt.Fprintf(out, "veil (%s mode): /new /list /switch <id> /delete <id> /rename <title> /clear /purge /regenerate /stop /mode /upload <file> /quit\n", family)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r := reconcilers[family]
		switch {
		case line == "/quit":
			return
		case line == "/new":
			r.NewChat()
			fmt.Fprintln(out, "started a new conversation")
		case line == "/stop":
			r.Stop()
		case line == "/list":
			listConversations(ctx, out, client, store, family, remote)
		case strings.HasPrefix(line, "/switch "):
			switchConversation(ctx, out, client, store, family, argOf(line, "/switch "), remote)
		case strings.HasPrefix(line, "/delete "):
			deleteConversation(ctx, out, client, store, family, argOf(line, "/delete "), remote)
		case strings.HasPrefix(line, "/rename "):
			renameConversation(ctx, out, client, store, family, argOf(line, "/rename "), remote)
		case line == "/clear":
			clearConversation(ctx, out, client, store, family, remote)
		case line == "/purge":
			purgeHistory(ctx, out, client, store, remote)
		case line == "/regenerate":
			go func(r *reconciler.Reconciler) {
				if !r.Regenerate(ctx) {
					fmt.Fprintln(out, "nothing to regenerate")
				}
			}(r)
		case line == "/mode":
			if family == chat.FamilyPrivate {
				family = chat.FamilyPublic
			} else {
				family = chat.FamilyPrivate
			}
			fmt.Fprintf(out, "switched to %s mode\n", family)
		case strings.HasPrefix(line, "/upload "):
			uploadDocument(ctx, client, r, argOf(line, "/upload "))
		default:
			if store.Loading(family) {
				fmt.Fprintln(out, "a response is still streaming; /stop to abort it first")
				continue
			}
			convID := ""
			if cur := store.CurrentChat(family); cur != nil {
				convID = cur.ID
			}
			// Sending on a goroutine keeps the prompt responsive so /stop can
			// abort the in-flight request.
			go func(question, id string, r *reconciler.Reconciler) {
				r.Send(ctx, question, id)
				fmt.Fprintln(out)
			}(line, convID, r)
		}
	}
}

func argOf(line, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, prefix))
}

// deltaPrinter renders streamed turns: assistant text inline, tool turns as
// their citation titles, error turns on their own line.
func deltaPrinter(w io.Writer) func(chat.Message) {
	return func(m chat.Message) {
		switch m.Role {
		case chat.RoleAssistant:
			fmt.Fprint(w, m.Display())
		case chat.RoleTool:
			for _, c := range chat.ParseCitations(m) {
				fmt.Fprintf(w, "\n[citation] %s\n", c.Title)
			}
		case chat.RoleError:
			fmt.Fprintf(w, "\n[error] %s\n", m.Content)
		}
	}
}

// restoreLocalHistory repopulates the history lists from the sqlite snapshot
// when running in local mode. Remote mode hydrates lazily through /list.
func restoreLocalHistory(ctx context.Context, adapter history.Adapter, store *state.Store) {
	l, ok := adapter.(*history.Local)
	if !ok {
		return
	}
	for _, fam := range []chat.Family{chat.FamilyPrivate, chat.FamilyPublic} {
		convs, err := l.Load(ctx, fam)
		if err != nil {
			logger.L.Warn("could not restore local history", "family", fam, "error", err)
			continue
		}
		for _, c := range convs {
			store.Dispatch(state.UpsertChatHistory{Family: fam, Conversation: c})
		}
	}
}

// listConversations prints the stored conversation index. Remote mode fetches
// the index first and hydrates the history list with summary entries; their
// messages are loaded on switch.
func listConversations(ctx context.Context, w io.Writer, client *api.Client, store *state.Store, family chat.Family, remote bool) {
	if remote {
		summaries, err := client.HistoryList(ctx)
		if err != nil {
			logger.L.Error("history list failed", "error", err)
			fmt.Fprintln(w, "could not fetch the conversation list")
			return
		}
		for _, s := range summaries {
			if store.FindConversation(family, s.ID) == nil {
				store.Dispatch(state.UpsertChatHistory{Family: family, Conversation: &chat.Conversation{
					ID:    s.ID,
					Title: s.Title,
					Date:  s.Date,
				}})
			}
		}
	}
	convs := store.History(family)
	if len(convs) == 0 {
		fmt.Fprintln(w, "no conversations")
		return
	}
	for _, c := range convs {
		fmt.Fprintf(w, "%s  %s\n", c.ID, c.Title)
	}
}

func switchConversation(ctx context.Context, w io.Writer, client *api.Client, store *state.Store, family chat.Family, id string, remote bool) {
	conv := store.FindConversation(family, id)
	if conv == nil {
		fmt.Fprintln(w, "unknown conversation; try /list")
		return
	}
	if remote && len(conv.Messages) == 0 {
		msgs, err := client.HistoryRead(ctx, id)
		if err != nil {
			logger.L.Error("history read failed", "conversation", id, "error", err)
			fmt.Fprintln(w, "could not load the conversation")
			return
		}
		conv.Messages = msgs
	}
	store.Dispatch(state.UpdateCurrentChat{Family: family, Conversation: conv})
	fmt.Fprintf(w, "switched to %s\n", conv.Title)
}

func deleteConversation(ctx context.Context, w io.Writer, client *api.Client, store *state.Store, family chat.Family, id string, remote bool) {
	if remote {
		if err := client.HistoryDelete(ctx, id); err != nil {
			logger.L.Error("history delete failed", "conversation", id, "error", err)
			fmt.Fprintln(w, "could not delete the conversation")
			return
		}
	}
	store.Dispatch(state.DeleteChatEntry{Family: family, ID: id})
	fmt.Fprintln(w, "deleted")
}

func renameConversation(ctx context.Context, w io.Writer, client *api.Client, store *state.Store, family chat.Family, title string, remote bool) {
	conv := store.CurrentChat(family)
	if conv == nil {
		fmt.Fprintln(w, "no active conversation")
		return
	}
	if remote {
		if err := client.HistoryRename(ctx, conv.ID, title); err != nil {
			logger.L.Error("history rename failed", "conversation", conv.ID, "error", err)
			fmt.Fprintln(w, "could not rename the conversation")
			return
		}
	}
	conv.Title = title
	store.Dispatch(state.UpsertChatHistory{Family: family, Conversation: conv})
	fmt.Fprintf(w, "renamed to %s\n", title)
}

func clearConversation(ctx context.Context, w io.Writer, client *api.Client, store *state.Store, family chat.Family, remote bool) {
	conv := store.CurrentChat(family)
	if conv == nil {
		fmt.Fprintln(w, "no active conversation")
		return
	}
	if remote {
		if err := client.HistoryClear(ctx, conv.ID); err != nil {
			logger.L.Error("history clear failed", "conversation", conv.ID, "error", err)
			fmt.Fprintln(w, "could not clear the conversation")
			return
		}
	}
	store.Dispatch(state.ClearCurrentMessages{Family: family})
	fmt.Fprintln(w, "cleared")
}

func purgeHistory(ctx context.Context, w io.Writer, client *api.Client, store *state.Store, remote bool) {
	if remote {
		if err := client.HistoryDeleteAll(ctx); err != nil {
			logger.L.Error("history delete-all failed", "error", err)
			fmt.Fprintln(w, "could not purge the history")
			return
		}
	}
	for _, fam := range []chat.Family{chat.FamilyPrivate, chat.FamilyPublic} {
		store.Dispatch(state.DeleteChatHistory{Family: fam})
	}
	fmt.Fprintln(w, "history purged")
}

func uploadDocument(ctx context.Context, client *api.Client, r *reconciler.Reconciler, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("cannot open %s: %v\n", path, err)
		return
	}
	defer f.Close()
	res, err := client.UploadFile(ctx, filepath.Base(path), f, r.Family())
	if err != nil {
		logger.L.Error("upload failed", "file", path, "error", err)
		fmt.Println("upload failed")
		return
	}
	if res.Invalid != "" {
		fmt.Printf("upload rejected: %s\n", res.Invalid)
		return
	}
	r.SeedDocument(res.Text, res.FileName, res.IdentifiedTokens)
	fmt.Printf("now chatting over %s\n", res.FileName)
}
