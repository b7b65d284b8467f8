package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/comigor/chatsync-go/internal/api"
	"github.com/comigor/chatsync-go/internal/attachment"
	"github.com/comigor/chatsync-go/internal/chat"
	"github.com/comigor/chatsync-go/internal/chatsync"
	"github.com/comigor/chatsync-go/internal/config"
	"github.com/comigor/chatsync-go/internal/logger"
	"github.com/comigor/chatsync-go/internal/transport"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive conversation",
	Long: `Mounts the configured conversation and reads messages from the prompt.

  /attach <path>  stage a pdf, png or jpeg (up to 5 MiB) for the next message
  /clear          drop the staged attachment
  /quit           leave`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "/quit",
		})
		if err != nil {
			return err
		}
		defer rl.Close()

		v := newView(rl.Stdout())
		core, err := newCore(cfg, v.hooks())
		if err != nil {
			return err
		}
		defer core.Close()

		key := chat.ConversationKey{Group: cfg.Group, SubGroup: cfg.SubGroup}
		if err := core.Mount(key, cfg.Credential); err != nil {
			return err
		}
		p := &prompt{core: core, out: rl.Stdout()}
		p.slot.OnPreview = func(name, dataURL string) {
			v.printf("  [preview of %s ready, %d bytes]\n", name, len(dataURL))
		}
		return repl(cmd.Context(), rl, p)
	},
}

func newCore(cfg *config.Config, hooks chatsync.Hooks) (*chatsync.Core, error) {
	client := api.NewClient(cfg.History.BaseURL, cfg.Transport.BaseURL, cfg.Credential, cfg.History.Timeout)
	return chatsync.New(chatsync.Options{
		Transport: transport.NewFactory(transport.Kind(cfg.Transport.Kind), cfg.Transport.BaseURL, cfg.Transport.Path),
		Backend: func(credential string) chatsync.Backend {
			return client.WithCredential(credential)
		},
		HTTPFallback:   cfg.Sync.HTTPFallback,
		Policy:         chatsync.ReconcilePolicy(cfg.Sync.Reconcile),
		StoreDriver:    cfg.Store.Driver,
		RequestTimeout: cfg.History.Timeout,
		Hooks:          hooks,
	})
}

type lineReader interface {
	Readline() (string, error)
}

func repl(ctx context.Context, rl lineReader, p *prompt) error {
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		if quit := p.handle(ctx, line); quit {
			return nil
		}
	}
}

// submitter is the part of the core the prompt drives.
type submitter interface {
	Submit(ctx context.Context, text string, file *attachment.File) (chat.Message, error)
}

// prompt turns input lines into commands and submissions. It owns the attachment slot.
type prompt struct {
	core submitter
	out  io.Writer
	slot attachment.Slot
}

func (p *prompt) handle(ctx context.Context, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "/quit":
		return true
	case "/clear":
		p.slot.Clear()
		fmt.Fprintln(p.out, "attachment cleared")
		return false
	case "/attach":
		p.attach(strings.TrimSpace(arg))
		return false
	}

	if err := p.slot.Err(); err != nil {
		fmt.Fprintf(p.out, "! %v (use /clear)\n", err)
		return false
	}
	file, _ := p.slot.File()
	_, err := p.core.Submit(ctx, line, file)
	switch {
	case errors.Is(err, chatsync.ErrEmptyDraft):
	case errors.Is(err, attachment.ErrRejected):
		fmt.Fprintf(p.out, "! %v\n", err)
	case errors.Is(err, chatsync.ErrSendFailed):
		// already reported through OnError; the draft is considered sent
		p.slot.Clear()
	case err != nil:
		fmt.Fprintf(p.out, "! %v\n", err)
	default:
		p.slot.Clear()
	}
	return false
}

func (p *prompt) attach(path string) {
	if path == "" {
		fmt.Fprintln(p.out, "usage: /attach <path>")
		return
	}
	f, err := attachment.FromPath(path)
	if err != nil {
		fmt.Fprintf(p.out, "! %v\n", err)
		return
	}
	if err := p.slot.Attach(f); err != nil {
		logger.L.Debug("attachment rejected", "path", path, "error", err)
		fmt.Fprintf(p.out, "! %v\n", err)
		return
	}
	fmt.Fprintf(p.out, "attached %s (%s, %d bytes)\n", f.Name, f.Type, f.Size)
}
