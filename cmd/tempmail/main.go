package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nhle/tempmail/internal/app"
	"github.com/nhle/tempmail/internal/model"
	appsync "github.com/nhle/tempmail/internal/sync"
)

type rootOptions struct {
	configPath string
	providerID string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "tempmail",
		Short:         "Terminal client for temporary mailboxes with live delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			p := tea.NewProgram(app.New(rt.session, rt.provider.Name), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", model.DefaultConfigPath(), "config file path")
	root.PersistentFlags().StringVar(&opts.providerID, "provider", "", "provider id (overrides config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newWatchCmd(opts),
		newCreateCmd(opts),
		newProvidersCmd(opts),
	)
	return root
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		address  string
		password string
		count    int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync the mailbox headless and print new messages as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			var acc model.Account
			if address != "" {
				acc, err = rt.session.Login(ctx, address, password)
			} else {
				acc, err = rt.session.Restore(ctx)
			}
			if errors.Is(err, app.ErrNoSession) {
				return fmt.Errorf("no stored account, pass --address and --password")
			}
			if err != nil {
				return err
			}

			out := newEventPrinter(cmd.OutOrStdout(), asJSON)
			out.info("watching %s on %s", acc.Address, rt.provider.Name)

			seen := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-rt.session.Events():
					switch ev := ev.(type) {
					case app.MessageEvent:
						out.message(ev.Message)
						seen++
						if count > 0 && seen >= count {
							return nil
						}
					case app.StateEvent:
						out.state(ev.State)
					case app.AuthExpiredEvent:
						return fmt.Errorf("session for %s expired: %w", ev.Account.Address, ev.Err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "sign in with this address instead of the stored account")
	cmd.Flags().StringVar(&password, "password", "", "password for --address")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many new messages (0 runs until interrupted)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per event")
	return cmd
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		username string
		domain   string
		password string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new mailbox and make it the current account",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if username == "" {
				username = "tm" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
			}
			generated := password == ""
			if generated {
				password = uuid.NewString()
			}

			acc, _, err := rt.auth.Create(cmd.Context(), username, domain, password)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "address:  %s\n", acc.Address)
			if generated {
				fmt.Fprintf(cmd.OutOrStdout(), "password: %s\n", password)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "local part of the address (random when empty)")
	cmd.Flags().StringVar(&domain, "domain", "", "domain (first active domain when empty)")
	cmd.Flags().StringVar(&password, "password", "", "password (generated and printed when empty)")
	return cmd
}

func newProvidersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the available mailbox providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tAPI\tHUB")
			for _, p := range cfg.Providers() {
				id := p.ID
				if id == cfg.ProviderID {
					id += " *"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, p.Name, p.BaseURL, p.MercureURL)
			}
			return tw.Flush()
		},
	}
}

// eventPrinter writes watch output as text lines or JSON objects.
type eventPrinter struct {
	w    io.Writer
	enc  *json.Encoder
	json bool
}

func newEventPrinter(w io.Writer, asJSON bool) *eventPrinter {
	return &eventPrinter{w: w, enc: json.NewEncoder(w), json: asJSON}
}

func (p *eventPrinter) info(format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *eventPrinter) message(m model.Message) {
	if p.json {
		_ = p.enc.Encode(map[string]any{"type": "message", "message": m})
		return
	}
	fmt.Fprintf(p.w, "new  %s  %s  %q\n", m.ID, m.From.String(), m.Subject)
}

func (p *eventPrinter) state(st appsync.State) {
	if p.json {
		_ = p.enc.Encode(map[string]any{"type": "state", "state": st.String()})
		return
	}
	fmt.Fprintf(p.w, "sync %s\n", st)
}
